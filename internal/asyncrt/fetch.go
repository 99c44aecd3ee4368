package asyncrt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// maxBodyBytes caps a single fetched document.
const maxBodyBytes = 64 << 20

// Fetch retrieves the document at rawURL. http(s) URLs are fetched with GET;
// ws(s) URLs are dialed and the first text message is returned.
func (r *Runtime) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return r.Request(ctx, rawURL, nil)
}

// Request is Fetch with a request body. For http(s) a non-nil body turns the
// request into a POST; for ws(s) the body is written as one text message
// before the reply is read.
func (r *Runtime) Request(ctx context.Context, rawURL string, body []byte) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("asyncrt: bad url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return r.Do(ctx, func(ctx context.Context) ([]byte, error) {
			return r.httpRequest(ctx, u.String(), body)
		})
	case "ws", "wss":
		return r.Do(ctx, func(ctx context.Context) ([]byte, error) {
			return r.wsRequest(ctx, u.String(), body)
		})
	default:
		return nil, fmt.Errorf("asyncrt: unsupported scheme %q", u.Scheme)
	}
}

func (r *Runtime) httpRequest(ctx context.Context, target string, body []byte) ([]byte, error) {
	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debugf("fetch %s %s", method, target)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch %s: status %s", target, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: reading body: %w", target, err)
	}
	return data, nil
}

func (r *Runtime) wsRequest(ctx context.Context, target string, body []byte) ([]byte, error) {
	header := http.Header{}
	if r.cfg.UserAgent != "" {
		header.Set("User-Agent", r.cfg.UserAgent)
	}

	log.Debugf("fetch ws %s", target)
	conn, _, err := r.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	// Unblock the read below when the call is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if body != nil {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return nil, fmt.Errorf("write %s: %w", target, err)
		}
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}
