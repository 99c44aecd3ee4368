// Package server exposes an evaluator over Connect so that hosts in other
// processes can evaluate expressions and walk the lazy results by handle.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/chainql/bridge"
)

var log = commonlog.GetLogger("chainql.server")

// BridgeServer serves a BridgeService over HTTP (Connect and gRPC-Web
// protocols, JSON or binary).
type BridgeServer struct {
	service  *BridgeService
	handles  *HandleStore
	sessions *SessionStore
	mux      *http.ServeMux
	http     *http.Server

	stopSweeper func()
}

// ServerOption configures a BridgeServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	handleTTL     time.Duration
	sweepInterval time.Duration
	interceptors  []connect.Interceptor
}

// WithHandleTTL sets how long an unused handle is kept and how often
// expired handles are swept.
func WithHandleTTL(ttl, sweepInterval time.Duration) ServerOption {
	return func(c *serverConfig) {
		if ttl > 0 {
			c.handleTTL = ttl
		}
		if sweepInterval > 0 {
			c.sweepInterval = sweepInterval
		}
	}
}

// WithInterceptors adds Connect interceptors to every procedure.
func WithInterceptors(interceptors ...connect.Interceptor) ServerOption {
	return func(c *serverConfig) { c.interceptors = append(c.interceptors, interceptors...) }
}

// New creates a BridgeServer driving the given dispatcher.
func New(disp *bridge.Dispatcher, opts ...ServerOption) *BridgeServer {
	cfg := &serverConfig{
		handleTTL:     30 * time.Minute,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handles := NewHandleStore()
	sessions := NewSessionStore(handles)
	svc := NewBridgeService(disp, handles, sessions)

	s := &BridgeServer{
		service:  svc,
		handles:  handles,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}
	s.http = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	handlerOpts := []connect.HandlerOption{
		connect.WithInterceptors(append([]connect.Interceptor{loggingInterceptor()}, cfg.interceptors...)...),
	}
	s.mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, svc.Evaluate, handlerOpts...))
	s.mux.Handle(LookupProcedure, connect.NewUnaryHandler(LookupProcedure, svc.Lookup, handlerOpts...))
	s.mux.Handle(KeysProcedure, connect.NewUnaryHandler(KeysProcedure, svc.Keys, handlerOpts...))
	s.mux.Handle(CallProcedure, connect.NewUnaryHandler(CallProcedure, svc.Call, handlerOpts...))
	s.mux.Handle(ManifestProcedure, connect.NewUnaryHandler(ManifestProcedure, svc.Manifest, handlerOpts...))
	s.mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, svc.Release, handlerOpts...))
	s.mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, handlerOpts...))
	s.mux.Handle(DestroySessionProcedure, connect.NewUnaryHandler(DestroySessionProcedure, svc.DestroySession, handlerOpts...))

	s.stopSweeper = handles.StartSweeper(cfg.sweepInterval, cfg.handleTTL)

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *BridgeServer) Handler() http.Handler {
	return s.mux
}

// Handles returns the server's handle store.
func (s *BridgeServer) Handles() *HandleStore {
	return s.handles
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *BridgeServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *BridgeServer) Serve(ln net.Listener) error {
	log.Noticef("chainql bridge server listening on %s", ln.Addr())
	log.Infof("  Connect (HTTP/JSON): http://%s%s", ln.Addr(), EvaluateProcedure)
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the server.
func (s *BridgeServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Warningf("shutdown: %s", err)
	}
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			if err != nil {
				log.Debugf("%s failed after %s: %s", req.Spec().Procedure, time.Since(start), err)
			} else {
				log.Debugf("%s took %s", req.Spec().Procedure, time.Since(start))
			}
			return res, err
		}
	}
}
