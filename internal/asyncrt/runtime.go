// Package asyncrt holds the process-wide asynchronous I/O runtime used by the
// evaluator's network-fetch built-ins.
//
// The runtime is created once, on first use, and lives until the process
// exits. Each bridge call enters it, which makes it reachable from the call's
// context for the duration of that call.
package asyncrt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/semaphore"
)

var log = commonlog.GetLogger("chainql.runtime")

// Config sizes the runtime.
type Config struct {
	// MaxConcurrentFetches bounds in-flight fetches across all calls.
	MaxConcurrentFetches int64
	// FetchTimeout bounds a single fetch. Zero means no timeout.
	FetchTimeout time.Duration
	UserAgent    string
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFetches: 8,
		FetchTimeout:         30 * time.Second,
		UserAgent:            "chainql",
	}
}

// Runtime runs fetches on its own goroutines, bounded by a semaphore.
type Runtime struct {
	cfg    Config
	client *http.Client
	dialer *websocket.Dialer
	sem    *semaphore.Weighted

	inflight atomic.Int64
	scopes   atomic.Int64
	closed   atomic.Bool
}

var (
	initOnce sync.Once
	global   *Runtime
	initErr  error
)

// EnsureInitialized creates the process-wide runtime on the first call. Later
// calls return the outcome of the first one, including its error; a failed
// initialization is not retried.
func EnsureInitialized(cfg Config) error {
	initOnce.Do(func() {
		global, initErr = newRuntime(cfg)
		if initErr != nil {
			log.Errorf("runtime initialization failed: %s", initErr)
			return
		}
		log.Infof("runtime initialized (max concurrent fetches %d)", cfg.MaxConcurrentFetches)
	})
	return initErr
}

// Current returns the process-wide runtime, or an error if it has not been
// initialized successfully.
func Current() (*Runtime, error) {
	if err := EnsureInitialized(DefaultConfig()); err != nil {
		return nil, err
	}
	return global, nil
}

func newRuntime(cfg Config) (*Runtime, error) {
	if cfg.MaxConcurrentFetches <= 0 {
		return nil, fmt.Errorf("asyncrt: max concurrent fetches must be positive, got %d", cfg.MaxConcurrentFetches)
	}
	if cfg.FetchTimeout < 0 {
		return nil, fmt.Errorf("asyncrt: negative fetch timeout %s", cfg.FetchTimeout)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = int(cfg.MaxConcurrentFetches)
	return &Runtime{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		sem: semaphore.NewWeighted(cfg.MaxConcurrentFetches),
	}, nil
}

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() Config { return r.cfg }

// Inflight returns the number of fetches currently running.
func (r *Runtime) Inflight() int64 { return r.inflight.Load() }

// Scopes returns the number of calls currently inside the runtime.
func (r *Runtime) Scopes() int64 { return r.scopes.Load() }

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

type ctxKey struct{}

// Scope marks one call's use of the runtime. Close ends it.
type Scope struct {
	rt     *Runtime
	closed atomic.Bool
}

// Enter returns a context carrying r and the scope token for it.
func (r *Runtime) Enter(ctx context.Context) (context.Context, *Scope) {
	r.scopes.Add(1)
	return context.WithValue(ctx, ctxKey{}, r), &Scope{rt: r}
}

// Close leaves the runtime. Closing twice is a no-op.
func (s *Scope) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.rt.scopes.Add(-1)
	}
}

// FromContext returns the runtime entered for ctx.
func FromContext(ctx context.Context) (*Runtime, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Runtime)
	return r, ok
}

// ---------------------------------------------------------------------------
// Task submission
// ---------------------------------------------------------------------------

type result struct {
	data []byte
	err  error
}

// ErrShutdown is returned for work submitted after Shutdown.
var ErrShutdown = errors.New("asyncrt: runtime shut down")

// Do runs task on a runtime goroutine and waits for it, or for ctx to end.
// When ctx ends first the task's context is cancelled and its result dropped.
func (r *Runtime) Do(ctx context.Context, task func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrShutdown
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, context.Cause(ctx)
	}

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if r.cfg.FetchTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, r.cfg.FetchTimeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}

	done := make(chan result, 1)
	r.inflight.Add(1)
	go func() {
		defer r.sem.Release(1)
		defer r.inflight.Add(-1)
		defer cancel()
		data, err := task(taskCtx)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Shutdown closes idle connections and rejects further work. The runtime is
// otherwise never torn down; this exists for orderly test teardown.
func (r *Runtime) Shutdown() {
	r.closed.Store(true)
	r.client.CloseIdleConnections()
}
