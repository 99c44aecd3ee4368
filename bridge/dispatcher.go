// Package bridge runs evaluator calls safely from a Go host.
//
// Evaluator values are not safe for concurrent use, so every call is handed
// to a fresh worker goroutine locked to its own OS thread, and calls are
// serialized process-wide. While the worker runs, the calling goroutine polls
// for completion and for host interrupts, and SIGINT is routed to the
// cancellation notifier.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/chainql/eval"
	"github.com/chazu/chainql/internal/asyncrt"
)

// CallRequest is one unit of evaluator work. It runs on the worker and may
// touch evaluator values freely; whatever it returns must be safe to hand
// back to the calling goroutine.
type CallRequest func(ctx context.Context) (any, error)

// State is the lifecycle position of a call.
type State int

const (
	Idle State = iota
	Dispatched
	Running
	Completed
	Returned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Returned:
		return "returned"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CallRecord summarizes a finished call.
type CallRecord struct {
	ID       uuid.UUID
	Label    string
	Args     map[string]any
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Observer is told about call progress. Methods may be called from the
// worker goroutine and must not block or touch evaluator values.
type Observer interface {
	StateChanged(id uuid.UUID, s State)
	CallFinished(rec CallRecord)
}

// DefaultPollInterval is how long the calling goroutine waits between
// completion checks.
const DefaultPollInterval = 5 * time.Millisecond

// callMu serializes calls across every Dispatcher in the process.
var callMu sync.Mutex

// Dispatcher executes CallRequests against one Evaluator.
type Dispatcher struct {
	evaluator    eval.Evaluator
	pollInterval time.Duration
	hostCheck    func() error
	observers    []Observer
	gagStdio     bool
	rtConfig     asyncrt.Config
	signals      signalInstaller
	runtime      func() (*asyncrt.Runtime, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets the wait between completion checks.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.pollInterval = d
		}
	}
}

// WithHostCheck installs a hook run on every poll iteration. A non-nil error
// means the host saw an interrupt: the call is cancelled cooperatively and
// reported as Interrupted once the worker stops.
func WithHostCheck(check func() error) Option {
	return func(d *Dispatcher) { d.hostCheck = check }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithGagStdio also discards process stdout/stderr during calls while logs
// are disabled.
func WithGagStdio(gag bool) Option {
	return func(d *Dispatcher) { d.gagStdio = gag }
}

// WithRuntimeConfig sets the configuration used if this dispatcher is the
// first to initialize the async runtime.
func WithRuntimeConfig(cfg asyncrt.Config) Option {
	return func(d *Dispatcher) { d.rtConfig = cfg }
}

// New creates a Dispatcher for ev. ev may be nil if only Execute is used.
func New(ev eval.Evaluator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		evaluator:    ev,
		pollInterval: DefaultPollInterval,
		rtConfig:     asyncrt.DefaultConfig(),
		signals:      processSignals,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runtime == nil {
		cfg := d.rtConfig
		d.runtime = func() (*asyncrt.Runtime, error) {
			if err := asyncrt.EnsureInitialized(cfg); err != nil {
				return nil, err
			}
			return asyncrt.Current()
		}
	}
	return d
}

// Evaluator returns the evaluator the dispatcher drives.
func (d *Dispatcher) Evaluator() eval.Evaluator {
	return d.evaluator
}

// Execute runs req on a dedicated worker and returns its result. Calls are
// serialized process-wide; concurrent callers wait their turn.
func (d *Dispatcher) Execute(ctx context.Context, req CallRequest) (any, error) {
	return d.execute(ctx, "", nil, req)
}

// Call is Execute with a typed result.
func Call[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	return call(ctx, d, "", nil, fn)
}

// call is Call with a label and arguments for observers.
func call[T any](ctx context.Context, d *Dispatcher, label string, args map[string]any, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := d.execute(ctx, label, args, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// Evaluate evaluates expr with args marshaled into the evaluator and returns
// the marshaled result.
func (d *Dispatcher) Evaluate(ctx context.Context, expr string, args map[string]any) (any, error) {
	if d.evaluator == nil {
		return nil, newError(SetupFault, "dispatcher has no evaluator")
	}
	return d.execute(ctx, expr, args, func(ctx context.Context) (any, error) {
		evArgs, err := argsToEvaluator(args)
		if err != nil {
			return nil, err
		}
		v, err := d.evaluator.Evaluate(ctx, expr, evArgs)
		if err != nil {
			return nil, err
		}
		return ToHost(d, v)
	})
}

// workerKey marks contexts handed to a CallRequest.
type workerKey struct{}

// onWorker reports whether ctx belongs to a request running on a worker.
func onWorker(ctx context.Context) bool {
	return ctx.Value(workerKey{}) != nil
}

func (d *Dispatcher) execute(ctx context.Context, label string, args map[string]any, req CallRequest) (any, error) {
	// A request that re-enters (an adapter read inside Execute) already owns
	// the call lock and the worker thread, so it runs inline. Its ctx must not
	// leave the worker goroutine.
	if onWorker(ctx) {
		value, err := req(ctx)
		if err != nil {
			return nil, evalError(err)
		}
		return value, nil
	}

	id := uuid.New()

	callMu.Lock()
	defer callMu.Unlock()

	started := time.Now()
	d.setState(id, Idle)
	value, err := d.run(ctx, id, req)
	d.setState(id, Returned)

	rec := CallRecord{ID: id, Label: label, Args: args, Started: started, Duration: time.Since(started), Err: err}
	for _, o := range d.observers {
		o.CallFinished(rec)
	}
	if err != nil {
		log.Debugf("call %s failed after %s: %s", id, rec.Duration, err)
	}
	return value, err
}

// run holds the per-call resources. Every deferred release runs on every
// exit path, including a worker fault.
func (d *Dispatcher) run(ctx context.Context, id uuid.UUID, req CallRequest) (any, error) {
	notifier := Notifier()

	// A permit present before the guard is installed was left by an
	// interrupt that arrived after the previous call finished; it does not
	// belong to this call. Anything raised from here on does.
	if notifier.drain() {
		log.Debug("discarding interrupt left over from the previous call")
	}

	guard, err := installGuard(d.signals, notifier)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rt, err := d.runtime()
	if err != nil {
		return nil, &Error{Kind: SetupFault, Msg: "initializing async runtime: " + err.Error(), Err: err}
	}
	callCtx, scope := rt.Enter(ctx)
	defer scope.Close()

	if !LogsEnabled() {
		restore, err := suppressLogs(d.gagStdio)
		if err != nil {
			return nil, &Error{Kind: SetupFault, Msg: "suppressing evaluator output: " + err.Error(), Err: err}
		}
		defer restore()
	}

	callCtx, cancel := context.WithCancelCause(callCtx)
	defer cancel(nil)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-notifier.C():
			log.Info("interrupt received, cancelling evaluation")
			cancel(eval.ErrCancelled)
		case <-watchDone:
		}
	}()

	d.setState(id, Dispatched)
	out := d.dispatch(callCtx, cancel, id, req)
	d.setState(id, Completed)

	if out.err == nil {
		return out.value, nil
	}
	if errors.Is(context.Cause(callCtx), eval.ErrCancelled) && KindOf(out.err) != WorkerFault {
		return nil, interruptedError(out.err)
	}
	return nil, evalError(out.err)
}

type outcome struct {
	value any
	err   error
}

// dispatch moves req to a new worker and polls until it reports back. The
// request is handed over through a one-shot channel and the origin keeps no
// reference to it.
func (d *Dispatcher) dispatch(ctx context.Context, cancel context.CancelCauseFunc, id uuid.UUID, req CallRequest) outcome {
	handoff := make(chan CallRequest, 1)
	done := make(chan outcome, 1)
	handoff <- req
	req = nil

	go d.work(ctx, id, handoff, done)
	return d.poll(cancel, done)
}

// work is the worker body. The goroutine stays locked to its OS thread, so
// the thread is discarded when the call ends.
func (d *Dispatcher) work(ctx context.Context, id uuid.UUID, handoff <-chan CallRequest, done chan<- outcome) {
	runtime.LockOSThread()
	req := <-handoff
	ctx = context.WithValue(ctx, workerKey{}, id)
	d.setState(id, Running)

	var out outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				fault := &Error{Kind: WorkerFault, Msg: fmt.Sprintf("%v\n%s", r, debug.Stack())}
				if err, ok := r.(error); ok {
					fault.Err = err
				}
				out = outcome{err: fault}
				log.Errorf("worker panic: %v", r)
			}
		}()
		value, err := req(ctx)
		out = outcome{value: value, err: err}
	}()
	done <- out
}

// poll waits for the worker without blocking indefinitely, so host interrupt
// checks keep running while the call is in flight.
func (d *Dispatcher) poll(cancel context.CancelCauseFunc, done <-chan outcome) outcome {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	interrupted := false
	for {
		if !interrupted && d.hostCheck != nil {
			if err := d.hostCheck(); err != nil {
				interrupted = true
				log.Infof("host interrupt: %s", err)
				cancel(eval.ErrCancelled)
			}
		}
		select {
		case out := <-done:
			return out
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) setState(id uuid.UUID, s State) {
	for _, o := range d.observers {
		o.StateChanged(id, s)
	}
}
