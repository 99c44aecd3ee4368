package bridge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/chainql/eval"
)

// testEvaluator answers a fixed set of expressions with in-memory values.
type testEvaluator struct{}

func (testEvaluator) Evaluate(ctx context.Context, expr string, args map[string]eval.Value) (eval.Value, error) {
	if err := eval.Checkpoint(ctx); err != nil {
		return nil, err
	}
	switch expr {
	case "null":
		return eval.Null{}, nil
	case "obj":
		return eval.NewObjectBuilder(3).
			Field("a", eval.Number(1)).
			Field("b", eval.Number(2)).
			Hidden("_h", eval.String("secret")).
			Build(), nil
	case "arr":
		return eval.NewArray(eval.Number(1), eval.String("two"), eval.NewArray(eval.Bool(true))), nil
	case "add":
		return eval.NewFunction("add", []string{"a", "b"}, func(ctx context.Context, args []eval.Value) (eval.Value, error) {
			a, ok1 := args[0].(eval.Number)
			b, ok2 := args[1].(eval.Number)
			if !ok1 || !ok2 {
				return nil, eval.Errorf("add expects numbers")
			}
			return a + b, nil
		}), nil
	case "echo":
		v, ok := args["x"]
		if !ok {
			return nil, eval.Errorf("variable is not defined: x")
		}
		return v, nil
	case "slow":
		for {
			if err := eval.Checkpoint(ctx); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	case "fail":
		return nil, eval.Errorf("field not found: nope")
	case "panic":
		panic("boom")
	}
	return nil, eval.Errorf("unknown expression %q", expr)
}

func newTestDispatcher(opts ...Option) *Dispatcher {
	return New(testEvaluator{}, opts...)
}

// stateRecorder collects observer callbacks.
type stateRecorder struct {
	mu       sync.Mutex
	states   map[uuid.UUID][]State
	finished []CallRecord
	onState  func(State)
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{states: make(map[uuid.UUID][]State)}
}

func (r *stateRecorder) StateChanged(id uuid.UUID, s State) {
	r.mu.Lock()
	r.states[id] = append(r.states[id], s)
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

func (r *stateRecorder) CallFinished(rec CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, rec)
}

func (r *stateRecorder) lastRecord() CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.finished) == 0 {
		return CallRecord{}
	}
	return r.finished[len(r.finished)-1]
}

// failingSignals refuses to install a handler.
type failingSignals struct{}

func (failingSignals) Install(chan<- os.Signal) (HandlerSnapshot, error) {
	return HandlerSnapshot{}, fmt.Errorf("sigaction: operation not permitted")
}
func (failingSignals) Restore(chan<- os.Signal, HandlerSnapshot) {}
func (failingSignals) Current() HandlerSnapshot { return HandlerSnapshot{} }
