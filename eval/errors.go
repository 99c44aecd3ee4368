package eval

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is the cause attached to a call context when the cancellation
// notifier fires. Evaluators observe it at their checkpoints.
var ErrCancelled = errors.New("evaluation cancelled")

// RuntimeError is an evaluator-internal failure.
type RuntimeError struct {
	Msg string
	Err error
}

func (e *RuntimeError) Error() string {
	return "runtime error: " + e.Msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Errorf builds a RuntimeError.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &RuntimeError{Msg: err.Error(), Err: errors.Unwrap(err)}
}

// Checkpoint reports whether evaluation may continue. It returns a
// RuntimeError wrapping ErrCancelled once ctx is done.
func Checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = ErrCancelled
	}
	return &RuntimeError{Msg: cause.Error(), Err: cause}
}
