package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/chainql/eval"
)

// ErrorKind classifies bridge errors.
type ErrorKind int

const (
	// SetupFault: signal guard or async runtime could not be set up. The
	// call was aborted before any worker started.
	SetupFault ErrorKind = iota + 1
	// TypeError: a host value or key had the wrong shape.
	TypeError
	KeyNotFound
	IndexOutOfRange
	// EvalRuntimeError: the evaluator reported a failure.
	EvalRuntimeError
	// Interrupted: the cancellation notifier fired during evaluation.
	Interrupted
	// WorkerFault: the worker panicked. The message carries the panic value
	// and the worker's stack.
	WorkerFault
)

var kindNames = map[ErrorKind]string{
	SetupFault:       "setup fault",
	TypeError:        "type error",
	KeyNotFound:      "key not found",
	IndexOutOfRange:  "index out of range",
	EvalRuntimeError: "runtime error",
	Interrupted:      "interrupted",
	WorkerFault:      "worker fault",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by every bridge operation that fails.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind with no message, so the
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrSetupFault      = &Error{Kind: SetupFault}
	ErrTypeError       = &Error{Kind: TypeError}
	ErrKeyNotFound     = &Error{Kind: KeyNotFound}
	ErrIndexOutOfRange = &Error{Kind: IndexOutOfRange}
	ErrRuntime         = &Error{Kind: EvalRuntimeError}
	ErrInterrupted     = &Error{Kind: Interrupted}
	ErrWorkerFault     = &Error{Kind: WorkerFault}
)

// IsInterrupted reports whether err means the user cancelled the call.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func typeError(description string, cause error) *Error {
	if cause == nil {
		return &Error{Kind: TypeError, Msg: description}
	}
	return &Error{Kind: TypeError, Msg: description + ": " + causeText(cause), Err: cause}
}

func causeText(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == TypeError {
		return e.Msg
	}
	return err.Error()
}

// evalError converts an error produced by the evaluator. Bridge errors pass
// through; cancellation becomes Interrupted; everything else is a runtime
// error with the evaluator's "runtime error: " prefix removed.
func evalError(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	text := evalMessage(err)
	if errors.Is(err, eval.ErrCancelled) || errors.Is(err, context.Canceled) || strings.HasSuffix(text, "cancelled") {
		return &Error{Kind: Interrupted, Msg: text, Err: err}
	}
	return &Error{Kind: EvalRuntimeError, Msg: text, Err: err}
}

// interruptedError reports err as Interrupted, whatever it says.
func interruptedError(err error) error {
	return &Error{Kind: Interrupted, Msg: evalMessage(err), Err: err}
}

func evalMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "runtime error: ")
}
