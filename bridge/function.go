package bridge

import (
	"context"
	"fmt"

	"github.com/chazu/chainql/eval"
)

// Function is a host handle to an evaluator function.
type Function struct {
	d *Dispatcher
	v eval.Function
}

// Value returns the underlying evaluator function. It may only be used inside
// a CallRequest.
func (f *Function) Value() eval.Function { return f.v }

// Params returns the declared parameter names.
func (f *Function) Params(ctx context.Context) ([]string, error) {
	return call(ctx, f.d, "function.params", nil, func(ctx context.Context) ([]string, error) {
		return append([]string(nil), f.v.Params()...), nil
	})
}

// Call invokes the function with positional arguments. Each argument is
// marshaled into the evaluator and the result is marshaled back.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.d.execute(ctx, "function.call", map[string]any{"argc": len(args)}, func(ctx context.Context) (any, error) {
		evArgs := make([]eval.Value, len(args))
		for i, arg := range args {
			v, err := ToEvaluator(arg)
			if err != nil {
				return nil, typeError(fmt.Sprintf("unsupported type at index %d", i), err)
			}
			evArgs[i] = v
		}
		out, err := f.v.Call(ctx, evArgs)
		if err != nil {
			return nil, err
		}
		return ToHost(f.d, out)
	})
}
