// Package cueeval implements eval.Evaluator on top of CUE.
//
// Expressions are compiled as CUE source. Struct values become lazy
// objects and lists become lazy arrays; neither is walked until a field or
// element is read. Two attributes extend plain CUE:
//
//	add: {@fn(a, b), a: number, b: number, out: a + b}
//	price: {usd: number} @fetch("https://example.com/price.json")
//
// A struct carrying @fn is a function. Its arguments name the parameter
// fields, filled positionally on call, and the result is the "out" field
// (override with out=name). A field carrying @fetch is replaced, when read,
// by the data fetched from the URL through the async runtime, unified with
// the declared value.
package cueeval

import (
	"context"
	"errors"
	"math"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tliron/commonlog"

	"github.com/chazu/chainql/eval"
)

var log = commonlog.GetLogger("chainql.eval")

// Evaluator evaluates CUE expressions. Like the values it returns, it must
// only be used from one goroutine at a time.
type Evaluator struct {
	ctx      *cue.Context
	filename string
}

// New returns an Evaluator with a fresh CUE context.
func New() *Evaluator {
	return &Evaluator{ctx: cuecontext.New(), filename: "<expr>"}
}

// WithFilename returns a copy of e that reports positions against name.
func (e *Evaluator) WithFilename(name string) *Evaluator {
	c := *e
	c.filename = name
	return &c
}

// Evaluate compiles expr with args in scope and returns the result lazily.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, args map[string]eval.Value) (eval.Value, error) {
	if err := eval.Checkpoint(ctx); err != nil {
		return nil, err
	}
	opts := []cue.BuildOption{cue.Filename(e.filename)}
	if len(args) > 0 {
		scope, err := e.scope(ctx, args)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cue.Scope(scope))
	}

	v := e.ctx.CompileString(expr, opts...)
	if err := v.Err(); err != nil {
		return nil, runtimeError(err)
	}
	log.Debugf("compiled %s (%s)", e.filename, v.IncompleteKind())
	return e.wrap(ctx, v)
}

// scope builds the struct whose fields are visible to the expression as
// top-level identifiers.
func (e *Evaluator) scope(ctx context.Context, args map[string]eval.Value) (cue.Value, error) {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	scope := e.ctx.CompileString("{}")
	for _, name := range names {
		cv, err := e.toCUE(ctx, args[name])
		if err != nil {
			return cue.Value{}, withContext("argument "+name, err)
		}
		scope = scope.FillPath(cue.MakePath(cue.Str(name)), cv)
	}
	if err := scope.Err(); err != nil {
		return cue.Value{}, runtimeError(err)
	}
	return scope, nil
}

// toCUE converts an evaluator value into this context. Values produced in
// the same CUE context are passed through unchanged; values from another
// context are copied structurally.
func (e *Evaluator) toCUE(ctx context.Context, v eval.Value) (cue.Value, error) {
	if err := eval.Checkpoint(ctx); err != nil {
		return cue.Value{}, err
	}
	if cv, ok := e.native(v); ok {
		return cv, nil
	}
	switch x := v.(type) {
	case eval.Null:
		return e.ctx.Encode(nil), nil
	case eval.Bool:
		return e.ctx.Encode(bool(x)), nil
	case eval.Number:
		// Integral numbers go in as CUE ints so they satisfy int constraints.
		if f := float64(x); f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
			return e.ctx.Encode(int64(f)), nil
		}
		return e.ctx.Encode(float64(x)), nil
	case eval.BigInt:
		return e.ctx.Encode(x.Int), nil
	case eval.String:
		return e.ctx.Encode(string(x)), nil
	case eval.Array:
		n, err := x.Len(ctx)
		if err != nil {
			return cue.Value{}, err
		}
		elems := make([]cue.Value, n)
		for i := 0; i < n; i++ {
			el, _, err := x.Get(ctx, i)
			if err != nil {
				return cue.Value{}, err
			}
			if elems[i], err = e.toCUE(ctx, el); err != nil {
				return cue.Value{}, err
			}
		}
		return e.ctx.NewList(elems...), nil
	case eval.Object:
		names, err := x.Fields(ctx, false)
		if err != nil {
			return cue.Value{}, err
		}
		out := e.ctx.CompileString("{}")
		for _, name := range names {
			field, _, err := x.Get(ctx, name)
			if err != nil {
				return cue.Value{}, err
			}
			cv, err := e.toCUE(ctx, field)
			if err != nil {
				return cue.Value{}, err
			}
			out = out.FillPath(cue.MakePath(cue.Str(name)), cv)
		}
		return out, nil
	case *function:
		return cue.Value{}, eval.Errorf("function %s belongs to another evaluator", x.v.Path())
	case eval.Function:
		return cue.Value{}, eval.Errorf("native functions cannot be passed to CUE")
	}
	return cue.Value{}, eval.Errorf("unsupported value %T", v)
}

// native returns the underlying CUE value of v when v was produced in e's
// CUE context.
func (e *Evaluator) native(v eval.Value) (cue.Value, bool) {
	switch x := v.(type) {
	case *object:
		return x.v, x.e.ctx == e.ctx
	case *array:
		return x.v, x.e.ctx == e.ctx
	case *function:
		return x.v, x.e.ctx == e.ctx
	}
	return cue.Value{}, false
}

func runtimeError(err error) error {
	return &eval.RuntimeError{Msg: err.Error(), Err: err}
}

// withContext prefixes the message of an evaluator error, keeping its cause.
func withContext(prefix string, err error) error {
	var re *eval.RuntimeError
	if errors.As(err, &re) {
		return &eval.RuntimeError{Msg: prefix + ": " + re.Msg, Err: re.Err}
	}
	return &eval.RuntimeError{Msg: prefix + ": " + err.Error(), Err: err}
}
