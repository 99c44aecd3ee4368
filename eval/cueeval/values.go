package cueeval

import (
	"context"
	"math/big"

	"cuelang.org/go/cue"

	"github.com/chazu/chainql/eval"
)

const maxSafeInteger = 1 << 53

var (
	minSafe = big.NewInt(-maxSafeInteger)
	maxSafe = big.NewInt(maxSafeInteger)
)

// wrap converts v without descending into it.
func (e *Evaluator) wrap(ctx context.Context, v cue.Value) (eval.Value, error) {
	if err := eval.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if attr, ok := findAttr(v, "fetch"); ok {
		resolved, err := e.fetch(ctx, v, attr)
		if err != nil {
			return nil, err
		}
		v = resolved
	}
	if attr, ok := findAttr(v, "fn"); ok {
		return newFunction(e, v, attr), nil
	}
	if err := v.Err(); err != nil {
		return nil, runtimeError(err)
	}

	switch v.Kind() {
	case cue.NullKind:
		return eval.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, runtimeError(err)
		}
		return eval.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int(nil)
		if err != nil {
			return nil, runtimeError(err)
		}
		if n.Cmp(minSafe) >= 0 && n.Cmp(maxSafe) <= 0 {
			return eval.Number(n.Int64()), nil
		}
		return eval.BigInt{Int: n}, nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, runtimeError(err)
		}
		return eval.Number(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, runtimeError(err)
		}
		return eval.String(s), nil
	case cue.BytesKind:
		b, err := v.Bytes()
		if err != nil {
			return nil, runtimeError(err)
		}
		return eval.String(b), nil
	case cue.ListKind:
		return &array{e: e, v: v}, nil
	case cue.StructKind:
		return &object{e: e, v: v}, nil
	}
	return nil, eval.Errorf("%s: incomplete value (%s)", v.Path(), v.IncompleteKind())
}

// findAttr returns the field or declaration attribute called name.
func findAttr(v cue.Value, name string) (cue.Attribute, bool) {
	for _, a := range v.Attributes(cue.ValueAttr) {
		if a.Name() == name {
			return a, true
		}
	}
	return cue.Attribute{}, false
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

type object struct {
	eval.ObjectBase
	e *Evaluator
	v cue.Value
}

type field struct {
	name   string
	hidden bool
	value  cue.Value
}

// fields walks the struct's regular and hidden fields in declaration order.
// Definitions and optional fields are not fields of the object.
func (o *object) fields(ctx context.Context, includeHidden bool, visit func(field) bool) error {
	if err := eval.Checkpoint(ctx); err != nil {
		return err
	}
	it, err := o.v.Fields(cue.Hidden(includeHidden))
	if err != nil {
		return runtimeError(err)
	}
	for it.Next() {
		sel := it.Selector()
		var f field
		switch sel.LabelType() {
		case cue.StringLabel:
			f = field{name: sel.Unquoted(), value: it.Value()}
		case cue.HiddenLabel:
			f = field{name: sel.String(), hidden: true, value: it.Value()}
		default:
			continue
		}
		if !visit(f) {
			return nil
		}
	}
	return nil
}

func (o *object) Len(ctx context.Context) (int, error) {
	n := 0
	err := o.fields(ctx, false, func(field) bool {
		n++
		return true
	})
	return n, err
}

func (o *object) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := o.lookup(ctx, key)
	return ok, err
}

func (o *object) Get(ctx context.Context, key string) (eval.Value, bool, error) {
	f, ok, err := o.lookup(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := o.e.wrap(ctx, f.value)
	if err != nil {
		return nil, true, err
	}
	return v, true, nil
}

func (o *object) lookup(ctx context.Context, key string) (field, bool, error) {
	var found field
	ok := false
	err := o.fields(ctx, true, func(f field) bool {
		if f.name == key {
			found, ok = f, true
			return false
		}
		return true
	})
	return found, ok, err
}

func (o *object) Fields(ctx context.Context, includeHidden bool) ([]string, error) {
	var names []string
	err := o.fields(ctx, includeHidden, func(f field) bool {
		names = append(names, f.name)
		return true
	})
	return names, err
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

type array struct {
	eval.ArrayBase
	e *Evaluator
	v cue.Value
}

func (a *array) Len(ctx context.Context) (int, error) {
	if err := eval.Checkpoint(ctx); err != nil {
		return 0, err
	}
	n, err := a.v.Len().Int64()
	if err != nil {
		return 0, runtimeError(err)
	}
	return int(n), nil
}

func (a *array) Get(ctx context.Context, i int) (eval.Value, bool, error) {
	n, err := a.Len(ctx)
	if err != nil {
		return nil, false, err
	}
	if i < 0 || i >= n {
		return nil, false, nil
	}
	v, err := a.e.wrap(ctx, a.v.LookupPath(cue.MakePath(cue.Index(i))))
	if err != nil {
		return nil, true, err
	}
	return v, true, nil
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

type function struct {
	eval.FunctionBase
	e      *Evaluator
	v      cue.Value
	params []string
	out    string
}

func newFunction(e *Evaluator, v cue.Value, attr cue.Attribute) *function {
	f := &function{e: e, v: v, out: "out"}
	for i := 0; i < attr.NumArgs(); i++ {
		key, value := attr.Arg(i)
		if key == "out" && value != "" {
			f.out = value
			continue
		}
		f.params = append(f.params, key)
	}
	return f
}

func (f *function) Params() []string { return f.params }

func (f *function) Call(ctx context.Context, args []eval.Value) (eval.Value, error) {
	if len(args) != len(f.params) {
		return nil, eval.Errorf("function %s expects %d arguments, got %d", f.v.Path(), len(f.params), len(args))
	}
	v := f.v
	for i, p := range f.params {
		cv, err := f.e.toCUE(ctx, args[i])
		if err != nil {
			return nil, err
		}
		v = v.FillPath(cue.MakePath(cue.Str(p)), cv)
	}
	out := v.LookupPath(cue.MakePath(cue.Str(f.out)))
	if !out.Exists() {
		return nil, eval.Errorf("function %s has no %s field", f.v.Path(), f.out)
	}
	return f.e.wrap(ctx, out)
}
