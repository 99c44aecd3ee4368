package eval

import (
	"context"
	"strings"
)

// memArray is an Array whose elements are already evaluated.
type memArray struct {
	ArrayBase
	elems []Value
}

// NewArray returns an Array holding elems in order.
func NewArray(elems ...Value) Array {
	return &memArray{elems: elems}
}

func (a *memArray) Len(ctx context.Context) (int, error) {
	return len(a.elems), nil
}

func (a *memArray) Get(ctx context.Context, i int) (Value, bool, error) {
	if i < 0 || i >= len(a.elems) {
		return nil, false, nil
	}
	return a.elems[i], true, nil
}

type memField struct {
	name   string
	value  Value
	hidden bool
}

// memObject is an Object whose fields are already evaluated.
type memObject struct {
	ObjectBase
	fields []memField
	index  map[string]int
}

// ObjectBuilder assembles an in-memory Object. Field order is the order of
// the first Field or Hidden call for each name; later calls replace the value.
type ObjectBuilder struct {
	obj *memObject
}

// NewObjectBuilder returns a builder with room for n fields.
func NewObjectBuilder(n int) *ObjectBuilder {
	return &ObjectBuilder{obj: &memObject{
		fields: make([]memField, 0, n),
		index:  make(map[string]int, n),
	}}
}

// Field sets a visible field.
func (b *ObjectBuilder) Field(name string, v Value) *ObjectBuilder {
	return b.set(name, v, false)
}

// Hidden sets a hidden field.
func (b *ObjectBuilder) Hidden(name string, v Value) *ObjectBuilder {
	return b.set(name, v, true)
}

func (b *ObjectBuilder) set(name string, v Value, hidden bool) *ObjectBuilder {
	if i, ok := b.obj.index[name]; ok {
		b.obj.fields[i] = memField{name: name, value: v, hidden: hidden}
		return b
	}
	b.obj.index[name] = len(b.obj.fields)
	b.obj.fields = append(b.obj.fields, memField{name: name, value: v, hidden: hidden})
	return b
}

// Build returns the Object. The builder must not be used afterwards.
func (b *ObjectBuilder) Build() Object {
	obj := b.obj
	b.obj = nil
	return obj
}

func (o *memObject) Len(ctx context.Context) (int, error) {
	n := 0
	for _, f := range o.fields {
		if !f.hidden {
			n++
		}
	}
	return n, nil
}

func (o *memObject) Has(ctx context.Context, key string) (bool, error) {
	_, ok := o.index[key]
	return ok, nil
}

func (o *memObject) Get(ctx context.Context, key string) (Value, bool, error) {
	i, ok := o.index[key]
	if !ok {
		return nil, false, nil
	}
	return o.fields[i].value, true, nil
}

func (o *memObject) Fields(ctx context.Context, includeHidden bool) ([]string, error) {
	names := make([]string, 0, len(o.fields))
	for _, f := range o.fields {
		if f.hidden && !includeHidden {
			continue
		}
		names = append(names, f.name)
	}
	return names, nil
}

// NativeFunc implements a Function in Go. It runs on the evaluator's worker
// and may use ctx to reach the async runtime.
type NativeFunc func(ctx context.Context, args []Value) (Value, error)

type nativeFunction struct {
	FunctionBase
	name   string
	params []string
	fn     NativeFunc
}

// NewFunction wraps fn as a Function taking the named positional params.
func NewFunction(name string, params []string, fn NativeFunc) Function {
	return &nativeFunction{name: name, params: params, fn: fn}
}

func (f *nativeFunction) Params() []string { return f.params }

func (f *nativeFunction) Call(ctx context.Context, args []Value) (Value, error) {
	if err := Checkpoint(ctx); err != nil {
		return nil, err
	}
	if len(args) != len(f.params) {
		return nil, Errorf("function %s expects %d arguments (%s), got %d",
			f.name, len(f.params), strings.Join(f.params, ", "), len(args))
	}
	return f.fn(ctx, args)
}
