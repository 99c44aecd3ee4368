package bridge

import (
	"context"
	"fmt"

	"github.com/chazu/chainql/eval"
)

// Object is a host handle to a lazy evaluator object. Fields are evaluated
// when read, each read being a separate call through the dispatcher.
type Object struct {
	d *Dispatcher
	v eval.Object
}

// Value returns the underlying evaluator object. It may only be used inside
// a CallRequest.
func (o *Object) Value() eval.Object { return o.v }

// Len returns the number of visible fields.
func (o *Object) Len(ctx context.Context) (int, error) {
	return call(ctx, o.d, "object.len", nil, func(ctx context.Context) (int, error) {
		return o.v.Len(ctx)
	})
}

// Contains reports whether the object has a field named key, hidden or not.
// A key that is not a string is never a member.
func (o *Object) Contains(ctx context.Context, key any) (bool, error) {
	name, ok := key.(string)
	if !ok {
		return false, nil
	}
	return call(ctx, o.d, "object.contains", map[string]any{"key": name}, func(ctx context.Context) (bool, error) {
		return o.v.Has(ctx, name)
	})
}

// Get evaluates the field named key and returns it as a host value. key must
// be a string.
func (o *Object) Get(ctx context.Context, key any) (any, error) {
	name, err := fieldName(key)
	if err != nil {
		return nil, err
	}
	return o.get(ctx, "object.get", name)
}

// Attr is Get for callers that already hold a string, such as attribute
// style access from a host language.
func (o *Object) Attr(ctx context.Context, name string) (any, error) {
	return o.get(ctx, "object.attr", name)
}

func (o *Object) get(ctx context.Context, label, name string) (any, error) {
	return o.d.execute(ctx, label, map[string]any{"key": name}, func(ctx context.Context) (any, error) {
		v, ok, err := o.v.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newError(KeyNotFound, "%q", name)
		}
		return ToHost(o.d, v)
	})
}

// ManifestJSON renders the object as JSON, on one line when minified and
// indented by two spaces otherwise. Field order is kept.
func (o *Object) ManifestJSON(ctx context.Context, minified bool) (string, error) {
	return manifestJSON(ctx, o.d, o.v, minified)
}

// Keys iterates over field names.
func (o *Object) Keys(includeHidden bool) *FieldIter {
	return o.iter(includeHidden, false)
}

// Values iterates over field values.
func (o *Object) Values(includeHidden bool) *FieldIter {
	return o.iter(includeHidden, true)
}

// Items iterates over names and values together.
func (o *Object) Items(includeHidden bool) *FieldIter {
	return o.iter(includeHidden, true)
}

func (o *Object) iter(includeHidden, values bool) *FieldIter {
	return &FieldIter{o: o, includeHidden: includeHidden, values: values}
}

func fieldName(key any) (string, error) {
	name, ok := key.(string)
	if !ok {
		return "", typeError(fmt.Sprintf("key should be a string, got %T", key), nil)
	}
	return name, nil
}

// FieldIter walks an object's fields in declaration order. The field list is
// fetched on the first call to Next; values, when requested, are evaluated
// one at a time as the iterator advances. A FieldIter is single-pass.
//
//	it := obj.Items(false)
//	for it.Next(ctx) {
//		fmt.Println(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type FieldIter struct {
	o             *Object
	includeHidden bool
	values        bool

	keys    []string
	fetched bool
	pos     int
	key     string
	value   any
	err     error
}

// Next advances to the next field. It returns false when the fields are
// exhausted or an error occurred.
func (it *FieldIter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if !it.fetched {
		keys, err := call(ctx, it.o.d, "object.fields", nil, func(ctx context.Context) ([]string, error) {
			return it.o.v.Fields(ctx, it.includeHidden)
		})
		if err != nil {
			it.err = err
			return false
		}
		it.keys, it.fetched = keys, true
	}
	if it.pos >= len(it.keys) {
		return false
	}
	it.key, it.value = it.keys[it.pos], nil
	it.pos++
	if it.values {
		v, err := it.o.get(ctx, "object.get", it.key)
		if err != nil {
			it.err = err
			return false
		}
		it.value = v
	}
	return true
}

// Key returns the current field name.
func (it *FieldIter) Key() string { return it.key }

// Value returns the current field value. It is nil for a Keys iterator.
func (it *FieldIter) Value() any { return it.value }

// Err returns the error that stopped iteration, if any.
func (it *FieldIter) Err() error { return it.err }

func manifestJSON(ctx context.Context, d *Dispatcher, v eval.Value, minified bool) (string, error) {
	format := eval.Pretty
	if minified {
		format = eval.Compact
	}
	return call(ctx, d, "manifest", map[string]any{"minified": minified}, func(ctx context.Context) (string, error) {
		return eval.Manifest(ctx, v, format)
	})
}
