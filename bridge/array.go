package bridge

import (
	"context"
	"fmt"
	"reflect"

	"github.com/chazu/chainql/eval"
)

// Array is a host handle to a lazy evaluator array.
type Array struct {
	d *Dispatcher
	v eval.Array
}

// Value returns the underlying evaluator array. It may only be used inside a
// CallRequest.
func (a *Array) Value() eval.Array { return a.v }

// Len returns the number of elements.
func (a *Array) Len(ctx context.Context) (int, error) {
	return call(ctx, a.d, "array.len", nil, func(ctx context.Context) (int, error) {
		return a.v.Len(ctx)
	})
}

// Contains reports whether any element equals x. x is marshaled once and
// compared with evaluator equality, element by element.
func (a *Array) Contains(ctx context.Context, x any) (bool, error) {
	return call(ctx, a.d, "array.contains", nil, func(ctx context.Context) (bool, error) {
		probe, err := ToEvaluator(x)
		if err != nil {
			return false, err
		}
		n, err := a.v.Len(ctx)
		if err != nil {
			return false, err
		}
		for i := 0; i < n; i++ {
			elem, _, err := a.v.Get(ctx, i)
			if err != nil {
				return false, err
			}
			eq, err := eval.Equals(ctx, elem, probe)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	})
}

// Index evaluates the element at i. i must be a non-negative Go integer.
func (a *Array) Index(ctx context.Context, i any) (any, error) {
	idx, err := toIndex(i)
	if err != nil {
		return nil, err
	}
	return a.index(ctx, idx)
}

func (a *Array) index(ctx context.Context, i int) (any, error) {
	return a.d.execute(ctx, "array.index", map[string]any{"index": i}, func(ctx context.Context) (any, error) {
		v, ok, err := a.v.Get(ctx, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			n, err := a.v.Len(ctx)
			if err != nil {
				return nil, err
			}
			return nil, newError(IndexOutOfRange, "index %d, length %d", i, n)
		}
		return ToHost(a.d, v)
	})
}

// ManifestJSON renders the array as JSON.
func (a *Array) ManifestJSON(ctx context.Context, minified bool) (string, error) {
	return manifestJSON(ctx, a.d, a.v, minified)
}

// Iter returns a single-pass iterator over the elements. The length is read
// on the first call to Next.
func (a *Array) Iter() *ElemIter {
	return &ElemIter{a: a, pos: -1}
}

// ElemIter walks an array's elements in order, evaluating each lazily.
type ElemIter struct {
	a     *Array
	n     int
	known bool
	pos   int
	value any
	err   error
}

// Next advances to the next element.
func (it *ElemIter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if !it.known {
		n, err := it.a.Len(ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.n, it.known = n, true
	}
	if it.pos+1 >= it.n {
		return false
	}
	it.pos++
	v, err := it.a.index(ctx, it.pos)
	if err != nil {
		it.err = err
		return false
	}
	it.value = v
	return true
}

// Index returns the position of the current element.
func (it *ElemIter) Index() int { return it.pos }

// Value returns the current element.
func (it *ElemIter) Value() any { return it.value }

// Err returns the error that stopped iteration, if any.
func (it *ElemIter) Err() error { return it.err }

func toIndex(i any) (int, error) {
	rv := reflect.ValueOf(i)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 {
			return 0, typeError(fmt.Sprintf("index should be non-negative, got %d", n), nil)
		}
		if uint64(n) > uint64(maxInt) {
			return 0, newError(IndexOutOfRange, "index %d", n)
		}
		return int(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n > uint64(maxInt) {
			return 0, newError(IndexOutOfRange, "index %d", n)
		}
		return int(n), nil
	}
	return 0, typeError(fmt.Sprintf("index should be an integer, got %T", i), nil)
}

const maxInt = int(^uint(0) >> 1)
