package bridge

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sort"

	"github.com/chazu/chainql/eval"
)

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1 << 53

// ToHost converts an evaluator value to a host value. Scalars are copied;
// arrays, objects and functions become lazy handles that re-enter the
// evaluator through d when used. Must run on the worker.
func ToHost(d *Dispatcher, v eval.Value) (any, error) {
	switch x := v.(type) {
	case nil, eval.Null:
		return nil, nil
	case eval.Bool:
		return bool(x), nil
	case eval.Number:
		return float64(x), nil
	case eval.BigInt:
		if x.Int == nil {
			return nil, newError(TypeError, "big integer without a value cannot be represented")
		}
		return new(big.Int).Set(x.Int), nil
	case eval.String:
		return string(x), nil
	case eval.Array:
		return &Array{d: d, v: x}, nil
	case eval.Object:
		return &Object{d: d, v: x}, nil
	case eval.Function:
		return &Function{d: d, v: x}, nil
	}
	return nil, newError(TypeError, "unsupported evaluator value %T", v)
}

// ToEvaluator converts a host value to an evaluator value. Lazy handles are
// unwrapped to the value they refer to. Go functions and types outside the
// host value model are rejected with a TypeError naming the offending index,
// key or type. Must run on the worker.
func ToEvaluator(x any) (eval.Value, error) {
	switch x := x.(type) {
	case nil:
		return eval.Null{}, nil
	case eval.Value:
		return x, nil
	case bool:
		return eval.Bool(x), nil
	case string:
		return eval.String(x), nil
	case float64:
		return eval.Number(x), nil
	case float32:
		return eval.Number(x), nil
	case int:
		return intValue(int64(x)), nil
	case int64:
		return intValue(x), nil
	case *big.Int:
		if x == nil {
			return eval.Null{}, nil
		}
		return eval.NewBigInt(x), nil
	case big.Int:
		return eval.NewBigInt(&x), nil
	case *Array:
		if x == nil {
			return nil, typeError("nil array handle", nil)
		}
		return x.v, nil
	case *Object:
		if x == nil {
			return nil, typeError("nil object handle", nil)
		}
		return x.v, nil
	case *Function:
		if x == nil {
			return nil, typeError("nil function handle", nil)
		}
		return x.v, nil
	case Tuple:
		return sequenceToEvaluator(len(x), func(i int) any { return x[i] })
	case Set:
		elems := x.sorted()
		return sequenceToEvaluator(len(elems), func(i int) any { return elems[i] })
	case []any:
		return sequenceToEvaluator(len(x), func(i int) any { return x[i] })
	case *Map:
		if x == nil {
			return eval.Null{}, nil
		}
		return mappingToEvaluator(x.keys, func(k string) any { return x.values[k] })
	case map[string]any:
		return mappingToEvaluator(sortedKeys(x), func(k string) any { return x[k] })
	}
	return reflectToEvaluator(reflect.ValueOf(x))
}

func reflectToEvaluator(rv reflect.Value) (eval.Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return eval.Bool(rv.Bool()), nil
	case reflect.String:
		return eval.String(rv.String()), nil
	case reflect.Float32, reflect.Float64:
		return eval.Number(rv.Float()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintValue(rv.Uint()), nil
	case reflect.Func:
		return nil, typeError("functions are not supported", nil)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return eval.Null{}, nil
		}
		return ToEvaluator(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return eval.NewArray(), nil
		}
		return sequenceToEvaluator(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, typeError("key should be a string", fmt.Errorf("got %s", rv.Type().Key()))
		}
		keys := make([]string, 0, rv.Len())
		byName := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
			byName[k.String()] = k
		}
		sort.Strings(keys)
		return mappingToEvaluator(keys, func(k string) any { return rv.MapIndex(byName[k]).Interface() })
	case reflect.Invalid:
		return eval.Null{}, nil
	}
	return nil, typeError(fmt.Sprintf("unsupported type %s", rv.Type()), nil)
}

func intValue(n int64) eval.Value {
	if n >= -maxSafeInteger && n <= maxSafeInteger {
		return eval.Number(n)
	}
	return eval.BigInt{Int: big.NewInt(n)}
}

func uintValue(n uint64) eval.Value {
	if n <= maxSafeInteger {
		return eval.Number(n)
	}
	return eval.BigInt{Int: new(big.Int).SetUint64(n)}
}

func sequenceToEvaluator(n int, at func(int) any) (eval.Value, error) {
	elems := make([]eval.Value, n)
	for i := 0; i < n; i++ {
		v, err := ToEvaluator(at(i))
		if err != nil {
			return nil, typeError(fmt.Sprintf("unsupported type at index %d", i), err)
		}
		elems[i] = v
	}
	return eval.NewArray(elems...), nil
}

func mappingToEvaluator(keys []string, at func(string) any) (eval.Value, error) {
	b := eval.NewObjectBuilder(len(keys))
	for _, k := range keys {
		v, err := ToEvaluator(at(k))
		if err != nil {
			return nil, typeError(fmt.Sprintf("unsupported value type at '%s'", k), err)
		}
		b.Field(k, v)
	}
	return b.Build(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func argsToEvaluator(args map[string]any) (map[string]eval.Value, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]eval.Value, len(args))
	for _, k := range sortedKeys(args) {
		v, err := ToEvaluator(args[k])
		if err != nil {
			return nil, typeError(fmt.Sprintf("unsupported value type at '%s'", k), err)
		}
		out[k] = v
	}
	return out, nil
}

// Materialize converts a host value that may contain lazy handles into plain
// host values: arrays become []any and objects become *Map with visible
// fields in declared order. Functions stay as handles. The whole conversion
// runs as one call.
func (d *Dispatcher) Materialize(ctx context.Context, x any) (any, error) {
	return d.Execute(ctx, func(ctx context.Context) (any, error) {
		v, err := ToEvaluator(x)
		if err != nil {
			return nil, err
		}
		return materialize(ctx, d, v)
	})
}

func materialize(ctx context.Context, d *Dispatcher, v eval.Value) (any, error) {
	if err := eval.Checkpoint(ctx); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case eval.Array:
		n, err := x.Len(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			elem, _, err := x.Get(ctx, i)
			if err != nil {
				return nil, err
			}
			if out[i], err = materialize(ctx, d, elem); err != nil {
				return nil, err
			}
		}
		return out, nil
	case eval.Object:
		keys, err := x.Fields(ctx, false)
		if err != nil {
			return nil, err
		}
		m := NewMap()
		for _, k := range keys {
			field, _, err := x.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			hv, err := materialize(ctx, d, field)
			if err != nil {
				return nil, err
			}
			m.Set(k, hv)
		}
		return m, nil
	}
	return ToHost(d, v)
}
