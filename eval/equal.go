package eval

import (
	"context"
	"math"
	"math/big"
)

// Equals reports structural equality of a and b. Containers are compared
// element by element, objects over their visible fields regardless of order.
// Numbers and big integers compare by numeric value. Comparing functions is an
// error.
func Equals(ctx context.Context, a, b Value) (bool, error) {
	if err := Checkpoint(ctx); err != nil {
		return false, err
	}
	if a.Kind() == FunctionKind || b.Kind() == FunctionKind {
		return false, Errorf("cannot test equality of functions")
	}

	switch x := a.(type) {
	case Null:
		return b.Kind() == NullKind, nil
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y, nil
	case String:
		y, ok := b.(String)
		return ok && x == y, nil
	case Number:
		switch y := b.(type) {
		case Number:
			return x == y, nil
		case BigInt:
			return numberEqualsBig(float64(x), y.Int), nil
		}
		return false, nil
	case BigInt:
		switch y := b.(type) {
		case BigInt:
			return x.Int.Cmp(y.Int) == 0, nil
		case Number:
			return numberEqualsBig(float64(y), x.Int), nil
		}
		return false, nil
	case Array:
		y, ok := b.(Array)
		if !ok {
			return false, nil
		}
		return arraysEqual(ctx, x, y)
	case Object:
		y, ok := b.(Object)
		if !ok {
			return false, nil
		}
		return objectsEqual(ctx, x, y)
	}
	return false, nil
}

func numberEqualsBig(f float64, n *big.Int) bool {
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return false
	}
	fi, _ := new(big.Float).SetFloat64(f).Int(nil)
	return fi.Cmp(n) == 0
}

func arraysEqual(ctx context.Context, a, b Array) (bool, error) {
	la, err := a.Len(ctx)
	if err != nil {
		return false, err
	}
	lb, err := b.Len(ctx)
	if err != nil {
		return false, err
	}
	if la != lb {
		return false, nil
	}
	for i := 0; i < la; i++ {
		ea, _, err := a.Get(ctx, i)
		if err != nil {
			return false, err
		}
		eb, _, err := b.Get(ctx, i)
		if err != nil {
			return false, err
		}
		eq, err := Equals(ctx, ea, eb)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func objectsEqual(ctx context.Context, a, b Object) (bool, error) {
	fa, err := a.Fields(ctx, false)
	if err != nil {
		return false, err
	}
	fb, err := b.Fields(ctx, false)
	if err != nil {
		return false, err
	}
	if len(fa) != len(fb) {
		return false, nil
	}
	inB := make(map[string]bool, len(fb))
	for _, k := range fb {
		inB[k] = true
	}
	for _, k := range fa {
		if !inB[k] {
			return false, nil
		}
	}
	for _, k := range fa {
		va, _, err := a.Get(ctx, k)
		if err != nil {
			return false, err
		}
		vb, _, err := b.Get(ctx, k)
		if err != nil {
			return false, err
		}
		eq, err := Equals(ctx, va, vb)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}
