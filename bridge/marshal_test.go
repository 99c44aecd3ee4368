package bridge

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/chazu/chainql/eval"
)

func TestToHost_Scalars(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	tests := []struct {
		name string
		in   eval.Value
		want any
	}{
		{"null", eval.Null{}, nil},
		{"bool", eval.Bool(true), true},
		{"number", eval.Number(1.5), 1.5},
		{"string", eval.String("hi"), "hi"},
		{"bigint", eval.BigInt{Int: huge}, huge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToHost(nil, tt.in)
			if err != nil {
				t.Fatalf("ToHost failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToHost = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestToHost_BigIntIsCopied(t *testing.T) {
	n := big.NewInt(7)
	got, err := ToHost(nil, eval.BigInt{Int: n})
	if err != nil {
		t.Fatal(err)
	}
	got.(*big.Int).SetInt64(8)
	if n.Int64() != 7 {
		t.Error("host mutation reached the evaluator value")
	}
}

func TestRoundTrip_Scalars(t *testing.T) {
	ctx := context.Background()
	for _, v := range []eval.Value{
		eval.Null{},
		eval.Bool(false),
		eval.Number(-0.25),
		eval.Number(1 << 40),
		eval.BigInt{Int: new(big.Int).Lsh(big.NewInt(1), 80)},
		eval.String("ünïcode"),
	} {
		host, err := ToHost(nil, v)
		if err != nil {
			t.Fatalf("ToHost(%v) failed: %v", v, err)
		}
		back, err := ToEvaluator(host)
		if err != nil {
			t.Fatalf("ToEvaluator(%v) failed: %v", host, err)
		}
		eq, err := eval.Equals(ctx, v, back)
		if err != nil {
			t.Fatal(err)
		}
		if !eq || back.Kind() != v.Kind() {
			t.Errorf("round trip of %#v gave %#v", v, back)
		}
	}
}

func TestRoundTrip_NestedHostValues(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	in := []any{
		1.0,
		"two",
		NewMap().Set("z", true).Set("a", []any{nil, 2.5}).Set("m", NewMap()),
		[]any{},
	}
	handle, err := d.Evaluate(ctx, "echo", map[string]any{"x": in})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if _, ok := handle.(*Array); !ok {
		t.Fatalf("Evaluate = %T, want *Array", handle)
	}
	out, err := d.Materialize(ctx, handle)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %#v, want %#v", out, in)
	}
	if keys := out.([]any)[2].(*Map).Keys(); !reflect.DeepEqual(keys, []string{"z", "a", "m"}) {
		t.Errorf("keys = %v, want insertion order", keys)
	}
}

func TestToEvaluator_Integers(t *testing.T) {
	tests := []struct {
		in   any
		kind eval.Kind
	}{
		{0, eval.NumberKind},
		{int8(-3), eval.NumberKind},
		{uint16(9), eval.NumberKind},
		{int64(1 << 53), eval.NumberKind},
		{int64(-(1 << 53)), eval.NumberKind},
		{int64(1<<53 + 1), eval.BigIntKind},
		{uint64(1 << 63), eval.BigIntKind},
		{big.NewInt(1), eval.BigIntKind},
	}
	for _, tt := range tests {
		v, err := ToEvaluator(tt.in)
		if err != nil {
			t.Fatalf("ToEvaluator(%v) failed: %v", tt.in, err)
		}
		if v.Kind() != tt.kind {
			t.Errorf("ToEvaluator(%T %v) kind = %s, want %s", tt.in, tt.in, v.Kind(), tt.kind)
		}
	}
}

func TestToEvaluator_Collections(t *testing.T) {
	ctx := context.Background()

	v, err := ToEvaluator(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := v.(eval.Object).Fields(ctx, false)
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Errorf("map keys = %v, want sorted", keys)
	}

	v, err = ToEvaluator(Tuple{"x", 1})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.(eval.Array).Len(ctx); n != 2 {
		t.Errorf("tuple length = %d, want 2", n)
	}

	v, err = ToEvaluator(NewSet(3, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := eval.Manifest(ctx, v, eval.Compact)
	if got != "[1,2,3]" {
		t.Errorf("set = %s, want [1,2,3]", got)
	}

	v, err = ToEvaluator([2]string{"p", "q"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = eval.Manifest(ctx, v, eval.Compact)
	if got != `["p","q"]` {
		t.Errorf("array = %s", got)
	}
}

func TestToEvaluator_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"func", func() {}, "type error: functions are not supported"},
		{"nested func", []any{1, func() {}}, "type error: unsupported type at index 1: functions are not supported"},
		{"int keys", map[int]string{1: "x"}, "type error: key should be a string: got int"},
		{"bad value", map[string]any{"k": make(chan int)}, "type error: unsupported value type at 'k': unsupported type chan int"},
		{"deep", NewMap().Set("a", []any{struct{}{}}), "type error: unsupported value type at 'a': unsupported type at index 0: unsupported type struct {}"},
		{"nil array", (*Array)(nil), "type error: nil array handle"},
		{"nil object", []any{(*Object)(nil)}, "type error: unsupported type at index 0: nil object handle"},
		{"nil function", map[string]any{"f": (*Function)(nil)}, "type error: unsupported value type at 'f': nil function handle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToEvaluator(tt.in)
			if !errors.Is(err, ErrTypeError) {
				t.Fatalf("err = %v, want type error", err)
			}
			if err.Error() != tt.want {
				t.Errorf("err = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestMap_ZeroValue(t *testing.T) {
	var m Map
	m.Set("b", 1).Set("a", 2).Set("b", 3)
	if got := m.Keys(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("Keys = %v, want [b a]", got)
	}
	if v, _ := m.Get("b"); v != 3 {
		t.Errorf("Get(b) = %v, want 3", v)
	}
	ctx := context.Background()
	v, err := ToEvaluator(&m)
	if err != nil {
		t.Fatalf("ToEvaluator failed: %v", err)
	}
	got, _ := eval.Manifest(ctx, v, eval.Compact)
	if got != `{"b":3,"a":2}` {
		t.Errorf("manifest = %s", got)
	}
}

func TestEvaluate_RejectsBadArgs(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.Evaluate(context.Background(), "echo", map[string]any{"x": func() {}})
	if !errors.Is(err, ErrTypeError) {
		t.Fatalf("err = %v, want type error", err)
	}
	want := "type error: unsupported value type at 'x': functions are not supported"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}
