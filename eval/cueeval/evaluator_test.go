package cueeval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/chazu/chainql/bridge"
	"github.com/chazu/chainql/eval"
	"github.com/chazu/chainql/internal/asyncrt"
)

var testRuntime *asyncrt.Runtime

func TestMain(m *testing.M) {
	if err := asyncrt.EnsureInitialized(asyncrt.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "async runtime: %v\n", err)
		os.Exit(1)
	}
	rt, err := asyncrt.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "async runtime: %v\n", err)
		os.Exit(1)
	}
	testRuntime = rt
	os.Exit(m.Run())
}

func evaluate(t *testing.T, expr string, args map[string]eval.Value) eval.Value {
	t.Helper()
	ctx, scope := testRuntime.Enter(context.Background())
	defer scope.Close()
	v, err := New().Evaluate(ctx, expr, args)
	if err != nil {
		t.Fatalf("Evaluate(%q) failed: %v", expr, err)
	}
	return v
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

func TestEvaluate_Scalars(t *testing.T) {
	tests := []struct {
		expr string
		want eval.Value
	}{
		{"null", eval.Null{}},
		{"true", eval.Bool(true)},
		{"1 + 2", eval.Number(3)},
		{"1.5", eval.Number(1.5)},
		{`"a" + "b"`, eval.String("ab")},
		{`'raw'`, eval.String("raw")},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := evaluate(t, tt.expr, nil)
			if got != tt.want {
				t.Errorf("Evaluate = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_LargeIntegersAreBig(t *testing.T) {
	got := evaluate(t, "9007199254740993 * 10", nil)
	n, ok := got.(eval.BigInt)
	if !ok {
		t.Fatalf("Evaluate = %T, want eval.BigInt", got)
	}
	if n.Int.String() != "90071992547409930" {
		t.Errorf("Evaluate = %s", n.Int)
	}

	if got := evaluate(t, "9007199254740992", nil); got != eval.Number(9007199254740992) {
		t.Errorf("2^53 = %#v, want a Number", got)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"a: ", "int", "1 & 2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := New().Evaluate(context.Background(), expr, nil)
			var re *eval.RuntimeError
			if !errors.As(err, &re) {
				t.Errorf("err = %v, want *eval.RuntimeError", err)
			}
		})
	}
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(eval.ErrCancelled)
	_, err := New().Evaluate(ctx, "1", nil)
	if !errors.Is(err, eval.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

const sample = `
b: 1
a: [1, "x", {c: true}]
_h: "hidden"
#Def: int
opt?: string
`

func TestObject_Fields(t *testing.T) {
	ctx := context.Background()
	obj, ok := evaluate(t, sample, nil).(eval.Object)
	if !ok {
		t.Fatal("sample is not an object")
	}

	visible, err := obj.Fields(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(visible, []string{"b", "a"}) {
		t.Errorf("visible fields = %v, want [b a]", visible)
	}
	all, err := obj.Fields(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(all, []string{"b", "a", "_h"}) {
		t.Errorf("all fields = %v, want [b a _h]", all)
	}
	if n, _ := obj.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}

	h, ok, err := obj.Get(ctx, "_h")
	if err != nil || !ok || h != eval.String("hidden") {
		t.Errorf("Get(_h) = %v, %v, %v", h, ok, err)
	}
	if has, _ := obj.Has(ctx, "opt"); has {
		t.Error("optional field reported as present")
	}
	if _, ok, _ := obj.Get(ctx, "missing"); ok {
		t.Error("Get(missing) reported ok")
	}
}

func TestArray_Elements(t *testing.T) {
	ctx := context.Background()
	obj := evaluate(t, sample, nil).(eval.Object)
	v, _, err := obj.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := v.(eval.Array)
	if !ok {
		t.Fatalf("a = %T, want eval.Array", v)
	}
	if n, _ := arr.Len(ctx); n != 3 {
		t.Errorf("Len = %d, want 3", n)
	}
	if el, ok, _ := arr.Get(ctx, 1); !ok || el != eval.String("x") {
		t.Errorf("Get(1) = %v, %v", el, ok)
	}
	if _, ok, _ := arr.Get(ctx, 3); ok {
		t.Error("Get(3) reported ok")
	}
}

func TestManifest_CUEValue(t *testing.T) {
	got, err := eval.Manifest(context.Background(), evaluate(t, sample, nil), eval.Compact)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"b":1,"a":[1,"x",{"c":true}]}`; got != want {
		t.Errorf("Manifest = %s, want %s", got, want)
	}
}

// ---------------------------------------------------------------------------
// Arguments and functions
// ---------------------------------------------------------------------------

func TestEvaluate_Args(t *testing.T) {
	args := map[string]eval.Value{
		"x":  eval.Number(41),
		"o":  eval.NewObjectBuilder(1).Field("n", eval.Number(2)).Build(),
		"xs": eval.NewArray(eval.Null{}, eval.Bool(false), eval.String("s")),
	}
	tests := []struct {
		expr string
		want eval.Value
	}{
		{"x + 1", eval.Number(42)},
		{"o.n * 10", eval.Number(20)},
		{"len(xs)", eval.Number(3)},
		{"x & int", eval.Number(41)},
	}
	for _, tt := range tests {
		if got := evaluate(t, tt.expr, args); got != tt.want {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.expr, got, tt.want)
		}
	}
}

const functions = `
add: {
	@fn(a, b)
	a: int
	b: int
	out: a + b
}
greet: {
	@fn(name, out=msg)
	name: string
	msg: "hello " + name
}
`

func TestFunction_Call(t *testing.T) {
	ctx := context.Background()
	obj := evaluate(t, functions, nil).(eval.Object)

	v, _, err := obj.Get(ctx, "add")
	if err != nil {
		t.Fatal(err)
	}
	add, ok := v.(eval.Function)
	if !ok {
		t.Fatalf("add = %T, want eval.Function", v)
	}
	if !reflect.DeepEqual(add.Params(), []string{"a", "b"}) {
		t.Errorf("Params = %v", add.Params())
	}
	sum, err := add.Call(ctx, []eval.Value{eval.Number(2), eval.Number(3)})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sum != eval.Number(5) {
		t.Errorf("add(2, 3) = %#v", sum)
	}
	if _, err := add.Call(ctx, []eval.Value{eval.String("x"), eval.Number(1)}); err == nil {
		t.Error("add(\"x\", 1) succeeded")
	}
	if _, err := add.Call(ctx, []eval.Value{eval.Number(1)}); err == nil {
		t.Error("add(1) succeeded")
	}

	v, _, _ = obj.Get(ctx, "greet")
	msg, err := v.(eval.Function).Call(ctx, []eval.Value{eval.String("cue")})
	if err != nil {
		t.Fatal(err)
	}
	if msg != eval.String("hello cue") {
		t.Errorf("greet(cue) = %#v", msg)
	}

	if _, err := eval.Manifest(ctx, obj, eval.Compact); err == nil {
		t.Error("manifesting functions succeeded")
	}
}

// ---------------------------------------------------------------------------
// Fetch
// ---------------------------------------------------------------------------

func TestFetch_ResolvedOnAccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"usd": 12.5}`)
	}))
	defer srv.Close()

	src := fmt.Sprintf("name: \"dot\"\nprice: {usd: number} @fetch(%q)\n", srv.URL)
	ctx, scope := testRuntime.Enter(context.Background())
	defer scope.Close()

	obj := evaluate(t, src, nil).(eval.Object)
	if _, _, err := obj.Get(ctx, "name"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 0 {
		t.Fatalf("fetched %d times before the field was read", hits.Load())
	}

	price, _, err := obj.Get(ctx, "price")
	if err != nil {
		t.Fatalf("Get(price) failed: %v", err)
	}
	usd, _, err := price.(eval.Object).Get(ctx, "usd")
	if err != nil {
		t.Fatal(err)
	}
	if usd != eval.Number(12.5) {
		t.Errorf("usd = %#v, want 12.5", usd)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestFetch_Mismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"usd": 12.5}`)
	}))
	defer srv.Close()

	src := fmt.Sprintf("price: {usd: string} @fetch(%q)\n", srv.URL)
	ctx, scope := testRuntime.Enter(context.Background())
	defer scope.Close()

	obj := evaluate(t, src, nil).(eval.Object)
	if _, _, err := obj.Get(ctx, "price"); err == nil {
		t.Error("mismatched fetch succeeded")
	}
}

func TestFetch_NeedsRuntime(t *testing.T) {
	obj := evaluate(t, `x: _ @fetch("http://127.0.0.1:1/")`, nil).(eval.Object)
	_, _, err := obj.Get(context.Background(), "x")
	if err == nil {
		t.Fatal("fetch outside a call succeeded")
	}
}

// ---------------------------------------------------------------------------
// Through the bridge
// ---------------------------------------------------------------------------

func TestBridge_EndToEnd(t *testing.T) {
	ctx := context.Background()
	d := bridge.New(New())

	v, err := d.Evaluate(ctx, "x.a + len(ys)", map[string]any{
		"x":  bridge.NewMap().Set("a", 1),
		"ys": []string{"p", "q"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v != 3.0 {
		t.Errorf("Evaluate = %v, want 3", v)
	}

	v, err = d.Evaluate(ctx, functions, nil)
	if err != nil {
		t.Fatal(err)
	}
	add, err := v.(*bridge.Object).Get(ctx, "add")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := add.(*bridge.Function).Call(ctx, 20, 22)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sum != 42.0 {
		t.Errorf("add(20, 22) = %v, want 42", sum)
	}

	_, err = d.Evaluate(ctx, "1 & 2", nil)
	if !errors.Is(err, bridge.ErrRuntime) {
		t.Errorf("err = %v, want runtime error", err)
	}
}

func TestBridge_ValuesFromAnotherEvaluator(t *testing.T) {
	ctx := context.Background()
	dA := bridge.New(New())
	dB := bridge.New(New())

	src, err := dA.Evaluate(ctx, `{a: 20, b: 22, pair: [a, b], add: {@fn(x), x: _, out: x}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	objA := src.(*bridge.Object)

	v, err := dB.Evaluate(ctx, `{sum: {@fn(x), x: {a: int, b: int}, out: x.a + x.b}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := v.(*bridge.Object).Get(ctx, "sum")
	if err != nil {
		t.Fatal(err)
	}

	// Copied structurally: the function field is the only thing that cannot
	// cross contexts.
	_, err = sum.(*bridge.Function).Call(ctx, objA)
	if !errors.Is(err, bridge.ErrRuntime) {
		t.Errorf("sum(objA with function field) err = %v, want runtime error", err)
	}

	pair, err := objA.Get(ctx, "pair")
	if err != nil {
		t.Fatal(err)
	}
	n, err := dB.Evaluate(ctx, "p[0] + p[1]", map[string]any{"p": pair})
	if err != nil {
		t.Fatalf("Evaluate with foreign array failed: %v", err)
	}
	if n != 42.0 {
		t.Errorf("p[0] + p[1] = %v, want 42", n)
	}

	plain, err := dA.Evaluate(ctx, `{a: 1, b: 2}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := sum.(*bridge.Function).Call(ctx, plain)
	if err != nil {
		t.Fatalf("sum(foreign object) failed: %v", err)
	}
	if got != 3.0 {
		t.Errorf("sum(foreign object) = %v, want 3", got)
	}

	add, err := objA.Get(ctx, "add")
	if err != nil {
		t.Fatal(err)
	}
	_, err = dB.Evaluate(ctx, "f", map[string]any{"f": add})
	if !errors.Is(err, bridge.ErrRuntime) {
		t.Errorf("foreign function err = %v, want runtime error", err)
	}
	if bridge.KindOf(err) == bridge.WorkerFault {
		t.Errorf("foreign function raised a worker fault: %v", err)
	}
}
