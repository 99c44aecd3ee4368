// Package eval defines the contract between the execution bridge and an
// embedded expression evaluator: the dynamic Value model and the Evaluator
// entry point.
//
// Values handed out by an Evaluator are not safe for concurrent use. A Value,
// or anything reachable from it, must only be touched by one goroutine at a
// time. The bridge package enforces this by running every evaluator
// interaction on a dedicated worker.
package eval

import (
	"context"
	"math/big"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	NullKind Kind = iota
	BoolKind
	NumberKind
	BigIntKind
	StringKind
	ArrayKind
	ObjectKind
	FunctionKind
)

var kindNames = [...]string{
	NullKind:     "null",
	BoolKind:     "boolean",
	NumberKind:   "number",
	BigIntKind:   "bigint",
	StringKind:   "string",
	ArrayKind:    "array",
	ObjectKind:   "object",
	FunctionKind: "function",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is one of Null, Bool, Number, BigInt, String, Array, Object or
// Function. The set is closed.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the evaluator's null.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Number is a double-precision number.
type Number float64

// BigInt is an arbitrary-precision integer. The wrapped *big.Int must not be
// mutated once the value has been created.
type BigInt struct {
	Int *big.Int
}

// String is a text value.
type String string

func (Null) Kind() Kind   { return NullKind }
func (Bool) Kind() Kind   { return BoolKind }
func (Number) Kind() Kind { return NumberKind }
func (BigInt) Kind() Kind { return BigIntKind }
func (String) Kind() Kind { return StringKind }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (BigInt) isValue() {}
func (String) isValue() {}

// NewBigInt copies n into a BigInt value.
func NewBigInt(n *big.Int) BigInt {
	return BigInt{Int: new(big.Int).Set(n)}
}

// Array is a lazy ordered sequence. Elements are only evaluated when read.
type Array interface {
	Value
	Len(ctx context.Context) (int, error)
	// Get returns the element at i. ok is false when i is out of range.
	Get(ctx context.Context, i int) (v Value, ok bool, err error)
}

// Object is a lazy ordered mapping from string keys to values. Fields may be
// hidden; hidden fields are excluded from Len and from Fields unless asked for.
type Object interface {
	Value
	Len(ctx context.Context) (int, error)
	Has(ctx context.Context, key string) (bool, error)
	// Get returns the field named key. ok is false when the field is absent.
	Get(ctx context.Context, key string) (v Value, ok bool, err error)
	// Fields lists field names in declaration order.
	Fields(ctx context.Context, includeHidden bool) ([]string, error)
}

// Function is an opaque callable closing over evaluator state.
type Function interface {
	Value
	Params() []string
	Call(ctx context.Context, args []Value) (Value, error)
}

// Evaluator compiles and evaluates an expression. args are made available to
// the expression as top-level identifiers.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, args map[string]Value) (Value, error)
}

// ArrayBase, ObjectBase and FunctionBase are embedded by container
// implementations outside this package to complete the Value interface.
type (
	ArrayBase    struct{}
	ObjectBase   struct{}
	FunctionBase struct{}
)

func (ArrayBase) Kind() Kind    { return ArrayKind }
func (ObjectBase) Kind() Kind   { return ObjectKind }
func (FunctionBase) Kind() Kind { return FunctionKind }

func (ArrayBase) isValue()    {}
func (ObjectBase) isValue()   {}
func (FunctionBase) isValue() {}
