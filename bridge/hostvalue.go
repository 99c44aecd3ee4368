package bridge

import (
	"fmt"
	"sort"
)

// Host values are plain Go values: nil, bool, float64, *big.Int, string,
// []any, Tuple, Set, *Map, map[string]T, and the lazy handles *Object,
// *Array and *Function.

// Tuple is a fixed sequence. It marshals like a slice.
type Tuple []any

// Set is an unordered collection. It marshals to an array whose elements are
// ordered by their printed form, so the result is deterministic.
type Set map[any]struct{}

// NewSet builds a Set from elems.
func NewSet(elems ...any) Set {
	s := make(Set, len(elems))
	for _, e := range elems {
		s[e] = struct{}{}
	}
	return s
}

func (s Set) sorted() []any {
	out := make([]any, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprintf("%T:%v", out[i], out[i]) < fmt.Sprintf("%T:%v", out[j], out[j])
	})
	return out
}

// Map is a string-keyed mapping that remembers insertion order.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Set assigns key. A new key is appended to the order; an existing key keeps
// its position.
func (m *Map) Set(key string, value any) *Map {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value for key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}
