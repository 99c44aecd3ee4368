package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Format selects the manifestation layout. Indent 0 produces a single line
// without whitespace; a positive Indent produces one element per line.
type Format struct {
	Indent int
}

var (
	Compact = Format{}
	Pretty  = Format{Indent: 2}
)

// Manifest serializes v as nested JSON arrays and objects in a single pass.
// Object keys keep their declared order and hidden fields are skipped.
func Manifest(ctx context.Context, v Value, f Format) (string, error) {
	m := &manifester{ctx: ctx, format: f}
	if err := m.value(v, 0); err != nil {
		return "", err
	}
	return m.buf.String(), nil
}

type manifester struct {
	ctx    context.Context
	format Format
	buf    strings.Builder
}

func (m *manifester) newline(depth int) {
	if m.format.Indent <= 0 {
		return
	}
	m.buf.WriteByte('\n')
	m.buf.WriteString(strings.Repeat(" ", depth*m.format.Indent))
}

func (m *manifester) value(v Value, depth int) error {
	if err := Checkpoint(m.ctx); err != nil {
		return err
	}
	switch x := v.(type) {
	case Null:
		m.buf.WriteString("null")
	case Bool:
		m.buf.WriteString(strconv.FormatBool(bool(x)))
	case Number:
		s, err := formatNumber(float64(x))
		if err != nil {
			return err
		}
		m.buf.WriteString(s)
	case BigInt:
		m.buf.WriteString(x.Int.String())
	case String:
		m.buf.WriteString(quote(string(x)))
	case Array:
		return m.array(x, depth)
	case Object:
		return m.object(x, depth)
	case Function:
		return Errorf("tried to manifest function")
	default:
		return Errorf("cannot manifest %T", v)
	}
	return nil
}

func (m *manifester) array(a Array, depth int) error {
	n, err := a.Len(m.ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		m.buf.WriteString("[]")
		return nil
	}
	m.buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			m.buf.WriteByte(',')
		}
		m.newline(depth + 1)
		elem, _, err := a.Get(m.ctx, i)
		if err != nil {
			return err
		}
		if err := m.value(elem, depth+1); err != nil {
			return err
		}
	}
	m.newline(depth)
	m.buf.WriteByte(']')
	return nil
}

func (m *manifester) object(o Object, depth int) error {
	keys, err := o.Fields(m.ctx, false)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		m.buf.WriteString("{}")
		return nil
	}
	m.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			m.buf.WriteByte(',')
		}
		m.newline(depth + 1)
		m.buf.WriteString(quote(k))
		m.buf.WriteByte(':')
		if m.format.Indent > 0 {
			m.buf.WriteByte(' ')
		}
		field, _, err := o.Get(m.ctx, k)
		if err != nil {
			return err
		}
		if err := m.value(field, depth+1); err != nil {
			return err
		}
	}
	m.newline(depth)
	m.buf.WriteByte('}')
	return nil
}

func formatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", Errorf("cannot manifest non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
