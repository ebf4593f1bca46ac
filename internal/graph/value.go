package graph

import (
	"fmt"
	"maps"
	"slices"
)

// Value is the closed set of things a slot can carry: *Array, Scalar,
// Config or Table.
type Value interface {
	Kind() Kind
}

// Scalar wraps a single Go value.
type Scalar struct {
	V any
}

// Kind implements Value.
func (Scalar) Kind() Kind { return KindScalar }

// Config is a mapping of string keys to nested configuration. Nested
// levels are Config values too.
type Config map[string]any

// Kind implements Value.
func (Config) Kind() Kind { return KindConfig }

// Keys returns the sorted top-level keys.
func (c Config) Keys() []string {
	return slices.Sorted(maps.Keys(c))
}

// Sub returns the nested Config stored under key, if any.
func (c Config) Sub(key string) (Config, bool) {
	v, ok := c[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case Config:
		return s, true
	case map[string]any:
		return Config(s), true
	}
	return nil, false
}

// Table holds one row per time frame, starting at frame Start. Rows are
// owned by the producing operator; consumers type-assert them to the
// concrete row type documented for the schema.
type Table struct {
	Schema string
	Start  int
	Rows   []any
}

// Kind implements Value.
func (Table) Kind() Kind { return KindTable }

// Row returns the row for absolute frame t.
func (tb Table) Row(t int) (any, bool) {
	i := t - tb.Start
	if i < 0 || i >= len(tb.Rows) {
		return nil, false
	}
	return tb.Rows[i], true
}

// Slice returns the rows inside the one-axis region r. Frames outside
// the rows tb holds are left out.
func (tb Table) Slice(r Region) Table {
	if r.IsZero() {
		return tb
	}
	lo := min(max(r.Start[0]-tb.Start, 0), len(tb.Rows))
	hi := min(max(r.Stop[0]-tb.Start, lo), len(tb.Rows))
	return Table{Schema: tb.Schema, Start: tb.Start + lo, Rows: slices.Clone(tb.Rows[lo:hi])}
}

// Wrap converts a plain Go value into a Value: Values pass through,
// map[string]any becomes Config and anything else becomes Scalar.
func Wrap(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case map[string]any:
		return Config(x)
	}
	return Scalar{V: v}
}

// MetaOf derives the metadata of a concrete value.
func MetaOf(v Value) Meta {
	switch x := v.(type) {
	case *Array:
		return x.Meta()
	case Table:
		return TableMeta(x.Schema, x.Start+len(x.Rows))
	case Config:
		return ConfigMeta()
	case Scalar:
		return ScalarMeta()
	}
	return Meta{}
}

// restrict returns the part of v inside r.
func restrict(v Value, r Region) Value {
	switch x := v.(type) {
	case *Array:
		return x.Sub(r)
	case Table:
		return x.Slice(r)
	}
	return v
}

// check verifies that v is a valid answer to a request for r on a slot
// with metadata m.
func (m Meta) check(v Value, r Region) error {
	if v == nil {
		return fmt.Errorf("%w: nil value for %s", ErrInvalidValue, m)
	}
	if v.Kind() != m.Kind {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidValue, v.Kind(), m.Kind)
	}
	switch x := v.(type) {
	case *Array:
		if x.Axes != m.Axes {
			return fmt.Errorf("%w: axes %q, want %q", ErrInvalidValue, x.Axes, m.Axes)
		}
		if !slices.Equal(x.Shape, r.Shape()) {
			return fmt.Errorf("%w: shape %v for region %s", ErrInvalidValue, x.Shape, r)
		}
		if len(x.Data) != r.Size() {
			return fmt.Errorf("%w: %d samples for region %s", ErrInvalidValue, len(x.Data), r)
		}
	case Table:
		if x.Schema != m.Schema {
			return fmt.Errorf("%w: schema %q, want %q", ErrInvalidValue, x.Schema, m.Schema)
		}
		if x.Start != r.Start[0] || len(x.Rows) != r.Stop[0]-r.Start[0] {
			return fmt.Errorf("%w: rows [%d:%d) for region %s", ErrInvalidValue, x.Start, x.Start+len(x.Rows), r)
		}
	}
	return nil
}

// AsArray asserts that v is an array.
func AsArray(v Value) (*Array, error) {
	a, ok := v.(*Array)
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrInvalidValue, v)
	}
	return a, nil
}

// AsTable asserts that v is a table.
func AsTable(v Value) (Table, error) {
	t, ok := v.(Table)
	if !ok {
		return Table{}, fmt.Errorf("%w: expected table, got %T", ErrInvalidValue, v)
	}
	return t, nil
}

// AsConfig asserts that v is a configuration mapping.
func AsConfig(v Value) (Config, error) {
	c, ok := v.(Config)
	if !ok {
		return nil, fmt.Errorf("%w: expected config, got %T", ErrInvalidValue, v)
	}
	return c, nil
}

// ScalarAs unwraps a Scalar holding a T.
func ScalarAs[T any](v Value) (T, error) {
	var zero T
	s, ok := v.(Scalar)
	if !ok {
		return zero, fmt.Errorf("%w: expected scalar, got %T", ErrInvalidValue, v)
	}
	t, ok := s.V.(T)
	if !ok {
		return zero, fmt.Errorf("%w: scalar holds %T, want %T", ErrInvalidValue, s.V, zero)
	}
	return t, nil
}

// Rows converts the rows of a table into their concrete type.
func Rows[T any](tb Table) ([]T, error) {
	out := make([]T, len(tb.Rows))
	for i, r := range tb.Rows {
		row, ok := r.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("%w: table %q row %d is %T, want %T", ErrInvalidValue, tb.Schema, tb.Start+i, r, zero)
		}
		out[i] = row
	}
	return out, nil
}
