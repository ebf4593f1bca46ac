package graph

import (
	"fmt"
	"slices"
	"strings"
)

// Kind tags the variant of value a slot carries.
type Kind int

const (
	// KindNone marks metadata that has not been propagated yet.
	KindNone Kind = iota
	// KindScalar is a single opaque value (int, bool, string, struct).
	KindScalar
	// KindArray is an N-dimensional array with axis tags.
	KindArray
	// KindConfig is a string-keyed mapping of nested configuration.
	KindConfig
	// KindTable is a sequence of per-time-frame rows with a named schema.
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindConfig:
		return "config"
	case KindTable:
		return "table"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DType is the element type an array represents. Arrays always store
// float64 samples; the dtype records the value domain of the source.
type DType string

const (
	DTypeAny     DType = ""
	DTypeUint8   DType = "uint8"
	DTypeUint16  DType = "uint16"
	DTypeUint32  DType = "uint32"
	DTypeFloat32 DType = "float32"
	DTypeFloat64 DType = "float64"
)

// Axes is an ordered string of single-letter axis tags, e.g. "txyzc".
type Axes string

// Index returns the position of axis tag a, or -1.
func (ax Axes) Index(a byte) int {
	return strings.IndexByte(string(ax), a)
}

// Has reports whether axis tag a is present.
func (ax Axes) Has(a byte) bool { return ax.Index(a) >= 0 }

// Unique reports whether every tag appears at most once.
func (ax Axes) Unique() bool {
	seen := make(map[rune]bool, len(ax))
	for _, a := range ax {
		if seen[a] {
			return false
		}
		seen[a] = true
	}
	return true
}

// Meta describes the value a slot will produce: it is pushed eagerly
// through the graph and never requires data to be materialised.
type Meta struct {
	Kind   Kind
	Shape  []int
	Axes   Axes
	DType  DType
	Schema string
}

// Ready reports whether the metadata has been propagated.
func (m Meta) Ready() bool { return m.Kind != KindNone }

// Equal reports whether two metadata records describe the same value.
func (m Meta) Equal(o Meta) bool {
	return m.Kind == o.Kind && slices.Equal(m.Shape, o.Shape) &&
		m.Axes == o.Axes && m.DType == o.DType && m.Schema == o.Schema
}

// Clone returns a copy that does not share the shape slice.
func (m Meta) Clone() Meta {
	m.Shape = slices.Clone(m.Shape)
	return m
}

// AxisLen returns the length of axis a, or 1 if the axis is absent.
func (m Meta) AxisLen(a byte) int {
	if i := m.Axes.Index(a); i >= 0 {
		return m.Shape[i]
	}
	return 1
}

// FullRegion returns the region covering the whole value.
func (m Meta) FullRegion() Region {
	switch m.Kind {
	case KindArray, KindTable:
		return Full(m.Shape)
	}
	return Region{}
}

func (m Meta) String() string {
	switch m.Kind {
	case KindArray:
		return fmt.Sprintf("array%v axes=%s dtype=%s", m.Shape, m.Axes, m.DType)
	case KindTable:
		return fmt.Sprintf("table[%s]%v", m.Schema, m.Shape)
	}
	return m.Kind.String()
}

// ArrayMeta builds array metadata.
func ArrayMeta(axes Axes, dtype DType, shape ...int) Meta {
	return Meta{Kind: KindArray, Axes: axes, DType: dtype, Shape: slices.Clone(shape)}
}

// TableMeta builds table metadata for frames time frames.
func TableMeta(schema string, frames int) Meta {
	return Meta{Kind: KindTable, Axes: "t", Schema: schema, Shape: []int{frames}}
}

// ScalarMeta is the metadata of every scalar slot.
func ScalarMeta() Meta { return Meta{Kind: KindScalar} }

// ConfigMeta is the metadata of every configuration slot.
func ConfigMeta() Meta { return Meta{Kind: KindConfig} }

// Type is the declared type of a slot. Empty Axes, DType or Schema accept
// any value for that attribute.
type Type struct {
	Kind   Kind
	Axes   Axes
	DType  DType
	Schema string
}

// ArrayType declares an array slot. Pass "" to accept any axes or dtype.
func ArrayType(axes Axes, dtype DType) Type {
	return Type{Kind: KindArray, Axes: axes, DType: dtype}
}

// TableType declares a table slot with the given schema.
func TableType(schema string) Type { return Type{Kind: KindTable, Schema: schema} }

// ScalarType declares a scalar slot.
func ScalarType() Type { return Type{Kind: KindScalar} }

// ConfigType declares a configuration slot.
func ConfigType() Type { return Type{Kind: KindConfig} }

func (t Type) String() string {
	var b strings.Builder
	b.WriteString(t.Kind.String())
	if t.Axes != "" {
		fmt.Fprintf(&b, " axes=%s", t.Axes)
	}
	if t.DType != "" {
		fmt.Fprintf(&b, " dtype=%s", t.DType)
	}
	if t.Schema != "" {
		fmt.Fprintf(&b, " schema=%s", t.Schema)
	}
	return b.String()
}

// Accepts reports whether a slot of type t may be fed by a peer declared
// with type src.
func (t Type) Accepts(src Type) error {
	if t.Kind != src.Kind {
		return fmt.Errorf("%w: kind %s cannot feed %s", ErrIncompatibleSlot, src.Kind, t.Kind)
	}
	if t.Axes != "" && src.Axes != "" && t.Axes != src.Axes {
		return fmt.Errorf("%w: axes %q cannot feed %q", ErrIncompatibleSlot, src.Axes, t.Axes)
	}
	if t.DType != "" && src.DType != "" && t.DType != src.DType {
		return fmt.Errorf("%w: dtype %s cannot feed %s", ErrIncompatibleSlot, src.DType, t.DType)
	}
	if t.Schema != "" && src.Schema != "" && t.Schema != src.Schema {
		return fmt.Errorf("%w: schema %q cannot feed %q", ErrIncompatibleSlot, src.Schema, t.Schema)
	}
	return nil
}

// Admits checks propagated metadata against the declared type. Metadata
// that is not ready is admitted; it is checked again when it arrives.
func (t Type) Admits(m Meta) error {
	if !m.Ready() {
		return nil
	}
	return t.Accepts(Type{Kind: m.Kind, Axes: m.Axes, DType: m.DType, Schema: m.Schema})
}
