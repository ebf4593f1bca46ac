package graph

import (
	"fmt"
	"slices"
	"strings"
)

// Region is a half-open box [Start, Stop) over the axes of an array or
// table. The zero Region stands for the whole value.
type Region struct {
	Start []int
	Stop  []int
}

// Full returns the region covering shape.
func Full(shape []int) Region {
	return Region{Start: make([]int, len(shape)), Stop: slices.Clone(shape)}
}

// NewRegion copies start and stop into a Region.
func NewRegion(start, stop []int) Region {
	return Region{Start: slices.Clone(start), Stop: slices.Clone(stop)}
}

// IsZero reports whether r is the zero Region (meaning "everything").
func (r Region) IsZero() bool { return r.Start == nil && r.Stop == nil }

// Rank is the number of axes.
func (r Region) Rank() int { return len(r.Start) }

// Shape returns the extent along each axis.
func (r Region) Shape() []int {
	s := make([]int, len(r.Start))
	for i := range s {
		s[i] = r.Stop[i] - r.Start[i]
	}
	return s
}

// Size is the number of elements covered.
func (r Region) Size() int {
	n := 1
	for i := range r.Start {
		n *= r.Stop[i] - r.Start[i]
	}
	return n
}

// Empty reports whether r covers no element.
func (r Region) Empty() bool {
	for i := range r.Start {
		if r.Stop[i] <= r.Start[i] {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r Region) Clone() Region {
	if r.IsZero() {
		return r
	}
	return NewRegion(r.Start, r.Stop)
}

// Equal reports whether both regions cover the same box.
func (r Region) Equal(o Region) bool {
	return slices.Equal(r.Start, o.Start) && slices.Equal(r.Stop, o.Stop)
}

// Within reports whether r fits inside an array of the given shape.
func (r Region) Within(shape []int) bool {
	if len(r.Start) != len(shape) || len(r.Stop) != len(shape) {
		return false
	}
	for i := range shape {
		if r.Start[i] < 0 || r.Stop[i] > shape[i] || r.Start[i] > r.Stop[i] {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of r and o and whether it is non-empty.
// The zero Region intersects everything as itself.
func (r Region) Intersect(o Region) (Region, bool) {
	if r.IsZero() {
		return o.Clone(), o.IsZero() || !o.Empty()
	}
	if o.IsZero() {
		return r.Clone(), !r.Empty()
	}
	if r.Rank() != o.Rank() {
		return Region{}, false
	}
	out := Region{Start: make([]int, r.Rank()), Stop: make([]int, r.Rank())}
	for i := range r.Start {
		out.Start[i] = max(r.Start[i], o.Start[i])
		out.Stop[i] = min(r.Stop[i], o.Stop[i])
		if out.Stop[i] <= out.Start[i] {
			return Region{}, false
		}
	}
	return out, true
}

// Overlaps reports whether r and o share at least one element.
func (r Region) Overlaps(o Region) bool {
	_, ok := r.Intersect(o)
	return ok
}

// Contains reports whether o lies entirely inside r.
func (r Region) Contains(o Region) bool {
	if r.IsZero() {
		return true
	}
	if o.IsZero() || r.Rank() != o.Rank() {
		return false
	}
	for i := range r.Start {
		if o.Start[i] < r.Start[i] || o.Stop[i] > r.Stop[i] {
			return false
		}
	}
	return true
}

// Relative expresses r in the coordinates of the box origin.
func (r Region) Relative(origin Region) Region {
	out := r.Clone()
	for i := range out.Start {
		out.Start[i] -= origin.Start[i]
		out.Stop[i] -= origin.Start[i]
	}
	return out
}

// WithAxis returns a copy of r with axis i replaced by [start, stop).
func (r Region) WithAxis(i, start, stop int) Region {
	out := r.Clone()
	out.Start[i] = start
	out.Stop[i] = stop
	return out
}

// Axis returns the bounds of axis i.
func (r Region) Axis(i int) (start, stop int) { return r.Start[i], r.Stop[i] }

// String renders r as a slicing expression; it doubles as a cache key.
func (r Region) String() string {
	if r.IsZero() {
		return "[:]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i := range r.Start {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d:%d", r.Start[i], r.Stop[i])
	}
	b.WriteByte(']')
	return b.String()
}

// Split cuts r along axis into consecutive pieces of at most step elements.
func (r Region) Split(axis, step int) []Region {
	if step <= 0 {
		return []Region{r.Clone()}
	}
	var out []Region
	for s := r.Start[axis]; s < r.Stop[axis]; s += step {
		out = append(out, r.WithAxis(axis, s, min(s+step, r.Stop[axis])))
	}
	return out
}

// Blocks tiles r with the grid defined by blockShape over an array of the
// given shape. A zero block length means "whole axis". Each returned block
// is grid aligned and clipped to shape.
func Blocks(r Region, shape, blockShape []int) []Region {
	if r.Empty() {
		return nil
	}
	rank := len(shape)
	starts := make([][]int, rank)
	for i := 0; i < rank; i++ {
		step := shape[i]
		if i < len(blockShape) && blockShape[i] > 0 {
			step = blockShape[i]
		}
		if step == 0 {
			step = 1
		}
		for s := (r.Start[i] / step) * step; s < r.Stop[i]; s += step {
			starts[i] = append(starts[i], s)
		}
	}
	var out []Region
	idx := make([]int, rank)
	for {
		b := Region{Start: make([]int, rank), Stop: make([]int, rank)}
		for i := 0; i < rank; i++ {
			step := shape[i]
			if i < len(blockShape) && blockShape[i] > 0 {
				step = blockShape[i]
			}
			b.Start[i] = starts[i][idx[i]]
			b.Stop[i] = min(b.Start[i]+max(step, 1), shape[i])
		}
		out = append(out, b)

		i := rank - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(starts[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
