package graph

import (
	"fmt"
	"slices"
)

// Array is a dense row-major N-dimensional array. Samples are stored as
// float64 whatever the dtype; Axes tags each dimension.
type Array struct {
	Shape []int
	Axes  Axes
	DType DType
	Data  []float64
}

// NewArray allocates a zero-filled array.
func NewArray(axes Axes, dtype DType, shape ...int) *Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Array{Shape: slices.Clone(shape), Axes: axes, DType: dtype, Data: make([]float64, n)}
}

// Kind implements Value.
func (a *Array) Kind() Kind { return KindArray }

// Meta returns the metadata describing a.
func (a *Array) Meta() Meta { return ArrayMeta(a.Axes, a.DType, a.Shape...) }

// Len is the number of samples.
func (a *Array) Len() int { return len(a.Data) }

// Strides returns the row-major element strides.
func (a *Array) Strides() []int {
	st := make([]int, len(a.Shape))
	s := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		st[i] = s
		s *= a.Shape[i]
	}
	return st
}

// Offset converts a multi-index into a position in Data.
func (a *Array) Offset(idx ...int) int {
	off, s := 0, 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		off += idx[i] * s
		s *= a.Shape[i]
	}
	return off
}

// At returns the sample at idx.
func (a *Array) At(idx ...int) float64 { return a.Data[a.Offset(idx...)] }

// Set stores v at idx.
func (a *Array) Set(v float64, idx ...int) { a.Data[a.Offset(idx...)] = v }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{Shape: slices.Clone(a.Shape), Axes: a.Axes, DType: a.DType, Data: slices.Clone(a.Data)}
}

// Sub copies the samples inside r into a new array.
func (a *Array) Sub(r Region) *Array {
	if r.IsZero() || r.Equal(Full(a.Shape)) {
		return a.Clone()
	}
	out := NewArray(a.Axes, a.DType, r.Shape()...)
	copyBox(out, Full(out.Shape), a, r)
	return out
}

// Paste writes src into the box r of a. src must have r's shape.
func (a *Array) Paste(r Region, src *Array) {
	copyBox(a, r, src, Full(src.Shape))
}

// copyBox copies the box sr of src into the box dr of dst. Both boxes have
// the same shape. The innermost axis is copied with copy().
func copyBox(dst *Array, dr Region, src *Array, sr Region) {
	rank := len(dst.Shape)
	if rank == 0 {
		dst.Data[0] = src.Data[0]
		return
	}
	shape := dr.Shape()
	for _, s := range shape {
		if s == 0 {
			return
		}
	}
	dst.checkRank(dr)
	src.checkRank(sr)
	inner := shape[rank-1]
	idx := make([]int, rank)
	di := make([]int, rank)
	si := make([]int, rank)
	for {
		for i := 0; i < rank; i++ {
			di[i] = dr.Start[i] + idx[i]
			si[i] = sr.Start[i] + idx[i]
		}
		d := dst.Offset(di...)
		s := src.Offset(si...)
		copy(dst.Data[d:d+inner], src.Data[s:s+inner])

		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func (a *Array) checkRank(r Region) {
	if r.Rank() != len(a.Shape) {
		panic(fmt.Sprintf("graph: region rank %d does not match array rank %d", r.Rank(), len(a.Shape)))
	}
}

// Reorder returns a copy of a laid out with the given axis order. Axes
// missing from a are inserted with length 1; axes of a missing from the
// target are dropped, which is only allowed when their length is 1. Sample
// values are never changed.
func (a *Array) Reorder(target Axes) (*Array, error) {
	if !target.Unique() {
		return nil, fmt.Errorf("%w: duplicate axis in %q", ErrIncompatibleSlot, target)
	}
	for i, ax := range []byte(a.Axes) {
		if !target.Has(ax) && a.Shape[i] != 1 {
			return nil, fmt.Errorf("%w: cannot drop axis %c of length %d reordering %q to %q",
				ErrIncompatibleSlot, ax, a.Shape[i], a.Axes, target)
		}
	}
	if target == a.Axes {
		return a.Clone(), nil
	}

	shape := make([]int, len(target))
	srcAxis := make([]int, len(target))
	for j := range []byte(target) {
		srcAxis[j] = a.Axes.Index(target[j])
		shape[j] = 1
		if srcAxis[j] >= 0 {
			shape[j] = a.Shape[srcAxis[j]]
		}
	}
	out := NewArray(target, a.DType, shape...)
	if len(a.Data) == 0 {
		return out, nil
	}

	// Stride of each output axis measured in the source array.
	srcStrides := a.Strides()
	step := make([]int, len(target))
	for j, i := range srcAxis {
		if i >= 0 {
			step[j] = srcStrides[i]
		}
	}
	idx := make([]int, len(target))
	src := 0
	for o := range out.Data {
		out.Data[o] = a.Data[src]
		j := len(target) - 1
		for ; j >= 0; j-- {
			idx[j]++
			src += step[j]
			if idx[j] < shape[j] {
				break
			}
			src -= step[j] * idx[j]
			idx[j] = 0
		}
	}
	return out, nil
}
