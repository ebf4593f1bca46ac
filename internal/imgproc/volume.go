// Package imgproc holds the per-frame image routines behind the stage
// operators: smoothing, connected components and object statistics.
package imgproc

import (
	"fmt"

	"github.com/banshee-data/cellflow/internal/graph"
)

// Volume is one time frame of one channel of a "txyzc" array, stored
// with z varying fastest.
type Volume struct {
	NX, NY, NZ int
	Data       []float64
}

// NewVolume allocates a zero volume.
func NewVolume(nx, ny, nz int) *Volume {
	return &Volume{NX: nx, NY: ny, NZ: nz, Data: make([]float64, nx*ny*nz)}
}

// Index converts coordinates into a position in Data.
func (v *Volume) Index(x, y, z int) int { return (x*v.NY+y)*v.NZ + z }

// Coords is the inverse of Index.
func (v *Volume) Coords(i int) (x, y, z int) {
	z = i % v.NZ
	i /= v.NZ
	return i / v.NY, i % v.NY, z
}

// At returns the sample at (x, y, z).
func (v *Volume) At(x, y, z int) float64 { return v.Data[v.Index(x, y, z)] }

// Len is the number of voxels.
func (v *Volume) Len() int { return len(v.Data) }

// Frame extracts frame t (an index into a's own t axis) and channel c of a
// "txyzc" array.
func Frame(a *graph.Array, t, c int) (*Volume, error) {
	if a.Axes != "txyzc" {
		return nil, fmt.Errorf("%w: frame of %q array", graph.ErrIncompatibleSlot, a.Axes)
	}
	nx, ny, nz, nc := a.Shape[1], a.Shape[2], a.Shape[3], a.Shape[4]
	v := NewVolume(nx, ny, nz)
	base := t * v.Len()
	for i := range v.Data {
		v.Data[i] = a.Data[(base+i)*nc+c]
	}
	return v, nil
}

// SetFrame writes v into frame t and channel c of a "txyzc" array.
func SetFrame(a *graph.Array, t, c int, v *Volume) {
	nc := a.Shape[4]
	base := t * v.Len()
	for i, s := range v.Data {
		a.Data[(base+i)*nc+c] = s
	}
}
