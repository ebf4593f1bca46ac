// Package testutil provides shared test helpers and array fixtures.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/cellflow/internal/graph"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// RampArray returns a float32 array whose samples count up from 0 in
// row-major order.
func RampArray(axes graph.Axes, shape ...int) *graph.Array {
	a := graph.NewArray(axes, graph.DTypeFloat32, shape...)
	for i := range a.Data {
		a.Data[i] = float64(i)
	}
	return a
}

// Disk describes a filled circle drawn into one frame of a "tyx" movie.
type Disk struct {
	T, Y, X int
	Radius  float64
	Value   float64
}

// DiskMovie returns a "tyx" float32 movie of t frames of h by w pixels
// with the given disks drawn on a zero background.
func DiskMovie(t, h, w int, disks ...Disk) *graph.Array {
	a := graph.NewArray("tyx", graph.DTypeFloat32, t, h, w)
	for _, d := range disks {
		r := int(math.Ceil(d.Radius))
		for y := max(d.Y-r, 0); y <= min(d.Y+r, h-1); y++ {
			for x := max(d.X-r, 0); x <= min(d.X+r, w-1); x++ {
				dy, dx := float64(y-d.Y), float64(x-d.X)
				if dy*dy+dx*dx <= d.Radius*d.Radius {
					a.Set(d.Value, d.T, y, x)
				}
			}
		}
	}
	return a
}

// WithChannels stacks movies along a trailing channel axis.
func WithChannels(movies ...*graph.Array) *graph.Array {
	base := movies[0]
	shape := append(append([]int(nil), base.Shape...), len(movies))
	out := graph.NewArray(base.Axes+"c", base.DType, shape...)
	for i := range base.Data {
		for c, m := range movies {
			out.Data[i*len(movies)+c] = m.Data[i]
		}
	}
	return out
}
