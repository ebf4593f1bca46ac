// Package opticaltranslation estimates the global drift of a movie so
// that later stages can compare object positions across frames.
package opticaltranslation

import (
	"context"
	"fmt"
	"slices"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/imgproc"
)

// OpOpticalTranslation computes, for every frame, the translation of the
// intensity-weighted foreground centroid relative to frame 0. Frames
// without foreground have a zero translation.
type OpOpticalTranslation struct {
	graph.OperatorBase
	RawImage           *graph.Slot
	BinaryImage        *graph.Slot
	TranslationVectors *graph.Slot
}

// NewOpOpticalTranslation creates the operator.
func NewOpOpticalTranslation(g *graph.Graph, name string) *OpOpticalTranslation {
	op := &OpOpticalTranslation{}
	op.Init(g, name, op)
	b := op.Base()
	op.RawImage = b.Input("RawImage", graph.ArrayType("txyzc", ""))
	op.BinaryImage = b.Input("BinaryImage", graph.ArrayType("txyzc", ""))
	op.TranslationVectors = b.Output("TranslationVectors", graph.ArrayType("tc", graph.DTypeFloat32))
	op.Seal()
	return op
}

// SetupOutputs implements graph.Operator.
func (op *OpOpticalTranslation) SetupOutputs() error {
	raw, bin := op.RawImage.Meta(), op.BinaryImage.Meta()
	if !slices.Equal(raw.Shape[:4], bin.Shape[:4]) {
		return fmt.Errorf("%w: raw %v and binary %v differ in txyz", graph.ErrIncompatibleSlot, raw.Shape, bin.Shape)
	}
	op.TranslationVectors.SetMeta(graph.ArrayMeta("tc", graph.DTypeFloat32, raw.Shape[0], 3))
	return nil
}

// Execute implements graph.Operator.
func (op *OpOpticalTranslation) Execute(ctx context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	ref, refOK, err := op.centroid(ctx, 0)
	if err != nil {
		return nil, err
	}
	t0, t1 := r.Axis(0)
	out := graph.NewArray("tc", graph.DTypeFloat32, t1-t0, 3)
	for t := t0; t < t1; t++ {
		c, ok, err := op.centroid(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok || !refOK {
			continue
		}
		for a := 0; a < 3; a++ {
			out.Set(c[a]-ref[a], t-t0, a)
		}
	}
	return out.Sub(graph.Full(out.Shape).WithAxis(1, r.Start[1], r.Stop[1])), nil
}

func (op *OpOpticalTranslation) centroid(ctx context.Context, t int) ([3]float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return [3]float64{}, false, err
	}
	raw, err := frame(ctx, op.RawImage, t)
	if err != nil {
		return [3]float64{}, false, err
	}
	bin, err := frame(ctx, op.BinaryImage, t)
	if err != nil {
		return [3]float64{}, false, err
	}
	mask := make([]bool, bin.Len())
	for i, v := range bin.Data {
		mask[i] = v != 0
	}
	c, ok := imgproc.WeightedCentroid(raw, mask)
	return c, ok, nil
}

// frame requests channel 0 of frame t of a "txyzc" slot.
func frame(ctx context.Context, s *graph.Slot, t int) (*imgproc.Volume, error) {
	r := s.Meta().FullRegion().WithAxis(0, t, t+1).WithAxis(4, 0, 1)
	v, err := s.Request(ctx, r)
	if err != nil {
		return nil, err
	}
	a, err := graph.AsArray(v)
	if err != nil {
		return nil, err
	}
	return imgproc.Frame(a, 0, 0)
}

// PropagateDirty implements graph.Operator. Frame 0 is the reference, so
// a change there dirties every vector.
func (op *OpOpticalTranslation) PropagateDirty(_ *graph.Slot, r graph.Region) {
	m := op.TranslationVectors.Meta()
	if r.IsZero() || !m.Ready() || r.Start[0] == 0 {
		op.TranslationVectors.SetDirty(graph.Region{})
		return
	}
	op.TranslationVectors.SetDirty(m.FullRegion().WithAxis(0, r.Start[0], r.Stop[0]))
}
