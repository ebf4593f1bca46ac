// Package tracking links detected objects across frames into lineages:
// moves, divisions, appearances and disappearances.
package tracking

import (
	"context"
	"fmt"
	"slices"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectclassification"
	"github.com/banshee-data/cellflow/internal/objectextraction"
)

// OpConservationTracking links the objects of consecutive frames by
// minimum-cost assignment of their centres, gated by MaxDistance. An
// object whose division probability exceeds DivisionThreshold may take a
// second, otherwise unclaimed successor; objects whose detection
// probability is below DetectionThreshold are ignored.
//
// Output is LabelImage relabelled with track ids (0 for ignored
// objects). Events lists the links into every frame. The solution is
// computed once for the whole movie and cached until an input changes.
// RawImage is carried for display.
type OpConservationTracking struct {
	graph.OperatorBase
	RawImage               *graph.Slot
	LabelImage             *graph.Slot
	ObjectFeatures         *graph.Slot
	DivisionProbabilities  *graph.Slot
	DetectionProbabilities *graph.Slot
	TranslationVectors     *graph.Slot
	MaxDistance            *graph.Slot
	DivisionThreshold      *graph.Slot
	DetectionThreshold     *graph.Slot

	Output *graph.Slot
	Events *graph.Slot

	solver *opSolver
	cache  *graph.OpBlockCache
}

// NewOpConservationTracking creates the operator with its internal
// solver and solution cache.
func NewOpConservationTracking(g *graph.Graph, name string) (*OpConservationTracking, error) {
	op := &OpConservationTracking{}
	op.Init(g, name, op)
	b := op.Base()
	op.RawImage = b.Input("RawImage", graph.ArrayType("txyzc", ""))
	op.LabelImage = b.Input("LabelImage", graph.ArrayType("txyzc", graph.DTypeUint32))
	op.ObjectFeatures = b.Input("ObjectFeatures", graph.TableType(objectextraction.RegionFeaturesSchema))
	op.DivisionProbabilities = b.Input("DivisionProbabilities", graph.TableType(objectclassification.ProbabilitiesSchema))
	op.DetectionProbabilities = b.Input("DetectionProbabilities", graph.TableType(objectclassification.ProbabilitiesSchema))
	op.TranslationVectors = b.Input("TranslationVectors", graph.ArrayType("tc", ""), graph.Optional())
	op.MaxDistance = b.Input("MaxDistance", graph.ScalarType(), graph.Optional())
	op.DivisionThreshold = b.Input("DivisionThreshold", graph.ScalarType(), graph.Optional())
	op.DetectionThreshold = b.Input("DetectionThreshold", graph.ScalarType(), graph.Optional())
	op.Output = b.Output("Output", graph.ArrayType("txyzc", graph.DTypeUint32))
	op.Events = b.Output("Events", graph.TableType(EventsSchema))

	op.solver = newOpSolver(g, name+".solver")
	op.Adopt(op.solver)
	op.cache = graph.NewOpBlockCache(g, name+".cache", graph.TableType(EventsSchema), graph.WithMaxBlocks(4))
	op.Adopt(op.cache)
	for _, e := range [][2]*graph.Slot{
		{op.ObjectFeatures, op.solver.ObjectFeatures},
		{op.DivisionProbabilities, op.solver.DivisionProbabilities},
		{op.DetectionProbabilities, op.solver.DetectionProbabilities},
		{op.TranslationVectors, op.solver.TranslationVectors},
		{op.MaxDistance, op.solver.MaxDistance},
		{op.DivisionThreshold, op.solver.DivisionThreshold},
		{op.DetectionThreshold, op.solver.DetectionThreshold},
		{op.solver.Events, op.cache.Input},
	} {
		if err := g.Connect(e[0], e[1]); err != nil {
			g.Remove(op)
			return nil, err
		}
	}
	op.Seal()
	return op, nil
}

// Cache exposes the solution cache.
func (op *OpConservationTracking) Cache() *graph.OpBlockCache { return op.cache }

// SetupOutputs implements graph.Operator.
func (op *OpConservationTracking) SetupOutputs() error {
	if err := op.solver.SetupErr(); err != nil {
		return err
	}
	raw, labels := op.RawImage.Meta(), op.LabelImage.Meta()
	if !slices.Equal(raw.Shape[:4], labels.Shape[:4]) {
		return fmt.Errorf("%w: raw %v and labels %v differ in txyz", graph.ErrIncompatibleSlot, raw.Shape, labels.Shape)
	}
	if n := op.ObjectFeatures.Meta().Shape[0]; n != labels.Shape[0] {
		return fmt.Errorf("%w: %d feature frames for %d label frames", graph.ErrIncompatibleSlot, n, labels.Shape[0])
	}
	op.Output.SetMeta(labels)
	op.Events.SetMeta(op.cache.Output.Meta())
	return nil
}

// Solution returns the events of every frame.
func (op *OpConservationTracking) Solution(ctx context.Context) ([]FrameEvents, error) {
	v, err := op.cache.Output.Value(ctx)
	if err != nil {
		return nil, err
	}
	tb, err := graph.AsTable(v)
	if err != nil {
		return nil, err
	}
	return graph.Rows[FrameEvents](tb)
}

// Execute implements graph.Operator.
func (op *OpConservationTracking) Execute(ctx context.Context, out *graph.Slot, r graph.Region) (graph.Value, error) {
	if out == op.Events {
		v, err := op.cache.Output.Value(ctx)
		if err != nil {
			return nil, err
		}
		tb, err := graph.AsTable(v)
		if err != nil {
			return nil, err
		}
		return tb.Slice(r), nil
	}

	events, err := op.Solution(ctx)
	if err != nil {
		return nil, err
	}
	v, err := op.LabelImage.Request(ctx, r)
	if err != nil {
		return nil, err
	}
	a, err := graph.AsArray(v)
	if err != nil {
		return nil, err
	}
	res := a.Clone()
	t0, t1 := r.Axis(0)
	slab := len(res.Data) / max(t1-t0, 1)
	for t := t0; t < t1; t++ {
		tracks := events[t].Tracks
		for i := (t - t0) * slab; i < (t-t0+1)*slab; i++ {
			res.Data[i] = float64(tracks[int(res.Data[i])])
		}
	}
	return res, nil
}

// PropagateDirty implements graph.Operator.
func (op *OpConservationTracking) PropagateDirty(in *graph.Slot, r graph.Region) {
	switch in {
	case op.RawImage:
		return
	case op.LabelImage:
		m := op.Output.Meta()
		if !r.IsZero() && m.Ready() {
			op.Output.SetDirty(m.FullRegion().WithAxis(0, r.Start[0], r.Stop[0]))
			return
		}
		op.Output.SetDirty(graph.Region{})
		return
	}
	op.Output.SetDirty(graph.Region{})
	op.Events.SetDirty(graph.Region{})
}
