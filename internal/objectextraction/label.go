package objectextraction

import (
	"context"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/imgproc"
)

// OpLabelVolume labels the 6-connected foreground components of every
// frame of a "txyzc" binary image. Labels count up from 1 per frame in
// scan order; background is 0.
type OpLabelVolume struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot
}

// NewOpLabelVolume creates the operator.
func NewOpLabelVolume(g *graph.Graph, name string) *OpLabelVolume {
	op := &OpLabelVolume{}
	op.Init(g, name, op)
	op.Input = op.Base().Input("Input", graph.ArrayType("txyzc", ""))
	op.Output = op.Base().Output("Output", graph.ArrayType("txyzc", graph.DTypeUint32))
	op.Seal()
	return op
}

// SetupOutputs implements graph.Operator.
func (op *OpLabelVolume) SetupOutputs() error {
	s := append([]int(nil), op.Input.Meta().Shape...)
	s[4] = 1
	op.Output.SetMeta(graph.ArrayMeta("txyzc", graph.DTypeUint32, s...))
	return nil
}

// Execute implements graph.Operator.
func (op *OpLabelVolume) Execute(ctx context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	m := op.Output.Meta()
	t0, t1 := r.Axis(0)
	full := m.FullRegion().WithAxis(0, t0, t1)
	out := graph.NewArray(m.Axes, m.DType, full.Shape()...)
	for t := t0; t < t1; t++ {
		labels, _, err := labelFrame(ctx, op.Input, t)
		if err != nil {
			return nil, err
		}
		v := imgproc.NewVolume(m.Shape[1], m.Shape[2], m.Shape[3])
		for i, l := range labels {
			v.Data[i] = float64(l)
		}
		imgproc.SetFrame(out, t-t0, 0, v)
	}
	return out.Sub(r.Relative(full)), nil
}

// PropagateDirty implements graph.Operator. Labels of a frame depend on
// the whole frame.
func (op *OpLabelVolume) PropagateDirty(_ *graph.Slot, r graph.Region) {
	m := op.Output.Meta()
	if r.IsZero() || !m.Ready() {
		op.Output.SetDirty(graph.Region{})
		return
	}
	op.Output.SetDirty(m.FullRegion().WithAxis(0, r.Start[0], r.Stop[0]))
}

func labelFrame(ctx context.Context, s *graph.Slot, t int) ([]uint32, int, error) {
	v, err := frame(ctx, s, t)
	if err != nil {
		return nil, 0, err
	}
	mask := make([]bool, v.Len())
	for i, x := range v.Data {
		mask[i] = x != 0
	}
	labels, n := imgproc.Label(mask, v.NX, v.NY, v.NZ)
	return labels, n, nil
}

// frame requests channel 0 of frame t of a "txyzc" slot.
func frame(ctx context.Context, s *graph.Slot, t int) (*imgproc.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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
