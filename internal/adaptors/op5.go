// Package adaptors holds operators that reshape values between stages
// without changing them.
package adaptors

import (
	"context"
	"fmt"

	"github.com/banshee-data/cellflow/internal/graph"
)

// Canonical is the axis order every stage downstream of the data
// selection works in.
const Canonical graph.Axes = "txyzc"

// Op5ify presents an array of any axis order as a five-axis "txyzc"
// array. Missing axes are inserted with length 1 and present axes are
// reordered; sample values are never changed.
type Op5ify struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot
}

// NewOp5ify creates an unconnected adapter.
func NewOp5ify(g *graph.Graph, name string) *Op5ify {
	op := &Op5ify{}
	op.Init(g, name, op)
	op.Input = op.Base().Input("Input", graph.ArrayType("", ""))
	op.Output = op.Base().Output("Output", graph.ArrayType(Canonical, ""))
	op.Seal()
	return op
}

// SetupOutputs implements graph.Operator.
func (op *Op5ify) SetupOutputs() error {
	in := op.Input.Meta()
	if !in.Axes.Unique() {
		return fmt.Errorf("%w: duplicate axis in %q", graph.ErrIncompatibleSlot, in.Axes)
	}
	for _, a := range []byte(in.Axes) {
		if !Canonical.Has(a) {
			return fmt.Errorf("%w: unknown axis %q in %q", graph.ErrIncompatibleSlot, a, in.Axes)
		}
	}
	shape := make([]int, len(Canonical))
	for j := range shape {
		shape[j] = in.AxisLen(Canonical[j])
	}
	op.Output.SetMeta(graph.ArrayMeta(Canonical, in.DType, shape...))
	return nil
}

// Execute implements graph.Operator.
func (op *Op5ify) Execute(ctx context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	in := op.Input.Meta()
	src := graph.Region{Start: make([]int, len(in.Axes)), Stop: make([]int, len(in.Axes))}
	for i, a := range []byte(in.Axes) {
		j := Canonical.Index(a)
		src.Start[i], src.Stop[i] = r.Axis(j)
	}
	v, err := op.Input.Request(ctx, src)
	if err != nil {
		return nil, err
	}
	a, err := graph.AsArray(v)
	if err != nil {
		return nil, err
	}
	return a.Reorder(Canonical)
}

// PropagateDirty maps a dirty input region onto the canonical axes.
func (op *Op5ify) PropagateDirty(_ *graph.Slot, r graph.Region) {
	if r.IsZero() {
		op.Output.SetDirty(r)
		return
	}
	out := op.Output.Meta()
	if !out.Ready() {
		return
	}
	in := op.Input.Meta()
	dr := out.FullRegion()
	for i, a := range []byte(in.Axes) {
		if i < r.Rank() {
			dr = dr.WithAxis(Canonical.Index(a), r.Start[i], r.Stop[i])
		}
	}
	op.Output.SetDirty(dr)
}
