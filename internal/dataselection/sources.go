package dataselection

import (
	"context"
	"fmt"

	"github.com/banshee-data/cellflow/internal/graph"
)

// Source produces the array for one dataset role of a lane.
type Source interface {
	// Bind creates the lane-scoped reader operator and returns it together
	// with the slot to connect to the data selection.
	Bind(g *graph.Graph, name string) (graph.Operator, *graph.Slot, error)
}

// Dataset is everything needed to add one lane.
type Dataset struct {
	Name        string
	AllowLabels bool
	// Sources holds one source per role, in role order.
	Sources []Source
}

// Attach binds every source of ds to op and sets the lane constants. It
// returns the reader operators it created, including on failure, so the
// caller can remove them.
func Attach(g *graph.Graph, op *OpDataSelection, ds Dataset) ([]graph.Operator, error) {
	if len(ds.Sources) != op.Datasets.Len() {
		return nil, fmt.Errorf("dataset %q has %d sources, want %d (%v)",
			ds.Name, len(ds.Sources), op.Datasets.Len(), op.roles)
	}
	var readers []graph.Operator
	for i, src := range ds.Sources {
		reader, out, err := src.Bind(g, fmt.Sprintf("%s[%s]", ds.Name, op.roles[i]))
		if reader != nil {
			readers = append(readers, reader)
		}
		if err != nil {
			return readers, fmt.Errorf("bind %s of %q: %w", op.roles[i], ds.Name, err)
		}
		if err := g.Connect(out, op.Datasets.Index(i)); err != nil {
			return readers, err
		}
	}
	if err := g.SetValue(op.DatasetName, ds.Name); err != nil {
		return readers, err
	}
	if err := g.SetValue(op.LabelsAllowed, ds.AllowLabels); err != nil {
		return readers, err
	}
	return readers, nil
}

// ArraySource serves an in-memory array.
type ArraySource struct {
	Array *graph.Array
}

// Bind implements Source.
func (s ArraySource) Bind(g *graph.Graph, name string) (graph.Operator, *graph.Slot, error) {
	if s.Array == nil {
		return nil, nil, fmt.Errorf("%w: nil array", graph.ErrInvalidValue)
	}
	op := NewOpArraySource(g, name, s.Array)
	return op, op.Output, nil
}

// OpArraySource publishes a fixed array.
type OpArraySource struct {
	graph.OperatorBase
	Output *graph.Slot

	data *graph.Array
}

// NewOpArraySource wraps a.
func NewOpArraySource(g *graph.Graph, name string, a *graph.Array) *OpArraySource {
	op := &OpArraySource{data: a}
	op.Init(g, name, op)
	op.Output = op.Base().Output("Output", graph.ArrayType("", ""))
	op.Seal()
	return op
}

// SetupOutputs implements graph.Operator.
func (op *OpArraySource) SetupOutputs() error {
	op.Output.SetMeta(op.data.Meta())
	return nil
}

// Execute implements graph.Operator.
func (op *OpArraySource) Execute(_ context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	return op.data.Sub(r), nil
}
