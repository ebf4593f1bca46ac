package dataselection

import (
	"context"

	"github.com/banshee-data/cellflow/internal/graph"
)

// OpImageNameList gathers the ImageName of every lane into one []string.
type OpImageNameList struct {
	graph.OperatorBase
	ImageNames    *graph.Slot
	ImageNameList *graph.Slot
}

// NewOpImageNameList creates an aggregator with no lanes.
func NewOpImageNameList(g *graph.Graph) *OpImageNameList {
	op := &OpImageNameList{}
	op.Init(g, "OpImageNameList", op)
	op.ImageNames = op.Base().Input("ImageNames", graph.ScalarType(), graph.Multi(0))
	op.ImageNameList = op.Base().Output("ImageNameList", graph.ScalarType())
	op.Seal()
	return op
}

// SetupOutputs implements graph.Operator.
func (op *OpImageNameList) SetupOutputs() error {
	op.ImageNameList.SetMeta(graph.ScalarMeta())
	return nil
}

// Execute implements graph.Operator.
func (op *OpImageNameList) Execute(ctx context.Context, _ *graph.Slot, _ graph.Region) (graph.Value, error) {
	var names []string
	for _, s := range op.ImageNames.Elements() {
		v, err := s.Value(ctx)
		if err != nil {
			return nil, err
		}
		name, err := graph.ScalarAs[string](v)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return graph.Scalar{V: names}, nil
}
