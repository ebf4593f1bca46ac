// Package dataselection provides the per-lane data source operator and the
// readers that feed it.
package dataselection

import (
	"context"
	"fmt"

	"github.com/banshee-data/cellflow/internal/graph"
)

// DefaultRoles are the dataset roles of a tracking lane, in ImageGroup
// order.
var DefaultRoles = []string{"Raw Data", "Prediction Maps"}

// OpDataSelection exposes the datasets bound to one lane. ImageGroup[i]
// mirrors Datasets[i]; ImageName and AllowLabels echo the lane's name and
// labelling flag.
type OpDataSelection struct {
	graph.OperatorBase
	Datasets      *graph.Slot
	DatasetName   *graph.Slot
	LabelsAllowed *graph.Slot

	ImageGroup  *graph.Slot
	ImageName   *graph.Slot
	AllowLabels *graph.Slot

	roles []string
}

// NewOpDataSelection creates a data selection with one dataset slot per role.
func NewOpDataSelection(g *graph.Graph, name string, roles []string) *OpDataSelection {
	op := &OpDataSelection{roles: roles}
	op.Init(g, name, op)
	b := op.Base()
	op.Datasets = b.Input("Datasets", graph.ArrayType("", ""), graph.Multi(len(roles)))
	op.DatasetName = b.Input("DatasetName", graph.ScalarType())
	op.LabelsAllowed = b.Input("LabelsAllowed", graph.ScalarType(), graph.Optional())
	op.ImageGroup = b.Output("ImageGroup", graph.ArrayType("", ""), graph.Multi(len(roles)))
	op.ImageName = b.Output("ImageName", graph.ScalarType())
	op.AllowLabels = b.Output("AllowLabels", graph.ScalarType())
	op.Seal()
	return op
}

// Roles returns the dataset roles in ImageGroup order.
func (op *OpDataSelection) Roles() []string { return op.roles }

// SetupOutputs implements graph.Operator.
func (op *OpDataSelection) SetupOutputs() error {
	ins := op.Datasets.Elements()
	outs := op.ImageGroup.Elements()
	if len(ins) != len(outs) {
		return fmt.Errorf("%d datasets for %d image group slots", len(ins), len(outs))
	}
	for i, in := range ins {
		outs[i].SetMeta(in.Meta())
	}
	op.ImageName.SetMeta(graph.ScalarMeta())
	op.AllowLabels.SetMeta(graph.ScalarMeta())
	return nil
}

// Execute implements graph.Operator.
func (op *OpDataSelection) Execute(ctx context.Context, out *graph.Slot, r graph.Region) (graph.Value, error) {
	switch {
	case out.Parent() == op.ImageGroup:
		in := op.Datasets.Index(out.Position())
		if in == nil {
			return nil, fmt.Errorf("%w: no dataset for %s", graph.ErrNotReady, out.FullName())
		}
		return in.Request(ctx, r)
	case out == op.ImageName:
		return op.DatasetName.Value(ctx)
	case out == op.AllowLabels:
		if !op.LabelsAllowed.Supplied() {
			return graph.Scalar{V: true}, nil
		}
		return op.LabelsAllowed.Value(ctx)
	}
	return nil, fmt.Errorf("%w: unknown output %s", graph.ErrInvalidValue, out.FullName())
}

// PropagateDirty implements graph.Operator.
func (op *OpDataSelection) PropagateDirty(in *graph.Slot, r graph.Region) {
	switch {
	case in.Parent() == op.Datasets:
		if out := op.ImageGroup.Index(in.Position()); out != nil {
			out.SetDirty(r)
		}
	case in == op.DatasetName:
		op.ImageName.SetDirty(graph.Region{})
	case in == op.LabelsAllowed:
		op.AllowLabels.SetDirty(graph.Region{})
	}
}
