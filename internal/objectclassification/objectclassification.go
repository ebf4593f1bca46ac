// Package objectclassification assigns per-object class probabilities
// from object feature tables and sparse user labels.
package objectclassification

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectextraction"
)

// ErrFeatureNotComputed is returned when SelectedFeatures names a feature
// missing from ComputedFeatureNames.
var ErrFeatureNotComputed = fmt.Errorf("%w: selected feature not computed", graph.ErrIncompatibleSlot)

// DefaultNumClasses is used when NumClasses is unbound.
const DefaultNumClasses = 2

// ProbabilitiesSchema names the table of FrameProbabilities rows.
const ProbabilitiesSchema = "probabilities"

// Labels assigns classes to objects: frame -> object label -> class.
// Classes count from 0.
type Labels map[int]map[int]int

// FrameProbabilities is the row type of the "probabilities" table.
// Probs[k] is the class distribution of the object with label k+1.
type FrameProbabilities struct {
	Frame int
	Probs [][]float64
}

// OpObjectClassification classifies every object of every frame with a
// Gaussian naive Bayes model trained on LabelInputs. Labels are only used
// when LabelsAllowedFlags is true; without usable labels every object
// gets a uniform distribution.
//
// BinaryImages, RawImages and SegmentationImages are carried for label
// drawing and must agree with ObjectFeatures in frame count; changes in
// them reach Probabilities through ObjectFeatures.
type OpObjectClassification struct {
	graph.OperatorBase
	BinaryImages         *graph.Slot
	RawImages            *graph.Slot
	LabelsAllowedFlags   *graph.Slot
	SegmentationImages   *graph.Slot
	ObjectFeatures       *graph.Slot
	ComputedFeatureNames *graph.Slot
	SelectedFeatures     *graph.Slot
	LabelInputs          *graph.Slot
	NumClasses           *graph.Slot

	Probabilities *graph.Slot
}

// NewOpObjectClassification creates the operator.
func NewOpObjectClassification(g *graph.Graph, name string) *OpObjectClassification {
	op := &OpObjectClassification{}
	op.Init(g, name, op)
	b := op.Base()
	op.BinaryImages = b.Input("BinaryImages", graph.ArrayType("txyzc", ""))
	op.RawImages = b.Input("RawImages", graph.ArrayType("txyzc", ""))
	op.LabelsAllowedFlags = b.Input("LabelsAllowedFlags", graph.ScalarType())
	op.SegmentationImages = b.Input("SegmentationImages", graph.ArrayType("txyzc", graph.DTypeUint32))
	op.ObjectFeatures = b.Input("ObjectFeatures", graph.TableType(objectextraction.RegionFeaturesSchema))
	op.ComputedFeatureNames = b.Input("ComputedFeatureNames", graph.ConfigType())
	op.SelectedFeatures = b.Input("SelectedFeatures", graph.ConfigType())
	op.LabelInputs = b.Input("LabelInputs", graph.ScalarType(), graph.Optional())
	op.NumClasses = b.Input("NumClasses", graph.ScalarType(), graph.Optional())
	op.Probabilities = b.Output("Probabilities", graph.TableType(ProbabilitiesSchema))
	op.Seal()
	return op
}

type settings struct {
	selected objectextraction.Selection
	classes  int
	labels   Labels
}

func (op *OpObjectClassification) settings(ctx context.Context) (settings, error) {
	var s settings
	sel, err := configSelection(ctx, op.SelectedFeatures)
	if err != nil {
		return s, err
	}
	computed, err := configSelection(ctx, op.ComputedFeatureNames)
	if err != nil {
		return s, err
	}
	for _, group := range sel.Groups() {
		for _, n := range sel[group] {
			if !slices.Contains(computed[group], n) {
				return s, fmt.Errorf("%w: %s/%s", ErrFeatureNotComputed, group, n)
			}
		}
	}
	s.selected = sel

	s.classes = DefaultNumClasses
	if op.NumClasses.Supplied() {
		v, err := op.NumClasses.Value(ctx)
		if err != nil {
			return s, err
		}
		if s.classes, err = graph.ScalarAs[int](v); err != nil {
			return s, fmt.Errorf("%s: %w", op.NumClasses.FullName(), err)
		}
		if s.classes < 1 {
			return s, fmt.Errorf("%w: %d classes", graph.ErrInvalidValue, s.classes)
		}
	}

	v, err := op.LabelsAllowedFlags.Value(ctx)
	if err != nil {
		return s, err
	}
	allowed, err := graph.ScalarAs[bool](v)
	if err != nil {
		return s, fmt.Errorf("%s: %w", op.LabelsAllowedFlags.FullName(), err)
	}
	if !allowed || !op.LabelInputs.Supplied() {
		return s, nil
	}
	if v, err = op.LabelInputs.Value(ctx); err != nil {
		return s, err
	}
	if s.labels, err = graph.ScalarAs[Labels](v); err != nil {
		return s, fmt.Errorf("%s: %w", op.LabelInputs.FullName(), err)
	}
	for t, objs := range s.labels {
		for l, c := range objs {
			if c < 0 || c >= s.classes {
				return s, fmt.Errorf("%w: object %d of frame %d has class %d of %d", graph.ErrInvalidValue, l, t, c, s.classes)
			}
		}
	}
	return s, nil
}

func configSelection(ctx context.Context, s *graph.Slot) (objectextraction.Selection, error) {
	v, err := s.Value(ctx)
	if err != nil {
		return nil, err
	}
	c, err := graph.AsConfig(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.FullName(), err)
	}
	return objectextraction.SelectionFromConfig(c)
}

// SetupOutputs implements graph.Operator.
func (op *OpObjectClassification) SetupOutputs() error {
	frames := op.ObjectFeatures.Meta().Shape[0]
	for _, s := range []*graph.Slot{op.BinaryImages, op.RawImages, op.SegmentationImages} {
		if n := s.Meta().Shape[0]; n != frames {
			return fmt.Errorf("%w: %s has %d frames, features have %d", graph.ErrIncompatibleSlot, s.FullName(), n, frames)
		}
	}
	if _, err := op.settings(context.Background()); err != nil {
		return err
	}
	op.Probabilities.SetMeta(graph.TableMeta(ProbabilitiesSchema, frames))
	return nil
}

// Execute implements graph.Operator.
func (op *OpObjectClassification) Execute(ctx context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	s, err := op.settings(ctx)
	if err != nil {
		return nil, err
	}
	model, err := op.train(ctx, s)
	if err != nil {
		return nil, err
	}
	rows, err := op.features(ctx, r)
	if err != nil {
		return nil, err
	}
	tb := graph.Table{Schema: ProbabilitiesSchema, Start: r.Start[0]}
	for _, row := range rows {
		fp := FrameProbabilities{Frame: row.Frame, Probs: make([][]float64, row.NumObjects)}
		for k := range fp.Probs {
			if model == nil {
				fp.Probs[k] = uniform(s.classes)
				continue
			}
			x, err := row.Vector(k, s.selected)
			if err != nil {
				return nil, err
			}
			fp.Probs[k] = model.predict(x)
		}
		tb.Rows = append(tb.Rows, fp)
	}
	return tb, nil
}

func (op *OpObjectClassification) features(ctx context.Context, r graph.Region) ([]objectextraction.FrameFeatures, error) {
	v, err := op.ObjectFeatures.Request(ctx, r)
	if err != nil {
		return nil, err
	}
	tb, err := graph.AsTable(v)
	if err != nil {
		return nil, err
	}
	return graph.Rows[objectextraction.FrameFeatures](tb)
}

// train fits the model to the labelled objects. It returns nil when the
// labels do not cover every class.
func (op *OpObjectClassification) train(ctx context.Context, s settings) (*gaussianNB, error) {
	if len(s.labels) == 0 {
		return nil, nil
	}
	var x [][]float64
	var y []int
	for _, t := range slices.Sorted(maps.Keys(s.labels)) {
		rows, err := op.features(ctx, graph.NewRegion([]int{t}, []int{t + 1}))
		if err != nil {
			return nil, fmt.Errorf("labels of frame %d: %w", t, err)
		}
		objs := s.labels[t]
		for _, l := range slices.Sorted(maps.Keys(objs)) {
			if l < 1 || l > rows[0].NumObjects {
				return nil, fmt.Errorf("%w: frame %d has no object %d", graph.ErrInvalidValue, t, l)
			}
			v, err := rows[0].Vector(l-1, s.selected)
			if err != nil {
				return nil, err
			}
			x = append(x, v)
			y = append(y, objs[l])
		}
	}
	model, ok := trainGaussianNB(x, y, s.classes)
	if !ok {
		diagf("%s: labels cover fewer than %d classes, predicting uniform", op.Name(), s.classes)
		return nil, nil
	}
	return model, nil
}

// PropagateDirty implements graph.Operator. Without labels a feature
// change only affects its own frames; with labels the model may change
// too.
func (op *OpObjectClassification) PropagateDirty(in *graph.Slot, r graph.Region) {
	switch in {
	case op.BinaryImages, op.RawImages, op.SegmentationImages:
		return
	case op.ObjectFeatures:
		if !op.LabelInputs.Supplied() && !r.IsZero() {
			op.Probabilities.SetDirty(r)
			return
		}
	}
	op.Probabilities.SetDirty(graph.Region{})
}
