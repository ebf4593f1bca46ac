package objectclassification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectextraction"
)

func featureRow(frame int, counts ...float64) objectextraction.FrameFeatures {
	vals := make([][]float64, len(counts))
	means := make([][]float64, len(counts))
	for i, c := range counts {
		vals[i] = []float64{c}
		means[i] = []float64{1}
	}
	return objectextraction.FrameFeatures{
		Frame:      frame,
		NumObjects: len(counts),
		Features: map[string]map[string][][]float64{
			objectextraction.StandardGroup: {
				objectextraction.FeatureCount: vals,
				objectextraction.FeatureMean:  means,
			},
		},
	}
}

var countOnly = objectextraction.Selection{objectextraction.StandardGroup: {objectextraction.FeatureCount}}

func newOp(t *testing.T, allowLabels bool) *OpObjectClassification {
	t.Helper()
	g := graph.New()
	op := NewOpObjectClassification(g, "OpCellClassification")
	img := graph.NewArray("txyzc", graph.DTypeUint32, 2, 4, 4, 1, 1)
	require.NoError(t, g.SetValue(op.BinaryImages, img))
	require.NoError(t, g.SetValue(op.RawImages, img))
	require.NoError(t, g.SetValue(op.SegmentationImages, img))
	require.NoError(t, g.SetValue(op.LabelsAllowedFlags, allowLabels))
	require.NoError(t, g.SetValue(op.ComputedFeatureNames, objectextraction.DefaultFeatures().Config()))
	require.NoError(t, g.SetValue(op.SelectedFeatures, countOnly.Config()))
	require.NoError(t, g.SetValue(op.ObjectFeatures, graph.Table{
		Schema: objectextraction.RegionFeaturesSchema,
		Rows:   []any{featureRow(0, 10, 12, 50, 54), featureRow(1, 11, 48)},
	}))
	require.True(t, op.Probabilities.Meta().Ready())
	return op
}

func probabilities(t *testing.T, op *OpObjectClassification) []FrameProbabilities {
	t.Helper()
	v, err := op.Probabilities.Value(context.Background())
	require.NoError(t, err)
	tb, err := graph.AsTable(v)
	require.NoError(t, err)
	rows, err := graph.Rows[FrameProbabilities](tb)
	require.NoError(t, err)
	return rows
}

var sizeLabels = Labels{0: {1: 0, 2: 0, 3: 1, 4: 1}}

func TestOpObjectClassification(t *testing.T) {
	t.Parallel()

	t.Run("untrained is uniform", func(t *testing.T) {
		t.Parallel()
		rows := probabilities(t, newOp(t, true))
		require.Len(t, rows, 2)
		assert.Equal(t, 1, rows[1].Frame)
		assert.Equal(t, [][]float64{{0.5, 0.5}, {0.5, 0.5}}, rows[1].Probs)
		assert.Len(t, rows[0].Probs, 4)
	})

	t.Run("trained on labels", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		require.NoError(t, op.Graph().SetValue(op.LabelInputs, sizeLabels))
		rows := probabilities(t, op)
		small, large := rows[1].Probs[0], rows[1].Probs[1]
		assert.InDelta(t, 1.0, floats.Sum(small), 1e-9)
		assert.Greater(t, small[0], 0.99)
		assert.Greater(t, large[1], 0.99)
	})

	t.Run("labels ignored when not allowed", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, false)
		require.NoError(t, op.Graph().SetValue(op.LabelInputs, sizeLabels))
		rows := probabilities(t, op)
		assert.Equal(t, []float64{0.5, 0.5}, rows[1].Probs[1])
	})

	t.Run("one class labelled", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		require.NoError(t, op.Graph().SetValue(op.LabelInputs, Labels{0: {1: 0}}))
		rows := probabilities(t, op)
		assert.Equal(t, []float64{0.5, 0.5}, rows[0].Probs[0])
	})

	t.Run("more classes", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		require.NoError(t, op.Graph().SetValue(op.NumClasses, 4))
		rows := probabilities(t, op)
		assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, rows[0].Probs[0])
	})

	t.Run("label out of class range", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		err := op.Graph().SetValue(op.LabelInputs, Labels{0: {1: 2}})
		require.ErrorIs(t, err, graph.ErrInvalidValue)
	})

	t.Run("label of missing object", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		require.NoError(t, op.Graph().SetValue(op.LabelInputs, Labels{1: {7: 0}}))
		_, err := op.Probabilities.Value(context.Background())
		require.ErrorIs(t, err, graph.ErrInvalidValue)
	})

	t.Run("selected feature not computed", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		err := op.Graph().SetValue(op.SelectedFeatures, objectextraction.DivisionDetectionFeatures().Config())
		require.ErrorIs(t, err, ErrFeatureNotComputed)
		require.ErrorIs(t, err, graph.ErrIncompatibleSlot)
		assert.True(t, op.Probabilities.Meta().Ready(), "previous selection is restored")
	})

	t.Run("frame count mismatch", func(t *testing.T) {
		t.Parallel()
		op := newOp(t, true)
		err := op.Graph().SetValue(op.RawImages, graph.NewArray("txyzc", graph.DTypeUint32, 3, 4, 4, 1, 1))
		require.ErrorIs(t, err, graph.ErrIncompatibleSlot)
	})

	t.Run("feature dirt stays in its frames without labels", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		op := newOp(t, true)
		g := op.Graph()
		cache := graph.NewOpBlockCache(g, "ProbabilityCache", graph.TableType(ProbabilitiesSchema))
		require.NoError(t, g.Connect(op.Probabilities, cache.Input))
		for f := range 2 {
			_, err := cache.Output.Request(ctx, graph.NewRegion([]int{f}, []int{f + 1}))
			require.NoError(t, err)
		}
		require.Equal(t, 2, cache.Stats().Blocks)

		op.ObjectFeatures.NotifyDirty(graph.NewRegion([]int{1}, []int{2}))
		assert.Equal(t, 1, cache.Stats().Blocks)

		require.NoError(t, g.SetValue(op.LabelInputs, sizeLabels))
		for f := range 2 {
			_, err := cache.Output.Request(ctx, graph.NewRegion([]int{f}, []int{f + 1}))
			require.NoError(t, err)
		}
		op.ObjectFeatures.NotifyDirty(graph.NewRegion([]int{1}, []int{2}))
		assert.Zero(t, cache.Stats().Blocks)
	})
}

func TestGaussianNB(t *testing.T) {
	t.Parallel()
	x := [][]float64{{0, 0}, {0.1, 0.2}, {5, 5}, {5.2, 4.9}}
	y := []int{0, 0, 1, 1}
	m, ok := trainGaussianNB(x, y, 2)
	require.True(t, ok)
	p := m.predict([]float64{0.05, 0.1})
	assert.InDelta(t, 1.0, floats.Sum(p), 1e-12)
	assert.Greater(t, p[0], p[1])

	_, ok = trainGaussianNB(x, []int{0, 0, 0, 0}, 2)
	assert.False(t, ok)
	_, ok = trainGaussianNB(nil, nil, 2)
	assert.False(t, ok)
}
