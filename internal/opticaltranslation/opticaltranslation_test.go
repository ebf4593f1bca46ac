package opticaltranslation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellflow/internal/adaptors"
	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/testutil"
)

func canonical(t *testing.T, a *graph.Array) *graph.Array {
	t.Helper()
	out, err := a.Reorder(adaptors.Canonical)
	require.NoError(t, err)
	return out
}

func TestOpOpticalTranslation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	movie := testutil.DiskMovie(3, 20, 20,
		testutil.Disk{T: 0, Y: 5, X: 5, Radius: 2, Value: 1},
		testutil.Disk{T: 1, Y: 7, X: 5, Radius: 2, Value: 1},
		testutil.Disk{T: 2, Y: 5, X: 9, Radius: 2, Value: 1},
	)
	g := graph.New()
	op := NewOpOpticalTranslation(g, "OpOpticalTranslation")
	require.NoError(t, g.SetValue(op.RawImage, canonical(t, movie)))
	require.NoError(t, g.SetValue(op.BinaryImage, canonical(t, movie)))

	m := op.TranslationVectors.Meta()
	assert.Equal(t, graph.Axes("tc"), m.Axes)
	assert.Equal(t, []int{3, 3}, m.Shape)

	v, err := op.TranslationVectors.Value(ctx)
	require.NoError(t, err)
	a, _ := graph.AsArray(v)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0, 2, 0, 4, 0, 0}, a.Data, 1e-9)

	v, err = op.TranslationVectors.Request(ctx, graph.NewRegion([]int{2, 0}, []int{3, 1}))
	require.NoError(t, err)
	a, _ = graph.AsArray(v)
	assert.InDelta(t, 4.0, a.Data[0], 1e-9)
}

func TestOpOpticalTranslation_ShapeMismatch(t *testing.T) {
	t.Parallel()
	g := graph.New()
	op := NewOpOpticalTranslation(g, "OpOpticalTranslation")
	require.NoError(t, g.SetValue(op.RawImage, canonical(t, testutil.RampArray("tyx", 2, 4, 4))))
	err := g.SetValue(op.BinaryImage, canonical(t, testutil.RampArray("tyx", 3, 4, 4)))
	require.ErrorIs(t, err, graph.ErrIncompatibleSlot)
}

func TestOpOpticalTranslation_EmptyFrames(t *testing.T) {
	t.Parallel()
	g := graph.New()
	op := NewOpOpticalTranslation(g, "OpOpticalTranslation")
	empty := canonical(t, graph.NewArray("tyx", graph.DTypeFloat32, 2, 4, 4))
	require.NoError(t, g.SetValue(op.RawImage, empty))
	require.NoError(t, g.SetValue(op.BinaryImage, empty))
	v, err := op.TranslationVectors.Value(context.Background())
	require.NoError(t, err)
	a, _ := graph.AsArray(v)
	assert.Equal(t, make([]float64, 6), a.Data)
}
