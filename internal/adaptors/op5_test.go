package adaptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/testutil"
)

func TestOp5ify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("yx becomes txyzc", func(t *testing.T) {
		t.Parallel()
		g := graph.New()
		op := NewOp5ify(g, "Op5ify")
		in := testutil.RampArray("yx", 100, 50)
		require.NoError(t, g.SetValue(op.Input, in))

		m := op.Output.Meta()
		assert.Equal(t, graph.Axes("txyzc"), m.Axes)
		assert.Equal(t, []int{1, 50, 100, 1, 1}, m.Shape)

		v, err := op.Output.Value(ctx)
		require.NoError(t, err)
		out, err := graph.AsArray(v)
		require.NoError(t, err)
		for y := 0; y < 100; y++ {
			for x := 0; x < 50; x++ {
				require.Equal(t, in.At(y, x), out.At(0, x, y, 0, 0), "y=%d x=%d", y, x)
			}
		}
	})

	t.Run("sub-region maps onto input axes", func(t *testing.T) {
		t.Parallel()
		g := graph.New()
		op := NewOp5ify(g, "Op5ify")
		in := testutil.RampArray("tyxc", 3, 4, 5, 2)
		require.NoError(t, g.SetValue(op.Input, in))

		r := graph.NewRegion([]int{1, 2, 1, 0, 1}, []int{2, 4, 3, 1, 2})
		v, err := op.Output.Request(ctx, r)
		require.NoError(t, err)
		out, _ := graph.AsArray(v)
		assert.Equal(t, []int{1, 2, 2, 1, 1}, out.Shape)
		assert.Equal(t, in.At(1, 1, 2, 1), out.At(0, 0, 0, 0, 0))
		assert.Equal(t, in.At(1, 2, 3, 1), out.At(0, 1, 1, 0, 0))
	})

	t.Run("unknown axis", func(t *testing.T) {
		t.Parallel()
		g := graph.New()
		op := NewOp5ify(g, "Op5ify")
		err := g.SetValue(op.Input, testutil.RampArray("qx", 2, 2))
		require.ErrorIs(t, err, graph.ErrIncompatibleSlot)
		assert.False(t, op.Output.Meta().Ready())
	})

	t.Run("duplicate axis", func(t *testing.T) {
		t.Parallel()
		g := graph.New()
		op := NewOp5ify(g, "Op5ify")
		err := g.SetValue(op.Input, testutil.RampArray("xx", 2, 2))
		require.ErrorIs(t, err, graph.ErrIncompatibleSlot)
	})

	t.Run("dirty region is remapped", func(t *testing.T) {
		t.Parallel()
		g := graph.New()
		op := NewOp5ify(g, "Op5ify")
		require.NoError(t, g.SetValue(op.Input, testutil.RampArray("yx", 4, 6)))
		cache := graph.NewOpBlockCache(g, "Cache", graph.ArrayType(Canonical, ""), graph.WithBlockShape(0, 3, 0, 0, 0))
		require.NoError(t, g.Connect(op.Output, cache.Input))
		_, err := cache.Output.Value(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, cache.Stats().Blocks)

		op.Input.NotifyDirty(graph.NewRegion([]int{0, 0}, []int{4, 2}))
		assert.Equal(t, 1, cache.Stats().Blocks)
	})
}
