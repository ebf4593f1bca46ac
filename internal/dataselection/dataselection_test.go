package dataselection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/testutil"
)

func writeGrayStack(t *testing.T, fsys *fsutil.MemoryFileSystem, dir string, frames, h, w int) {
	t.Helper()
	for f := 0; f < frames; f++ {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(f*100 + y*w + x)})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, tiff.Encode(&buf, img, nil))
		require.NoError(t, fsys.WriteFile(fmt.Sprintf("%s/t%02d.tif", dir, f), buf.Bytes(), 0o644))
	}
}

func TestOpDataSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := graph.New()
	op := NewOpDataSelection(g, "OpDataSelection", DefaultRoles)
	assert.Equal(t, 2, op.ImageGroup.Len())

	raw := testutil.RampArray("tyx", 2, 3, 4)
	pred := testutil.RampArray("tyxc", 2, 3, 4, 2)
	readers, err := Attach(g, op, Dataset{
		Name:    "movie",
		Sources: []Source{ArraySource{Array: raw}, ArraySource{Array: pred}},
	})
	require.NoError(t, err)
	assert.Len(t, readers, 2)

	assert.True(t, op.ImageGroup.Index(0).Meta().Equal(raw.Meta()))
	assert.True(t, op.ImageGroup.Index(1).Meta().Equal(pred.Meta()))

	v, err := op.ImageGroup.Index(1).Request(ctx, graph.NewRegion([]int{1, 0, 0, 1}, []int{2, 1, 1, 2}))
	require.NoError(t, err)
	a, _ := graph.AsArray(v)
	assert.Equal(t, pred.At(1, 0, 0, 1), a.Data[0])

	name, err := op.ImageName.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.Scalar{V: "movie"}, name)
	allow, err := op.AllowLabels.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.Scalar{V: false}, allow)
}

func TestAttach_WrongSourceCount(t *testing.T) {
	t.Parallel()
	g := graph.New()
	op := NewOpDataSelection(g, "OpDataSelection", DefaultRoles)
	_, err := Attach(g, op, Dataset{Name: "x", Sources: []Source{ArraySource{Array: testutil.RampArray("yx", 1, 1)}}})
	assert.Error(t, err)
}

func TestTIFFSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reads frames lazily", func(t *testing.T) {
		t.Parallel()
		fsys := fsutil.NewMemoryFileSystem()
		writeGrayStack(t, fsys, "raw", 2, 3, 4)
		require.NoError(t, fsys.WriteFile("raw/t02.tif", []byte("not a tiff"), 0o644))

		g := graph.New()
		reader, out, err := TIFFSource{FS: fsys, Pattern: "raw/*.tif"}.Bind(g, "raw")
		require.NoError(t, err)
		require.NotNil(t, reader)
		m := out.Meta()
		assert.Equal(t, graph.Axes("tyx"), m.Axes)
		assert.Equal(t, []int{3, 3, 4}, m.Shape)
		assert.Equal(t, graph.DTypeUint8, m.DType)

		v, err := out.Request(ctx, graph.NewRegion([]int{1, 1, 0}, []int{2, 3, 2}))
		require.NoError(t, err)
		a, _ := graph.AsArray(v)
		assert.Equal(t, []float64{104, 105, 108, 109}, a.Data)

		_, err = out.Request(ctx, graph.NewRegion([]int{2, 0, 0}, []int{3, 1, 1}))
		assert.Error(t, err)
	})

	t.Run("normalize", func(t *testing.T) {
		t.Parallel()
		fsys := fsutil.NewMemoryFileSystem()
		writeGrayStack(t, fsys, "pred", 1, 1, 2)
		g := graph.New()
		_, out, err := TIFFSource{FS: fsys, Pattern: "pred/*.tif", Normalize: true}.Bind(g, "pred")
		require.NoError(t, err)
		assert.Equal(t, graph.DTypeFloat32, out.Meta().DType)
		v, err := out.Value(ctx)
		require.NoError(t, err)
		a, _ := graph.AsArray(v)
		assert.InDelta(t, 1.0/255, a.Data[1], 1e-12)
	})

	t.Run("no match", func(t *testing.T) {
		t.Parallel()
		_, _, err := TIFFSource{FS: fsutil.NewMemoryFileSystem(), Pattern: "none/*.tif"}.Bind(graph.New(), "x")
		require.ErrorIs(t, err, ErrNoFrames)
	})
}

func TestTopLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := graph.New()
	tl := NewTopLevel(g, DefaultRoles)

	attach := func(i int, name string) {
		t.Helper()
		require.NoError(t, tl.AddLane(i))
		op, err := tl.GetLane(i)
		require.NoError(t, err)
		_, err = Attach(g, op, DefaultSynthetic(2).Dataset(name))
		require.NoError(t, err)
	}
	attach(0, "a")
	attach(1, "c")
	attach(1, "b")

	v, err := tl.ImageNameList().Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.Scalar{V: []string{"a", "b", "c"}}, v)

	require.NoError(t, tl.RemoveLane(0))
	v, err = tl.ImageNameList().Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.Scalar{V: []string{"b", "c"}}, v)
}

func TestSynthetic(t *testing.T) {
	t.Parallel()
	s := Synthetic{Frames: 4, Height: 64, Width: 64}
	raw, pred := s.Movies()
	assert.Equal(t, []int{4, 64, 64}, raw.Shape)
	assert.Equal(t, []int{4, 64, 64, 2}, pred.Shape)

	assert.Equal(t, blobIntensity, raw.At(0, 16, 16))
	assert.Equal(t, blobIntensity, raw.At(3, 16, 19))
	assert.Equal(t, backgroundLevel, raw.At(0, 0, 0))
	assert.Equal(t, foregroundProb, pred.At(0, 32, 48, 1))
	assert.InDelta(t, 1.0, pred.At(0, 0, 0, 0)+pred.At(0, 0, 0, 1), 1e-12)

	d := s.DivisionFrame()
	assert.Equal(t, backgroundLevel, raw.At(d, 32, 48), "daughters have moved apart")
	assert.Equal(t, blobIntensity, raw.At(d, 26, 48))
	assert.Equal(t, blobIntensity, raw.At(d, 38, 48))
}
