package report

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellflow/internal/tracking"
)

func sampleTrajectories() []tracking.Trajectory {
	return []tracking.Trajectory{
		{Track: 1, Frames: []int{0, 1, 2}, Centers: [][3]float64{{16, 16}, {17, 16}, {18, 16}}},
		{Track: 2, Frames: []int{0, 1}, Centers: [][3]float64{{48, 32}, {48, 32}}},
		{Track: 3, Parent: 2, Frames: []int{2}, Centers: [][3]float64{{48, 26}}},
		{Track: 4, Parent: 2, Frames: []int{2}, Centers: [][3]float64{{48, 38}}},
		{Track: 5},
	}
}

func TestWriteTrajectories(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteTrajectories(&buf, "movie", sampleTrajectories()))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
	assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
}

func TestTrajectoryPlot(t *testing.T) {
	t.Parallel()
	p, err := TrajectoryPlot("movie", sampleTrajectories())
	require.NoError(t, err)
	assert.Equal(t, "movie", p.Title.Text)
	assert.Equal(t, 16.0, p.X.Min)
	assert.Equal(t, 48.0, p.X.Max)
	assert.Equal(t, 16.0, p.Y.Min)
	assert.Equal(t, 38.0, p.Y.Max)

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteTrajectories(&buf, "empty", nil))
		_, err := png.Decode(&buf)
		require.NoError(t, err)
	})
}

func TestGenerateColors(t *testing.T) {
	t.Parallel()
	assert.Nil(t, generateColors(0))
	colors := generateColors(6)
	require.Len(t, colors, 6)
	seen := map[[3]uint32]bool{}
	for _, c := range colors {
		r, g, b, a := c.RGBA()
		assert.Equal(t, uint32(0xffff), a)
		seen[[3]uint32{r, g, b}] = true
	}
	assert.Len(t, seen, 6)

	r, g, b := hslToRGB(0, 0, 0.5)
	assert.Equal(t, []uint8{127, 127, 127}, []uint8{r, g, b})
	r, g, b = hslToRGB(0, 1, 0.5)
	assert.Equal(t, []uint8{255, 0, 0}, []uint8{r, g, b})
}

func TestWriteObjectCounts(t *testing.T) {
	t.Parallel()
	lanes := []LaneSummary{
		{
			Name:   "first",
			Counts: []int{3, 3, 4},
			Events: []tracking.FrameEvents{
				{Frame: 0, Events: []tracking.Event{{Kind: tracking.EventAppearance}}},
				{Frame: 1},
				{Frame: 2, Events: []tracking.Event{{Kind: tracking.EventDivision}}},
			},
		},
		{Name: "second", Counts: []int{1, 1, 1, 2}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteObjectCounts(&buf, "run", lanes))
	html := buf.String()
	assert.True(t, strings.HasPrefix(strings.TrimSpace(html), "<!DOCTYPE html>") || strings.Contains(html, "<html"))
	for _, want := range []string{"Objects per frame", "Tracking events per frame", "first", "second", "first division", "second disappearance"} {
		assert.Contains(t, html, want)
	}
}
