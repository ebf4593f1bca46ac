package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/cellflow/internal/dataselection"
	"github.com/banshee-data/cellflow/internal/db"
	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/timeutil"
	"github.com/banshee-data/cellflow/internal/version"
)

// execute runs the CLI with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestRunSynthetic(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	plots := filepath.Join(dir, "plots")

	out, err := execute(t, "run", "--synthetic", "4", "--db", dbPath, "--plots", plots, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Lane synthetic: 4 frames")
	assert.Contains(t, out, "appearances=4")
	assert.Contains(t, out, "Stored run ")

	for _, name := range []string{"synthetic_trajectories.png", "object_counts.html"} {
		info, err := os.Stat(filepath.Join(plots, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	sink, err := db.Open(dbPath)
	require.NoError(t, err)
	defer sink.Close()
	ctx := context.Background()
	runs, err := sink.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, string(runs[0].Config), `"workers":2`)
	assert.False(t, runs[0].FinishedAt.Before(runs[0].StartedAt))
	events, err := sink.Events(ctx, runs[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	counts, err := sink.ObjectCounts(ctx, runs[0].ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 4, 4}, counts)
}

func TestInspect(t *testing.T) {
	out, err := execute(t, "inspect", "--synthetic", "3")
	require.NoError(t, err)
	for _, want := range []string{
		"workflow: Tracking Workflow (Conservation Tracking)",
		"name: synthetic",
		"OpConservationTracking[0]",
		"source: DivisionDetection[0].ObjectFeatures",
	} {
		assert.Contains(t, out, want)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	yamlCfg := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(yamlCfg, []byte("max_distance: 3\n"), 0o644))
	badCfg := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badCfg, []byte(`{"low_threshold": 0.9, "high_threshold": 0.1}`), 0o644))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no datasets", []string{"run"}, "no datasets"},
		{"bad lane", []string{"inspect", "--lane", "nameonly"}, "want name=raw-glob:prediction-glob"},
		{"missing frames", []string{"run", "--lane", "x=" + filepath.Join(dir, "none", "*.tif") + ":" + filepath.Join(dir, "none", "*.tif")}, "no frames"},
		{"config extension", []string{"run", "--synthetic", "2", "--config", yamlCfg}, ".json"},
		{"invalid config", []string{"run", "--synthetic", "2", "--config", badCfg}, "low_threshold"},
		{"negative workers", []string{"run", "--synthetic", "2", "--workers", "-1"}, "--workers"},
		{"extra args", []string{"inspect", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLane(t *testing.T) {
	t.Parallel()
	ds, err := parseLane(nil, "cells=raw/*.tif:pred/*.tif")
	require.NoError(t, err)
	assert.Equal(t, "cells", ds.Name)
	assert.True(t, ds.AllowLabels)
	require.Len(t, ds.Sources, 2)
	assert.Equal(t, dataselection.TIFFSource{Pattern: "raw/*.tif"}, ds.Sources[0])
	assert.Equal(t, dataselection.TIFFSource{Pattern: "pred/*.tif", Normalize: true}, ds.Sources[1])

	for _, bad := range []string{"", "=a:b", "cells", "cells=raw", "cells=:pred", "cells=raw:"} {
		_, err := parseLane(nil, bad)
		assert.Error(t, err, bad)
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "movie_1.a-b", fileName("movie 1.a-b"))
	assert.Equal(t, "a_b_c", fileName("a/b:c"))
}

// writeSyntheticTIFFs stores the synthetic movie as one grey raw TIFF and
// one RGB prediction TIFF per frame; green holds the foreground.
func writeSyntheticTIFFs(t *testing.T, fsys *fsutil.MemoryFileSystem, s dataselection.Synthetic) {
	t.Helper()
	raw, pred := s.Movies()
	for f := 0; f < s.Frames; f++ {
		gray := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
		rgb := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				gray.SetGray(x, y, color.Gray{Y: uint8(raw.At(f, y, x))})
				rgb.SetRGBA(x, y, color.RGBA{
					R: uint8(255 * pred.At(f, y, x, 0)),
					G: uint8(255 * pred.At(f, y, x, 1)),
					A: 255,
				})
			}
		}
		for dir, img := range map[string]image.Image{"raw": gray, "pred": rgb} {
			var buf bytes.Buffer
			require.NoError(t, tiff.Encode(&buf, img, nil))
			require.NoError(t, fsys.WriteFile(fmt.Sprintf("%s/t%02d.tif", dir, f), buf.Bytes(), 0o644))
		}
	}
}

func TestRunTIFFLanes(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	writeSyntheticTIFFs(t, fsys, dataselection.DefaultSynthetic(4))

	var out bytes.Buffer
	flags := &runFlags{plotsDir: "plots", clock: timeutil.NewMockClock(time.Unix(0, 0))}
	flags.lanes = []string{"cells=raw/*.tif:pred/*.tif"}
	require.NoError(t, runTracking(context.Background(), &out, fsys, flags))
	assert.Contains(t, out.String(), "Lane cells: 4 frames, 14 objects")
	assert.Contains(t, out.String(), "Tracked 1 lanes in 0s")

	html, err := fsys.ReadFile("plots/object_counts.html")
	require.NoError(t, err)
	assert.Contains(t, string(html), "cells")
	_, err = fsys.ReadFile("plots/cells_trajectories.png")
	require.NoError(t, err)

	t.Run("inspect reads no pixels", func(t *testing.T) {
		var flags workflowFlags
		flags.lanes = []string{"cells=raw/*.tif:pred/*.tif"}
		w, _, err := flags.build(fsys)
		require.NoError(t, err)
		l, err := w.Lane(0)
		require.NoError(t, err)
		assert.Equal(t, graph.ArrayMeta("tyxc", graph.DTypeFloat32, 4, 64, 64, 3), l.DataSelection.ImageGroup.Index(1).Meta())
		_, err = w.Describe()
		require.NoError(t, err)
		assert.Zero(t, l.Threshold.Cache().Stats().Computes)
	})
}

func TestConfigDisallowsLabels(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("cfg.json", []byte(`{"allow_labels": false}`), 0o644))
	flags := workflowFlags{configPath: "cfg.json", synthetic: 2}
	w, cfg, err := flags.build(fsys)
	require.NoError(t, err)
	assert.False(t, cfg.GetAllowLabels())
	l, err := w.Lane(0)
	require.NoError(t, err)
	v, err := l.DataSelection.AllowLabels.Value(context.Background())
	require.NoError(t, err)
	allowed, err := graph.ScalarAs[bool](v)
	require.NoError(t, err)
	assert.False(t, allowed)
}
