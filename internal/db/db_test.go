package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/timeutil"
	"github.com/banshee-data/cellflow/internal/tracking"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleEvents() []tracking.FrameEvents {
	return []tracking.FrameEvents{
		{Frame: 0, Tracks: map[int]int{1: 1, 2: 2}, Events: []tracking.Event{
			{Kind: tracking.EventAppearance, To: []int{1}, Track: 1},
			{Kind: tracking.EventAppearance, To: []int{2}, Track: 2},
		}},
		{Frame: 1, Tracks: map[int]int{1: 1, 2: 3, 3: 4}, Events: []tracking.Event{
			{Kind: tracking.EventMove, From: 1, To: []int{1}, Track: 1},
			{Kind: tracking.EventDivision, From: 2, To: []int{2, 3}, Track: 2, Children: []int{3, 4}},
		}},
		{Frame: 2, Tracks: map[int]int{1: 3}, Events: []tracking.Event{
			{Kind: tracking.EventDisappearance, From: 1, Track: 1},
			{Kind: tracking.EventMove, From: 2, To: []int{1}, Track: 3},
			{Kind: tracking.EventDisappearance, From: 3, Track: 4},
		}},
		{Frame: 3, Tracks: map[int]int{}},
	}
}

func sampleFeatures() []objectextraction.FrameFeatures {
	std := func(counts, means []float64, centers [][]float64) map[string]map[string][][]float64 {
		col := func(v []float64) [][]float64 {
			out := make([][]float64, len(v))
			for i, x := range v {
				out[i] = []float64{x}
			}
			return out
		}
		return map[string]map[string][][]float64{objectextraction.StandardGroup: {
			objectextraction.FeatureCount:        col(counts),
			objectextraction.FeatureMean:         col(means),
			objectextraction.FeatureRegionCenter: centers,
		}}
	}
	return []objectextraction.FrameFeatures{
		{Frame: 0, NumObjects: 2, Features: std([]float64{49, 45}, []float64{100, 90}, [][]float64{{16, 16, 0}, {16, 48, 0}})},
		{Frame: 1, NumObjects: 3, Features: std([]float64{49, 20, 21}, []float64{100, 95, 96}, [][]float64{{17, 16, 0}, {14, 48, 0}, {18, 48, 0}})},
		{Frame: 2, NumObjects: 1, Features: std([]float64{21}, []float64{96}, [][]float64{{20, 48, 0}})},
		{Frame: 3},
	}
}

func TestMigrations(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	tableExists := func(name string) bool {
		var n int
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
		return n > 0
	}
	assert.True(t, tableExists("objects"))

	require.NoError(t, db.MigrateDown(Migrations()))
	version, _, err = db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists("objects"))
	assert.True(t, tableExists("track_events"))

	require.NoError(t, db.MigrateUp(Migrations()))
	require.NoError(t, db.MigrateUp(Migrations()))
	assert.True(t, tableExists("objects"))

	_, _, err = db.MigrateVersion(nil)
	require.Error(t, err)
}

func TestOpenWithoutMigrations(t *testing.T) {
	t.Parallel()
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)

	first, err := db.StartRun(ctx, "Tracking", map[string]any{"max_distance": 30.0})
	require.NoError(t, err)
	second, err := db.StartRun(ctx, "Tracking", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.ID, runs[0].ID)
	assert.JSONEq(t, `{"max_distance": 30}`, string(runs[0].Config))
	assert.Equal(t, "null", string(runs[1].Config))
	assert.True(t, first.StartedAt.Equal(runs[0].StartedAt))

	_, err = db.StartRun(ctx, "Tracking", func() {})
	require.Error(t, err)
}

func TestRunTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	start := time.Date(2024, 3, 1, 9, 30, 15, 500, time.UTC)
	clock := timeutil.NewMockClock(start)
	db.Clock = clock

	later, err := db.StartRun(ctx, "Tracking", nil)
	require.NoError(t, err)
	assert.Equal(t, start.Truncate(time.Second), later.StartedAt)

	clock.Set(start.Add(-time.Hour))
	earlier, err := db.StartRun(ctx, "Tracking", nil)
	require.NoError(t, err)

	clock.Set(start.Add(90 * time.Second))
	require.NoError(t, db.FinishRun(ctx, later.ID))
	require.Error(t, db.FinishRun(ctx, "no-such-run"))

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, earlier.ID, runs[0].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, later.ID, runs[1].ID)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 31, 45, 0, time.UTC), runs[1].FinishedAt)
}

func TestSaveAndReadEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	run, err := db.StartRun(ctx, "Tracking", nil)
	require.NoError(t, err)

	events := sampleEvents()
	require.NoError(t, db.SaveLane(ctx, run.ID, 0, "movie", len(events)))
	require.NoError(t, db.SaveEvents(ctx, run.ID, 0, events))

	got, err := db.Events(ctx, run.ID, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(events, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	t.Run("saving again replaces", func(t *testing.T) {
		require.NoError(t, db.SaveEvents(ctx, run.ID, 0, events[:1]))
		got, err := db.Events(ctx, run.ID, 0)
		require.NoError(t, err)
		require.Len(t, got, len(events))
		assert.Len(t, got[0].Events, 2)
		assert.Empty(t, got[1].Events)
		assert.Empty(t, got[1].Tracks)
	})

	t.Run("unknown lane", func(t *testing.T) {
		_, err := db.Events(ctx, run.ID, 7)
		require.ErrorIs(t, err, ErrUnknownLane)
		_, err = db.ObjectCounts(ctx, "nope", 0)
		require.ErrorIs(t, err, ErrUnknownLane)
	})

	t.Run("lane requires run", func(t *testing.T) {
		require.Error(t, db.SaveLane(ctx, "missing-run", 0, "movie", 1))
	})

	t.Run("events require lane", func(t *testing.T) {
		require.Error(t, db.SaveEvents(ctx, run.ID, 5, events))
	})
}

func TestSaveFeatures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	run, err := db.StartRun(ctx, "Tracking", nil)
	require.NoError(t, err)

	features := sampleFeatures()
	require.NoError(t, db.SaveLane(ctx, run.ID, 1, "movie", len(features)))
	require.NoError(t, db.SaveFeatures(ctx, run.ID, 1, features))

	counts, err := db.ObjectCounts(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 0}, counts)

	var size, mean, x, y float64
	require.NoError(t, db.QueryRow(`SELECT size, mean, center_x, center_y FROM objects
		WHERE run_id = ? AND lane = 1 AND frame = 1 AND label = 3`, run.ID).Scan(&size, &mean, &x, &y))
	assert.Equal(t, []float64{21, 96, 18, 48}, []float64{size, mean, x, y})

	// Re-saving the lane drops everything stored for it.
	require.NoError(t, db.SaveLane(ctx, run.ID, 1, "movie", 2))
	counts, err = db.ObjectCounts(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, counts)
}

func TestRunConfigRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	type cfg struct {
		Channel int `json:"channel"`
	}
	run, err := db.StartRun(ctx, "Tracking", cfg{Channel: 1})
	require.NoError(t, err)
	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	var back cfg
	require.NoError(t, json.Unmarshal(runs[0].Config, &back))
	assert.Equal(t, 1, back.Channel)
	assert.Equal(t, run.ID, runs[0].ID)
}
