package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/tracking"
)

// ErrUnknownLane is returned when reading a lane that was never saved.
var ErrUnknownLane = errors.New("db: unknown lane")

// Run is one invocation of a workflow. FinishedAt is zero while the run
// is in progress.
type Run struct {
	ID         string
	Workflow   string
	Config     json.RawMessage
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartRun records a new run of workflow with its configuration.
func (db *DB) StartRun(ctx context.Context, workflow string, cfg any) (*Run, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}
	run := &Run{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		Config:    raw,
		StartedAt: db.now().UTC().Truncate(time.Second),
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow, config_json, started_unix) VALUES (?, ?, ?, ?)`,
		run.ID, run.Workflow, string(run.Config), run.StartedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run as complete.
func (db *DB) FinishRun(ctx context.Context, runID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET finished_unix = ? WHERE run_id = ?`, db.now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: no run %s", runID)
	}
	return nil
}

// Runs lists all runs, oldest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, workflow, config_json, started_unix, finished_unix FROM runs ORDER BY started_unix, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var cfg string
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Workflow, &cfg, &started, &finished); err != nil {
			return nil, err
		}
		r.Config = json.RawMessage(cfg)
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			r.FinishedAt = time.Unix(finished.Int64, 0).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveLane records lane of a run and its number of frames. Saving a lane
// again replaces its results.
func (db *DB) SaveLane(ctx context.Context, runID string, lane int, name string, frames int) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM lanes WHERE run_id = ? AND lane = ?`, runID, lane); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO lanes (run_id, lane, name, frames) VALUES (?, ?, ?, ?)`,
			runID, lane, name, frames)
		return err
	})
}

// SaveEvents stores the tracking events and track assignments of a lane.
func (db *DB) SaveEvents(ctx context.Context, runID string, lane int, events []tracking.FrameEvents) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"track_events", "track_assignments"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE run_id = ? AND lane = ?`, runID, lane); err != nil {
				return err
			}
		}
		insEvent, err := tx.PrepareContext(ctx, `INSERT INTO track_events
			(run_id, lane, frame, seq, kind, from_label, to_labels, track, children)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insEvent.Close()
		insTrack, err := tx.PrepareContext(ctx, `INSERT INTO track_assignments
			(run_id, lane, frame, label, track) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insTrack.Close()

		for _, fe := range events {
			for seq, e := range fe.Events {
				to, err := json.Marshal(e.To)
				if err != nil {
					return err
				}
				children, err := json.Marshal(e.Children)
				if err != nil {
					return err
				}
				if _, err := insEvent.ExecContext(ctx, runID, lane, fe.Frame, seq,
					string(e.Kind), e.From, string(to), e.Track, string(children)); err != nil {
					return fmt.Errorf("frame %d event %d: %w", fe.Frame, seq, err)
				}
			}
			for label, track := range fe.Tracks {
				if _, err := insTrack.ExecContext(ctx, runID, lane, fe.Frame, label, track); err != nil {
					return fmt.Errorf("frame %d label %d: %w", fe.Frame, label, err)
				}
			}
		}
		return nil
	})
}

// SaveFeatures stores the size, mean intensity and centre of every object.
func (db *DB) SaveFeatures(ctx context.Context, runID string, lane int, features []objectextraction.FrameFeatures) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM objects WHERE run_id = ? AND lane = ?`, runID, lane); err != nil {
			return err
		}
		ins, err := tx.PrepareContext(ctx, `INSERT INTO objects
			(run_id, lane, frame, label, size, mean, center_x, center_y, center_z)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer ins.Close()

		for _, ff := range features {
			counts, _ := ff.Get(objectextraction.StandardGroup, objectextraction.FeatureCount)
			means, _ := ff.Get(objectextraction.StandardGroup, objectextraction.FeatureMean)
			centers, _ := ff.Get(objectextraction.StandardGroup, objectextraction.FeatureRegionCenter)
			for k := 0; k < ff.NumObjects; k++ {
				var c [3]float64
				if k < len(centers) {
					copy(c[:], centers[k])
				}
				if _, err := ins.ExecContext(ctx, runID, lane, ff.Frame, k+1,
					first(counts, k), first(means, k), c[0], c[1], c[2]); err != nil {
					return fmt.Errorf("frame %d object %d: %w", ff.Frame, k+1, err)
				}
			}
		}
		return nil
	})
}

func first(v [][]float64, k int) float64 {
	if k < len(v) && len(v[k]) > 0 {
		return v[k][0]
	}
	return 0
}

func (db *DB) laneFrames(ctx context.Context, runID string, lane int) (int, error) {
	var frames int
	err := db.QueryRowContext(ctx,
		`SELECT frames FROM lanes WHERE run_id = ? AND lane = ?`, runID, lane).Scan(&frames)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: run %s lane %d", ErrUnknownLane, runID, lane)
	}
	return frames, err
}

// Events reads back the tracking events of a lane, one entry per frame.
func (db *DB) Events(ctx context.Context, runID string, lane int) ([]tracking.FrameEvents, error) {
	frames, err := db.laneFrames(ctx, runID, lane)
	if err != nil {
		return nil, err
	}
	out := make([]tracking.FrameEvents, frames)
	for t := range out {
		out[t] = tracking.FrameEvents{Frame: t, Tracks: map[int]int{}}
	}

	rows, err := db.QueryContext(ctx, `SELECT frame, kind, from_label, to_labels, track, children
		FROM track_events WHERE run_id = ? AND lane = ? ORDER BY frame, seq`, runID, lane)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t int
		var e tracking.Event
		var kind, to, children string
		if err := rows.Scan(&t, &kind, &e.From, &to, &e.Track, &children); err != nil {
			return nil, err
		}
		if t < 0 || t >= frames {
			return nil, fmt.Errorf("event in frame %d of a %d frame lane", t, frames)
		}
		e.Kind = tracking.EventKind(kind)
		if err := json.Unmarshal([]byte(to), &e.To); err != nil {
			return nil, fmt.Errorf("frame %d: to_labels: %w", t, err)
		}
		if err := json.Unmarshal([]byte(children), &e.Children); err != nil {
			return nil, fmt.Errorf("frame %d: children: %w", t, err)
		}
		out[t].Events = append(out[t].Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tracks, err := db.QueryContext(ctx, `SELECT frame, label, track
		FROM track_assignments WHERE run_id = ? AND lane = ?`, runID, lane)
	if err != nil {
		return nil, err
	}
	defer tracks.Close()
	for tracks.Next() {
		var t, label, track int
		if err := tracks.Scan(&t, &label, &track); err != nil {
			return nil, err
		}
		if t >= 0 && t < frames {
			out[t].Tracks[label] = track
		}
	}
	return out, tracks.Err()
}

// ObjectCounts returns the number of stored objects in every frame of a
// lane.
func (db *DB) ObjectCounts(ctx context.Context, runID string, lane int) ([]int, error) {
	frames, err := db.laneFrames(ctx, runID, lane)
	if err != nil {
		return nil, err
	}
	out := make([]int, frames)
	rows, err := db.QueryContext(ctx, `SELECT frame, COUNT(*) FROM objects
		WHERE run_id = ? AND lane = ? GROUP BY frame`, runID, lane)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t, n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		if t >= 0 && t < frames {
			out[t] = n
		}
	}
	return out, rows.Err()
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
