package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cellflow/internal/config"
	"github.com/banshee-data/cellflow/internal/db"
	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/report"
	"github.com/banshee-data/cellflow/internal/timeutil"
	"github.com/banshee-data/cellflow/internal/tracking"
	"github.com/banshee-data/cellflow/internal/workflow"
)

type runFlags struct {
	workflowFlags
	dbPath   string
	plotsDir string
	clock    timeutil.Clock
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track every lane and store or plot the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTracking(cmd.Context(), cmd.OutOrStdout(), fsutil.OSFileSystem{}, &flags)
		},
	}
	flags.register(cmd.Flags())
	f := cmd.Flags()
	f.StringVar(&flags.dbPath, "db", "", "SQLite database receiving events and object features")
	f.StringVar(&flags.plotsDir, "plots", "", "Directory for trajectory PNGs and the object count chart")
	return cmd
}

// laneResult is everything computed for one lane.
type laneResult struct {
	name         string
	events       []tracking.FrameEvents
	features     []objectextraction.FrameFeatures
	trajectories []tracking.Trajectory
}

func runTracking(ctx context.Context, out io.Writer, fsys fsutil.FileSystem, flags *runFlags) error {
	clock := flags.clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()
	w, cfg, err := flags.build(fsys)
	if err != nil {
		return err
	}

	results := make([]laneResult, 0, w.NumLanes())
	for i := 0; i < w.NumLanes(); i++ {
		l, err := w.Lane(i)
		if err != nil {
			return err
		}
		res := laneResult{name: l.Name()}
		if res.features, err = l.Features(ctx); err != nil {
			return fmt.Errorf("lane %q: features: %w", l.Name(), err)
		}
		if res.events, err = l.Events(ctx); err != nil {
			return fmt.Errorf("lane %q: tracking: %w", l.Name(), err)
		}
		res.trajectories = tracking.Trajectories(res.events, res.features)
		results = append(results, res)
		printSummary(out, res)
	}
	fmt.Fprintf(out, "Tracked %d lanes in %s\n", len(results), clock.Since(start).Round(time.Millisecond))

	if flags.dbPath != "" {
		runID, err := store(ctx, flags.dbPath, clock, cfg, results)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Stored run %s in %s\n", runID, flags.dbPath)
	}
	if flags.plotsDir != "" {
		if err := plot(fsys, flags.plotsDir, results); err != nil {
			return err
		}
		fmt.Fprintf(out, "Plots written to %s\n", flags.plotsDir)
	}
	return nil
}

func printSummary(out io.Writer, res laneResult) {
	objects := 0
	for _, f := range res.features {
		objects += f.NumObjects
	}
	counts := map[tracking.EventKind]int{}
	for _, fe := range res.events {
		for _, e := range fe.Events {
			counts[e.Kind]++
		}
	}
	fmt.Fprintf(out, "Lane %s: %d frames, %d objects, %d tracks\n", res.name, len(res.events), objects, len(res.trajectories))
	fmt.Fprintf(out, "  moves=%d divisions=%d appearances=%d disappearances=%d\n",
		counts[tracking.EventMove], counts[tracking.EventDivision],
		counts[tracking.EventAppearance], counts[tracking.EventDisappearance])
}

func store(ctx context.Context, path string, clock timeutil.Clock, cfg *config.WorkflowConfig, results []laneResult) (string, error) {
	sink, err := db.NewDB(path)
	if err != nil {
		return "", err
	}
	defer sink.Close()
	sink.Clock = clock
	run, err := sink.StartRun(ctx, workflow.Name, cfg)
	if err != nil {
		return "", err
	}
	for i, res := range results {
		if err := sink.SaveLane(ctx, run.ID, i, res.name, len(res.events)); err != nil {
			return "", fmt.Errorf("lane %q: %w", res.name, err)
		}
		if err := sink.SaveEvents(ctx, run.ID, i, res.events); err != nil {
			return "", fmt.Errorf("lane %q: %w", res.name, err)
		}
		if err := sink.SaveFeatures(ctx, run.ID, i, res.features); err != nil {
			return "", fmt.Errorf("lane %q: %w", res.name, err)
		}
	}
	return run.ID, sink.FinishRun(ctx, run.ID)
}

func plot(fsys fsutil.FileSystem, dir string, results []laneResult) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create plots dir: %w", err)
	}
	summaries := make([]report.LaneSummary, 0, len(results))
	for _, res := range results {
		var buf bytes.Buffer
		if err := report.WriteTrajectories(&buf, res.name, res.trajectories); err != nil {
			return fmt.Errorf("lane %q: %w", res.name, err)
		}
		file := filepath.Join(dir, fileName(res.name)+"_trajectories.png")
		if err := fsys.WriteFile(file, buf.Bytes(), 0644); err != nil {
			return err
		}
		counts := make([]int, len(res.features))
		for t, f := range res.features {
			counts[t] = f.NumObjects
		}
		summaries = append(summaries, report.LaneSummary{Name: res.name, Counts: counts, Events: res.events})
	}
	var buf bytes.Buffer
	if err := report.WriteObjectCounts(&buf, workflow.Name, summaries); err != nil {
		return err
	}
	return fsys.WriteFile(filepath.Join(dir, "object_counts.html"), buf.Bytes(), 0644)
}

// fileName makes a lane name safe to use as a file name.
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
