package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/banshee-data/cellflow/internal/config"
	"github.com/banshee-data/cellflow/internal/dataselection"
	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/workflow"
)

// workflowFlags are the flags shared by every command that builds a
// workflow.
type workflowFlags struct {
	configPath string
	lanes      []string
	synthetic  int
	workers    int
}

func (f *workflowFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Workflow config JSON (CELLFLOW_* env vars override it)")
	fs.StringArrayVar(&f.lanes, "lane", nil, "Dataset as name=raw-glob:prediction-glob, one TIFF per frame (repeatable)")
	fs.IntVar(&f.synthetic, "synthetic", 0, "Add a synthetic lane with this many frames")
	fs.IntVar(&f.workers, "workers", 0, "Parallel region workers (0 keeps the config value)")
}

func (f *workflowFlags) loadConfig(fsys fsutil.FileSystem) (*config.WorkflowConfig, error) {
	var cfg *config.WorkflowConfig
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadWorkflowConfig(fsys, f.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if f.workers < 0 {
		return nil, fmt.Errorf("--workers must be non-negative, got %d", f.workers)
	}
	if f.workers > 0 {
		n := f.workers
		cfg.Workers = &n
	}
	return cfg, nil
}

func (f *workflowFlags) datasets(fsys fsutil.FileSystem) ([]dataselection.Dataset, error) {
	var out []dataselection.Dataset
	for _, arg := range f.lanes {
		ds, err := parseLane(fsys, arg)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	if f.synthetic > 0 {
		out = append(out, dataselection.DefaultSynthetic(f.synthetic).Dataset("synthetic"))
	}
	if len(out) == 0 {
		return nil, errors.New("no datasets: pass --lane or --synthetic")
	}
	return out, nil
}

// build creates the workflow and adds one lane per dataset. allow_labels
// in the config can switch labels off for every lane.
func (f *workflowFlags) build(fsys fsutil.FileSystem) (*workflow.ConservationTrackingWorkflow, *config.WorkflowConfig, error) {
	cfg, err := f.loadConfig(fsys)
	if err != nil {
		return nil, nil, err
	}
	sets, err := f.datasets(fsys)
	if err != nil {
		return nil, nil, err
	}
	w, err := workflow.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	for _, ds := range sets {
		ds.AllowLabels = ds.AllowLabels && cfg.GetAllowLabels()
		if _, err := w.AddLane(ds); err != nil {
			return nil, nil, err
		}
	}
	return w, cfg, nil
}

// parseLane parses "name=raw-glob:prediction-glob". Prediction maps are
// normalised to [0, 1].
func parseLane(fsys fsutil.FileSystem, arg string) (dataselection.Dataset, error) {
	name, globs, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return dataselection.Dataset{}, fmt.Errorf("lane %q: want name=raw-glob:prediction-glob", arg)
	}
	raw, pred, ok := strings.Cut(globs, ":")
	if !ok || raw == "" || pred == "" {
		return dataselection.Dataset{}, fmt.Errorf("lane %q: want name=raw-glob:prediction-glob", arg)
	}
	return dataselection.Dataset{
		Name:        name,
		AllowLabels: true,
		Sources: []dataselection.Source{
			dataselection.TIFFSource{FS: fsys, Pattern: raw},
			dataselection.TIFFSource{FS: fsys, Pattern: pred, Normalize: true},
		},
	}, nil
}
