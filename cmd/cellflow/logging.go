package main

import (
	"io"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectclassification"
	"github.com/banshee-data/cellflow/internal/tracking"
	"github.com/banshee-data/cellflow/internal/workflow"
)

// setupLogging routes the ops stream of every package to w and enables
// the diag and trace streams on request.
func setupLogging(w io.Writer, diag, trace bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = w
	}
	if trace {
		traceW = w
	}
	graph.SetLogWriters(w, diagW, traceW)
	workflow.SetLogWriters(w, diagW)
	objectclassification.SetLogWriter(diagW)
	tracking.SetLogWriter(diagW)
}
