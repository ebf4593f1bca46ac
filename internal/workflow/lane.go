package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/cellflow/internal/adaptors"
	"github.com/banshee-data/cellflow/internal/dataselection"
	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectclassification"
	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/opticaltranslation"
	"github.com/banshee-data/cellflow/internal/threshold"
	"github.com/banshee-data/cellflow/internal/tracking"
)

var (
	// ErrNoSuchLane is returned for a lane index outside the workflow.
	ErrNoSuchLane = errors.New("workflow: no such lane")
	// ErrLaneRemoved is returned by a Lane handle after its lane was
	// removed from the workflow.
	ErrLaneRemoved = errors.New("workflow: lane removed")
)

// Lane is the handle of one dataset's replica of the workflow. Its
// operator fields are the per-lane views of each applet.
//
// Requests through the handle hold the lane shared; rewiring and removal
// hold it exclusively, so they wait for in-flight requests and no request
// ever sees a half-wired lane. Requests issued directly on the slots
// bypass this and are the caller's responsibility.
type Lane struct {
	mu      sync.RWMutex
	name    string
	removed bool

	DataSelection      *dataselection.OpDataSelection
	Threshold          *threshold.OpThresholdTwoLevels
	OpticalTranslation *opticaltranslation.OpOpticalTranslation
	ObjectExtraction   *objectextraction.OpTrackingFeatureExtraction
	DivisionDetection  *objectclassification.OpObjectClassification
	CellClassification *objectclassification.OpObjectClassification
	Tracking           *tracking.OpConservationTracking

	raw5, predictions5, binary5 *adaptors.Op5ify
	readers                     []graph.Operator
	// bound lists the inputs the lane wiring bound, in wiring order.
	bound []*graph.Slot
}

// Name is the dataset name the lane was added with.
func (l *Lane) Name() string { return l.name }

func (l *Lane) rlock() error {
	l.mu.RLock()
	if l.removed {
		l.mu.RUnlock()
		return fmt.Errorf("%w: %q", ErrLaneRemoved, l.name)
	}
	return nil
}

// Request computes region r of slot s, which must belong to this lane.
func (l *Lane) Request(ctx context.Context, s *graph.Slot, r graph.Region) (graph.Value, error) {
	if err := l.rlock(); err != nil {
		return nil, err
	}
	defer l.mu.RUnlock()
	return s.Request(ctx, r)
}

// Events returns the tracking events of every frame.
func (l *Lane) Events(ctx context.Context) ([]tracking.FrameEvents, error) {
	if err := l.rlock(); err != nil {
		return nil, err
	}
	defer l.mu.RUnlock()
	return l.Tracking.Solution(ctx)
}

// Features returns the per-object features of every frame.
func (l *Lane) Features(ctx context.Context) ([]objectextraction.FrameFeatures, error) {
	if err := l.rlock(); err != nil {
		return nil, err
	}
	defer l.mu.RUnlock()
	v, err := l.ObjectExtraction.RegionFeatures.Value(ctx)
	if err != nil {
		return nil, err
	}
	tb, err := graph.AsTable(v)
	if err != nil {
		return nil, err
	}
	return graph.Rows[objectextraction.FrameFeatures](tb)
}

// Trajectories returns one trajectory per track.
func (l *Lane) Trajectories(ctx context.Context) ([]tracking.Trajectory, error) {
	events, err := l.Events(ctx)
	if err != nil {
		return nil, err
	}
	features, err := l.Features(ctx)
	if err != nil {
		return nil, err
	}
	return tracking.Trajectories(events, features), nil
}

// SetDivisionLabels sets the training labels of the division classifier.
func (l *Lane) SetDivisionLabels(labels objectclassification.Labels) error {
	return l.setLabels(l.DivisionDetection, labels)
}

// SetCellLabels sets the training labels of the cell classifier.
func (l *Lane) SetCellLabels(labels objectclassification.Labels) error {
	return l.setLabels(l.CellClassification, labels)
}

func (l *Lane) setLabels(op *objectclassification.OpObjectClassification, labels objectclassification.Labels) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return fmt.Errorf("%w: %q", ErrLaneRemoved, l.name)
	}
	return op.Graph().SetValue(op.LabelInputs, labels)
}

// Operators returns the lane's operators in topological order, adapters
// included.
func (l *Lane) Operators() []graph.Operator {
	var out []graph.Operator
	for _, op := range []graph.Operator{
		l.DataSelection, l.raw5, l.predictions5, l.Threshold, l.binary5,
		l.OpticalTranslation, l.ObjectExtraction,
		l.DivisionDetection, l.CellClassification, l.Tracking,
	} {
		if !isNil(op) {
			out = append(out, op)
		}
	}
	return out
}

// isNil reports whether op holds a nil pointer of a concrete operator type.
func isNil(op graph.Operator) bool {
	switch x := op.(type) {
	case nil:
		return true
	case *adaptors.Op5ify:
		return x == nil
	}
	return false
}
