// Package applet groups the per-lane operators of one workflow stage.
//
// An Applet is a named unit in the workflow's fixed order. Its top-level
// operator owns one operator view per lane; the workflow adds and removes
// lanes on every applet in lock step.
package applet

import (
	"fmt"
	"slices"
	"sync"

	"github.com/banshee-data/cellflow/internal/graph"
)

// TopLevel is the lane-aware face of an applet.
type TopLevel interface {
	// AddLane builds the operator view for a new lane at index i.
	AddLane(i int) error
	// RemoveLane removes the view at index i from the graph; later lanes
	// shift down by one.
	RemoveLane(i int) error
	// NumLanes is the number of lane views.
	NumLanes() int
}

// Applet is a named workflow stage.
type Applet struct {
	Name     string
	TopLevel TopLevel
}

// New returns an applet.
func New(name string, top TopLevel) *Applet {
	return &Applet{Name: name, TopLevel: top}
}

// Builder creates the operator view of one lane.
type Builder[T graph.Operator] func(g *graph.Graph, lane int) (T, error)

// Lanes is the generic TopLevel: an ordered list of per-lane operators of
// type T.
type Lanes[T graph.Operator] struct {
	g     *graph.Graph
	build Builder[T]

	mu    sync.RWMutex
	lanes []T
}

// NewLanes returns an empty lane list.
func NewLanes[T graph.Operator](g *graph.Graph, build Builder[T]) *Lanes[T] {
	return &Lanes[T]{g: g, build: build}
}

// AddLane implements TopLevel.
func (l *Lanes[T]) AddLane(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i > len(l.lanes) {
		return fmt.Errorf("applet: lane %d out of range [0, %d]", i, len(l.lanes))
	}
	op, err := l.build(l.g, i)
	if err != nil {
		return fmt.Errorf("applet: build lane %d: %w", i, err)
	}
	l.lanes = slices.Insert(l.lanes, i, op)
	return nil
}

// RemoveLane implements TopLevel.
func (l *Lanes[T]) RemoveLane(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.lanes) {
		return fmt.Errorf("applet: lane %d out of range [0, %d)", i, len(l.lanes))
	}
	l.g.Remove(l.lanes[i])
	l.lanes = slices.Delete(l.lanes, i, i+1)
	return nil
}

// NumLanes implements TopLevel.
func (l *Lanes[T]) NumLanes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lanes)
}

// GetLane returns the operator view of lane i.
func (l *Lanes[T]) GetLane(i int) (T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.lanes) {
		var zero T
		return zero, fmt.Errorf("applet: lane %d out of range [0, %d)", i, len(l.lanes))
	}
	return l.lanes[i], nil
}
