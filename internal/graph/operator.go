package graph

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Operator is a node of the graph. Concrete operators embed OperatorBase,
// declare their slots in a constructor and implement the three hooks:
//
//   - SetupOutputs derives output metadata from input metadata. It runs
//     whenever every required input is ready and any input changes.
//   - Execute computes the part r of output out on demand.
//   - PropagateDirty maps a dirty region of an input onto outputs.
type Operator interface {
	Base() *OperatorBase
	SetupOutputs() error
	Execute(ctx context.Context, out *Slot, r Region) (Value, error)
	PropagateDirty(in *Slot, r Region)
}

// OperatorBase carries the bookkeeping shared by every operator.
type OperatorBase struct {
	id   string
	name string
	g    *Graph
	self Operator

	inputs   []*Slot
	outputs  []*Slot
	children []Operator

	mu       sync.RWMutex
	setupErr error
}

// Init registers self with g. Call it first in a constructor.
func (b *OperatorBase) Init(g *Graph, name string, self Operator) {
	b.id = uuid.NewString()
	b.name = name
	b.g = g
	b.self = self
	g.register(self)
}

// Base implements Operator.
func (b *OperatorBase) Base() *OperatorBase { return b }

// ID is a unique identifier assigned at Init.
func (b *OperatorBase) ID() string { return b.id }

// Name is the display name given at Init.
func (b *OperatorBase) Name() string { return b.name }

// Graph returns the graph the operator lives in.
func (b *OperatorBase) Graph() *Graph { return b.g }

// Input declares an input slot.
func (b *OperatorBase) Input(name string, t Type, opts ...SlotOption) *Slot {
	s := newSlot(b, name, DirInput, t, opts...)
	b.inputs = append(b.inputs, s)
	return s
}

// Output declares an output slot.
func (b *OperatorBase) Output(name string, t Type, opts ...SlotOption) *Slot {
	s := newSlot(b, name, DirOutput, t, opts...)
	b.outputs = append(b.outputs, s)
	return s
}

// Inputs returns the declared input slots in declaration order.
func (b *OperatorBase) Inputs() []*Slot { return slices.Clone(b.inputs) }

// Outputs returns the declared output slots in declaration order.
func (b *OperatorBase) Outputs() []*Slot { return slices.Clone(b.outputs) }

// Slot looks up a declared slot by name, inputs first.
func (b *OperatorBase) Slot(name string) *Slot {
	for _, s := range b.inputs {
		if s.name == name {
			return s
		}
	}
	for _, s := range b.outputs {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Adopt makes child part of b: it is removed together with b.
func (b *OperatorBase) Adopt(child Operator) {
	b.mu.Lock()
	b.children = append(b.children, child)
	b.mu.Unlock()
}

// Children returns the adopted operators.
func (b *OperatorBase) Children() []Operator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.children)
}

// Seal runs setup once all slots are declared and internal wiring is done.
// Constructors call it last; a setup failure is kept in SetupErr.
func (b *OperatorBase) Seal() {
	b.g.mu.Lock()
	defer b.g.mu.Unlock()
	_ = b.g.setup(b)
}

// SetupErr returns the error of the most recent SetupOutputs call.
func (b *OperatorBase) SetupErr() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.setupErr
}

func (b *OperatorBase) setSetupErr(err error) {
	b.mu.Lock()
	b.setupErr = err
	b.mu.Unlock()
}

// Ready reports whether every required input has metadata.
func (b *OperatorBase) Ready() bool {
	for _, in := range b.inputs {
		if !in.ready() {
			return false
		}
	}
	return true
}

// PropagateDirty is the conservative default: any input change dirties
// every output entirely.
func (b *OperatorBase) PropagateDirty(_ *Slot, _ Region) {
	for _, out := range b.outputs {
		out.SetDirty(Region{})
	}
}
