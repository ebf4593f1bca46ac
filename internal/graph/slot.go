package graph

import (
	"fmt"
	"slices"
	"sync"
)

// Direction says whether a slot consumes or produces values.
type Direction int

const (
	DirInput Direction = iota
	DirOutput
)

func (d Direction) String() string {
	if d == DirOutput {
		return "output"
	}
	return "input"
}

// SlotOption configures a slot when it is declared.
type SlotOption func(*Slot)

// Optional marks an input that may stay unbound without blocking setup.
func Optional() SlotOption {
	return func(s *Slot) { s.optional = true }
}

// Multi declares an indexed collection of n element slots.
func Multi(n int) SlotOption {
	return func(s *Slot) {
		s.multi = true
		for i := 0; i < n; i++ {
			s.elems = append(s.elems, s.newElem())
		}
	}
}

// Slot is a typed connection point on an operator. A single slot carries
// one value; a multi-slot is an ordered collection of element slots that
// are connected and requested individually.
//
// Inputs hold at most one binding: an upstream slot (an output, or another
// input whose binding is mirrored) or a constant. Outputs fan out to any
// number of inputs.
type Slot struct {
	name     string
	dir      Direction
	typ      Type
	owner    *OperatorBase
	optional bool
	multi    bool
	parent   *Slot

	mu         sync.RWMutex
	meta       Meta
	upstream   *Slot
	constant   Value
	downstream []*Slot
	elems      []*Slot
}

func newSlot(owner *OperatorBase, name string, dir Direction, t Type, opts ...SlotOption) *Slot {
	s := &Slot{name: name, dir: dir, typ: t, owner: owner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slot) newElem() *Slot {
	return &Slot{name: s.name, dir: s.dir, typ: s.typ, owner: s.owner, optional: s.optional, parent: s}
}

// Name is the slot name declared by its operator.
func (s *Slot) Name() string { return s.name }

// Type is the declared slot type.
func (s *Slot) Type() Type { return s.typ }

// Direction reports whether s is an input or an output.
func (s *Slot) Direction() Direction { return s.dir }

// IsMulti reports whether s is a multi-slot.
func (s *Slot) IsMulti() bool { return s.multi }

// Parent returns the multi-slot s belongs to, or nil.
func (s *Slot) Parent() *Slot { return s.parent }

// Operator returns the operator that owns s.
func (s *Slot) Operator() Operator { return s.owner.self }

// FullName names the slot for messages, e.g. "OpThresholdTwoLevels.InputImage[1]".
func (s *Slot) FullName() string {
	if s.parent != nil {
		return fmt.Sprintf("%s[%d]", s.parent.FullName(), s.Position())
	}
	return s.owner.name + "." + s.name
}

// Position returns the index of an element slot within its parent, or -1.
func (s *Slot) Position() int {
	if s.parent == nil {
		return -1
	}
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()
	return slices.Index(s.parent.elems, s)
}

// Len is the number of elements of a multi-slot.
func (s *Slot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elems)
}

// Index returns element i of a multi-slot, or nil if out of range.
func (s *Slot) Index(i int) *Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.elems) {
		return nil
	}
	return s.elems[i]
}

// Elements returns a snapshot of the element slots.
func (s *Slot) Elements() []*Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.elems)
}

// Meta returns the metadata currently propagated to s.
func (s *Slot) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Clone()
}

// SetMeta records the metadata of an output slot. Operators call it from
// SetupOutputs; the graph pushes it downstream afterwards.
func (s *Slot) SetMeta(m Meta) {
	s.mu.Lock()
	s.meta = m.Clone()
	s.mu.Unlock()
}

// Upstream returns the slot s is connected to, or nil.
func (s *Slot) Upstream() *Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream
}

// Constant returns the constant bound to s, if any.
func (s *Slot) Constant() (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.constant, s.constant != nil
}

// Bound reports whether an input has an upstream connection or constant.
// A multi-slot is bound when it is connected as a whole.
func (s *Slot) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream != nil || s.constant != nil
}

// Supplied reports whether an input receives a value: a constant, an
// output, or another input that is itself supplied. An optional input
// mirroring an unbound input is bound but not supplied.
func (s *Slot) Supplied() bool {
	up, c := s.binding()
	switch {
	case c != nil:
		return true
	case up == nil:
		return false
	case up.dir == DirOutput:
		return true
	}
	return up.Supplied()
}

// Downstream returns a snapshot of the inputs fed by s.
func (s *Slot) Downstream() []*Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.downstream)
}

func (s *Slot) binding() (*Slot, Value) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream, s.constant
}

func (s *Slot) setConstant(v Value) {
	s.mu.Lock()
	s.constant = v
	s.mu.Unlock()
}

// ready reports whether s satisfies its owner's setup preconditions.
func (s *Slot) ready() bool {
	if s.multi {
		for _, e := range s.Elements() {
			if !e.ready() {
				return false
			}
		}
		return true
	}
	if s.optional && !s.Supplied() {
		return true
	}
	return s.Meta().Ready()
}

// clearMeta resets the metadata of s and its elements.
func (s *Slot) clearMeta() {
	s.SetMeta(Meta{})
	for _, e := range s.Elements() {
		e.clearMeta()
	}
}

// flatten returns s followed by its elements.
func (s *Slot) flatten() []*Slot {
	return append([]*Slot{s}, s.Elements()...)
}

func (s *Slot) notReady() error {
	if err := s.owner.SetupErr(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReady, s.FullName(), err)
	}
	return fmt.Errorf("%w: %s", ErrNotReady, s.FullName())
}
