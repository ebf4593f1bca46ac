package graph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Graph owns a set of operators and serialises every topology change:
// connections, constants, slot resizing and operator removal. Value
// requests do not take the topology lock.
type Graph struct {
	mu sync.Mutex

	opsMu   sync.RWMutex
	ops     map[*OperatorBase]Operator
	workers int
}

// Option configures a Graph.
type Option func(*Graph)

// WithWorkers bounds the fan-out of parallel block requests issued by
// operators such as OpBlockCache. Zero means unbounded.
func WithWorkers(n int) Option {
	return func(g *Graph) { g.workers = n }
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{ops: make(map[*OperatorBase]Operator), workers: 4}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Workers returns the parallel request bound.
func (g *Graph) Workers() int { return g.workers }

func (g *Graph) register(op Operator) {
	g.opsMu.Lock()
	g.ops[op.Base()] = op
	g.opsMu.Unlock()
}

func (g *Graph) unregister(op Operator) {
	g.opsMu.Lock()
	delete(g.ops, op.Base())
	g.opsMu.Unlock()
}

// Operators returns the registered operators ordered by name.
func (g *Graph) Operators() []Operator {
	g.opsMu.RLock()
	out := make([]Operator, 0, len(g.ops))
	for _, op := range g.ops {
		out = append(out, op)
	}
	g.opsMu.RUnlock()
	slices.SortFunc(out, func(a, b Operator) int {
		return cmp.Or(cmp.Compare(a.Base().name, b.Base().name), cmp.Compare(a.Base().id, b.Base().id))
	})
	return out
}

// Contains reports whether op is registered with g.
func (g *Graph) Contains(op Operator) bool {
	g.opsMu.RLock()
	defer g.opsMu.RUnlock()
	_, ok := g.ops[op.Base()]
	return ok
}

// Connect binds input dst to src, which may be an output or another input
// whose binding dst then mirrors. Checks run in order: dst already bound,
// cycle, type compatibility. On success metadata flows into dst, dependent
// operators are set up again and dst is marked dirty. If the new metadata
// makes a downstream setup fail the connection is undone.
func (g *Graph) Connect(src, dst *Slot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.connect(src, dst); err != nil {
		opsf("connect %s -> %s: %v", src.FullName(), dst.FullName(), err)
		return err
	}
	diagf("connected %s -> %s", src.FullName(), dst.FullName())
	dst.NotifyDirty(Region{})
	return nil
}

func (g *Graph) connect(src, dst *Slot) error {
	if dst.dir != DirInput {
		return fmt.Errorf("%w: %s is not an input", ErrIncompatibleSlot, dst.FullName())
	}
	if dst.Bound() {
		return fmt.Errorf("%w: %s", ErrSlotAlreadyConnected, dst.FullName())
	}
	if src.multi != dst.multi {
		return fmt.Errorf("%w: cannot connect %s to %s: slot levels differ",
			ErrIncompatibleSlot, src.FullName(), dst.FullName())
	}
	if g.createsCycle(src, dst) {
		return fmt.Errorf("%w: %s -> %s", ErrCyclicConnection, src.FullName(), dst.FullName())
	}
	if err := dst.typ.Accepts(src.typ); err != nil {
		return fmt.Errorf("connect %s -> %s: %w", src.FullName(), dst.FullName(), err)
	}
	for _, s := range src.flatten() {
		if err := dst.typ.Admits(s.Meta()); err != nil {
			return fmt.Errorf("connect %s -> %s: %w", src.FullName(), dst.FullName(), err)
		}
	}

	link(src, dst)
	if dst.multi {
		g.resize(dst, src.Len())
		for i, e := range src.Elements() {
			if d := dst.Index(i); !d.Bound() {
				link(e, d)
			}
		}
	}
	if err := g.refresh(dst); err != nil {
		g.unlink(dst)
		_ = g.refresh(dst)
		return fmt.Errorf("connect %s -> %s: %w", src.FullName(), dst.FullName(), err)
	}
	return nil
}

func link(src, dst *Slot) {
	dst.mu.Lock()
	dst.upstream = src
	dst.mu.Unlock()
	src.mu.Lock()
	src.downstream = append(src.downstream, dst)
	src.mu.Unlock()
}

// unlink removes the upstream edge of dst and, for a multi-slot, of its
// elements fed by the same multi-slot.
func (g *Graph) unlink(dst *Slot) {
	up := dst.Upstream()
	if up == nil {
		return
	}
	if dst.multi {
		for _, e := range dst.Elements() {
			if eu := e.Upstream(); eu != nil && eu.parent == up {
				unlinkOne(e, eu)
			}
		}
	}
	unlinkOne(dst, up)
}

func unlinkOne(dst, up *Slot) {
	dst.mu.Lock()
	dst.upstream = nil
	dst.mu.Unlock()
	up.mu.Lock()
	up.downstream = slices.DeleteFunc(up.downstream, func(s *Slot) bool { return s == dst })
	up.mu.Unlock()
}

// createsCycle reports whether connecting src to dst would let a value
// depend on itself. The operator that ultimately produces src is found by
// following src's input-forwarding chain; the connection is cyclic when
// anything downstream of dst reaches that operator's inputs or a slot in
// the chain.
func (g *Graph) createsCycle(src, dst *Slot) bool {
	chain := make(map[*Slot]bool)
	var producer *OperatorBase
	for s := src; s != nil; s = s.Upstream() {
		if s.dir == DirOutput {
			producer = s.owner
			break
		}
		chain[s] = true
		if chain[s.Upstream()] {
			break
		}
	}

	seen := make(map[*Slot]bool)
	queue := []*Slot{dst}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if seen[s] {
			continue
		}
		seen[s] = true
		if chain[s] || (s.dir == DirInput && s.owner == producer) {
			return true
		}
		queue = append(queue, s.Downstream()...)
		queue = append(queue, s.Elements()...)
		if s.dir == DirInput {
			queue = append(queue, s.owner.outputs...)
			for _, c := range s.owner.Children() {
				queue = append(queue, c.Base().outputs...)
			}
		}
	}
	return false
}

// refresh pulls metadata into input s from its binding, refreshes inputs
// mirroring s and sets up the owner again.
func (g *Graph) refresh(s *Slot) error {
	var err error
	if s.multi {
		for _, e := range s.Elements() {
			if e2 := pull(e); e2 != nil && err == nil {
				err = e2
			}
			for _, d := range e.Downstream() {
				if e2 := g.refresh(d); e2 != nil && err == nil {
					err = e2
				}
			}
		}
	} else {
		err = pull(s)
	}
	for _, d := range s.Downstream() {
		if e2 := g.refresh(d); e2 != nil && err == nil {
			err = e2
		}
	}
	if e2 := g.setup(s.owner); e2 != nil && err == nil {
		err = e2
	}
	return err
}

func pull(s *Slot) error {
	up, c := s.binding()
	var m Meta
	switch {
	case c != nil:
		m = MetaOf(c)
	case up != nil:
		m = up.Meta()
	}
	if err := s.typ.Admits(m); err != nil {
		s.SetMeta(Meta{})
		return fmt.Errorf("%s: %w", s.FullName(), err)
	}
	s.SetMeta(m)
	return nil
}

// setup runs SetupOutputs on b when all required inputs are ready and
// pushes the resulting output metadata downstream. Outputs of an operator
// that is not ready, or whose setup failed, are cleared.
func (g *Graph) setup(b *OperatorBase) error {
	var err error
	if b.Ready() {
		err = b.self.SetupOutputs()
		if err != nil {
			err = fmt.Errorf("setup %s: %w", b.name, err)
			opsf("%v", err)
		}
	}
	if err != nil || !b.Ready() {
		for _, out := range b.outputs {
			out.clearMeta()
		}
	}
	b.setSetupErr(err)
	for _, out := range b.outputs {
		for _, s := range out.flatten() {
			for _, d := range s.Downstream() {
				if e2 := g.refresh(d); e2 != nil && err == nil {
					err = e2
				}
			}
		}
	}
	return err
}

// SetValue binds a constant to input dst, replacing any previous constant.
// Plain Go values are wrapped with Wrap. If the constant makes a setup
// fail the previous binding is restored.
func (g *Graph) SetValue(dst *Slot, v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if dst.dir != DirInput || dst.multi {
		return fmt.Errorf("%w: cannot set a value on %s", ErrIncompatibleSlot, dst.FullName())
	}
	if dst.Upstream() != nil {
		return fmt.Errorf("%w: %s", ErrSlotAlreadyConnected, dst.FullName())
	}
	val := Wrap(v)
	if tb, ok := val.(Table); ok && tb.Start != 0 {
		return fmt.Errorf("%w: set %s: constant table starts at frame %d, want 0", ErrInvalidValue, dst.FullName(), tb.Start)
	}
	if err := dst.typ.Admits(MetaOf(val)); err != nil {
		return fmt.Errorf("set %s: %w", dst.FullName(), err)
	}
	prev, _ := dst.Constant()
	dst.setConstant(val)
	if err := g.refresh(dst); err != nil {
		dst.setConstant(prev)
		_ = g.refresh(dst)
		opsf("set %s: %v", dst.FullName(), err)
		return fmt.Errorf("set %s: %w", dst.FullName(), err)
	}
	diagf("set %s = %s", dst.FullName(), MetaOf(val))
	dst.NotifyDirty(Region{})
	return nil
}

// Disconnect removes the binding of input dst, whether connection or
// constant. Dependent operators lose readiness until dst is bound again.
func (g *Graph) Disconnect(dst *Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnect(dst)
}

func (g *Graph) disconnect(dst *Slot) {
	if !dst.Bound() {
		return
	}
	g.unlink(dst)
	dst.setConstant(nil)
	_ = g.refresh(dst)
	dst.NotifyDirty(Region{})
}

// Remove detaches op and every operator it adopted: its inputs are
// disconnected and inputs fed by its outputs lose their binding.
func (g *Graph) Remove(op Operator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remove(op)
}

func (g *Graph) remove(op Operator) {
	b := op.Base()
	for _, c := range b.Children() {
		g.remove(c)
	}
	for _, in := range b.inputs {
		for _, s := range in.flatten() {
			for _, d := range s.Downstream() {
				unlinkOne(d, s)
				_ = g.refresh(d)
				d.NotifyDirty(Region{})
			}
			if up := s.Upstream(); up != nil {
				unlinkOne(s, up)
			}
			s.setConstant(nil)
		}
	}
	for _, out := range b.outputs {
		for _, s := range out.flatten() {
			for _, d := range s.Downstream() {
				unlinkOne(d, s)
				_ = g.refresh(d)
				d.NotifyDirty(Region{})
			}
		}
	}
	g.unregister(op)
	diagf("removed %s", b.name)
}

// Resize sets the number of elements of multi-slot s. New elements are
// unbound; removed elements are disconnected first. Inputs fed by a
// multi-slot output follow its size.
func (g *Graph) Resize(s *Slot, n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !s.multi {
		return fmt.Errorf("%w: %s is not a multi-slot", ErrIncompatibleSlot, s.FullName())
	}
	g.resize(s, n)
	return g.setup(s.owner)
}

func (g *Graph) resize(s *Slot, n int) {
	for s.Len() > n {
		g.removeAt(s, s.Len()-1)
	}
	for s.Len() < n {
		g.insertAt(s, s.Len())
	}
}

// InsertSlot inserts a new element at index i of multi-slot s and returns
// it. Elements at i and beyond shift up by one.
func (g *Graph) InsertSlot(s *Slot, i int) (*Slot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !s.multi {
		return nil, fmt.Errorf("%w: %s is not a multi-slot", ErrIncompatibleSlot, s.FullName())
	}
	if i < 0 || i > s.Len() {
		return nil, fmt.Errorf("%w: index %d for %s of length %d", ErrRegionOutOfBounds, i, s.FullName(), s.Len())
	}
	e := g.insertAt(s, i)
	return e, g.setup(s.owner)
}

func (g *Graph) insertAt(s *Slot, i int) *Slot {
	e := s.newElem()
	s.mu.Lock()
	s.elems = slices.Insert(s.elems, i, e)
	s.mu.Unlock()
	for _, d := range s.Downstream() {
		if d.multi {
			de := g.insertAt(d, i)
			link(e, de)
		}
	}
	return e
}

// RemoveSlot disconnects and removes element i of multi-slot s.
func (g *Graph) RemoveSlot(s *Slot, i int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !s.multi {
		return fmt.Errorf("%w: %s is not a multi-slot", ErrIncompatibleSlot, s.FullName())
	}
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("%w: index %d for %s of length %d", ErrRegionOutOfBounds, i, s.FullName(), s.Len())
	}
	g.removeAt(s, i)
	err := g.setup(s.owner)
	s.NotifyDirty(Region{})
	return err
}

func (g *Graph) removeAt(s *Slot, i int) {
	e := s.Index(i)
	for _, d := range s.Downstream() {
		if d.multi && d.Len() > i {
			g.removeAt(d, i)
		}
	}
	for _, d := range e.Downstream() {
		unlinkOne(d, e)
		_ = g.refresh(d)
	}
	if up := e.Upstream(); up != nil {
		unlinkOne(e, up)
	}
	e.setConstant(nil)
	s.mu.Lock()
	s.elems = slices.Delete(s.elems, i, i+1)
	s.mu.Unlock()
}
