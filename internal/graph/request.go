package graph

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Request computes the part r of the value of s. The zero Region asks for
// the whole value; scalar and config slots ignore r. Inputs answer from
// their constant or forward the request upstream; outputs call the owning
// operator's Execute. Nothing is computed before a request arrives.
//
// Request never takes the graph's topology lock, so it may run
// concurrently from many goroutines.
func (s *Slot) Request(ctx context.Context, r Region) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.multi {
		return nil, fmt.Errorf("%w: %s is a multi-slot; request an element", ErrInvalidValue, s.FullName())
	}
	m := s.Meta()
	if !m.Ready() {
		return nil, s.notReady()
	}
	rr, err := m.resolve(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.FullName(), err)
	}

	if s.dir == DirInput {
		up, c := s.binding()
		switch {
		case c != nil:
			return restrict(c, rr), nil
		case up != nil:
			return up.Request(ctx, rr)
		}
		return nil, s.notReady()
	}

	tracef("request %s %s", s.FullName(), rr)
	v, err := s.owner.self.Execute(ctx, s, rr)
	if err != nil {
		return nil, err
	}
	if err := m.check(v, rr); err != nil {
		return nil, fmt.Errorf("%s: %w", s.FullName(), err)
	}
	return v, nil
}

// Value requests the whole value of s.
func (s *Slot) Value(ctx context.Context) (Value, error) {
	return s.Request(ctx, Region{})
}

// resolve turns r into an explicit in-bounds region for m.
func (m Meta) resolve(r Region) (Region, error) {
	switch m.Kind {
	case KindArray, KindTable:
	default:
		return Region{}, nil
	}
	if r.IsZero() {
		return Full(m.Shape), nil
	}
	if !r.Within(m.Shape) {
		return Region{}, fmt.Errorf("%w: %s outside shape %v", ErrRegionOutOfBounds, r, m.Shape)
	}
	return r.Clone(), nil
}

// RequestParallel issues one request per region with at most workers in
// flight and returns the results in order. The first error cancels the
// remaining requests.
func RequestParallel(ctx context.Context, s *Slot, regions []Region, workers int) ([]Value, error) {
	out := make([]Value, len(regions))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, r := range regions {
		g.Go(func() error {
			v, err := s.Request(ctx, r)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
