package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"tailscale.com/util/lru"
)

const (
	defaultMaxBlocks = 256
	dirtyLogSize     = 64
)

// CacheStats counts cache activity since the last setup.
type CacheStats struct {
	Hits     int
	Misses   int
	Computes int
	Blocks   int
}

type cacheBlock struct {
	region Region
	value  Value
	gen    uint64
}

type dirtyMark struct {
	gen    uint64
	region Region
}

// OpBlockCache is a transparent caching decorator. Output mirrors Input's
// metadata and values; array requests are split into grid-aligned blocks
// that are computed at most once until a dirty notice covers them.
// Concurrent requests for the same block share one upstream computation.
type OpBlockCache struct {
	OperatorBase
	Input  *Slot
	Output *Slot

	blockShape []int
	blockAxes  map[byte]int
	maxBlocks  int

	mu     sync.Mutex
	blocks *lru.Cache[string, *cacheBlock]
	index  map[string]Region
	gen    uint64
	marks  []dirtyMark
	stats  CacheStats
	flight singleflight.Group
}

// CacheOption configures an OpBlockCache.
type CacheOption func(*OpBlockCache)

// WithBlockShape sets the block grid. A zero entry, or a missing trailing
// entry, spans the whole axis.
func WithBlockShape(shape ...int) CacheOption {
	return func(c *OpBlockCache) { c.blockShape = shape }
}

// WithAxisBlocks sets the block grid by axis tag, for caches whose axis
// order is only known once metadata arrives. Axes not named span the
// whole axis. It overrides WithBlockShape.
func WithAxisBlocks(blocks map[byte]int) CacheOption {
	return func(c *OpBlockCache) { c.blockAxes = blocks }
}

// WithMaxBlocks bounds the number of cached blocks; the least recently
// used block is evicted first.
func WithMaxBlocks(n int) CacheOption {
	return func(c *OpBlockCache) {
		if n > 0 {
			c.maxBlocks = n
		}
	}
}

// NewOpBlockCache creates a cache whose slots are declared with type t.
func NewOpBlockCache(g *Graph, name string, t Type, opts ...CacheOption) *OpBlockCache {
	c := &OpBlockCache{maxBlocks: defaultMaxBlocks}
	for _, opt := range opts {
		opt(c)
	}
	c.Init(g, name, c)
	c.Input = c.Base().Input("Input", t)
	c.Output = c.Base().Output("Output", t)
	c.reset()
	c.Seal()
	return c
}

func (c *OpBlockCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = &lru.Cache[string, *cacheBlock]{MaxEntries: c.maxBlocks}
	c.index = make(map[string]Region)
	c.gen++
	c.marks = nil
	c.stats = CacheStats{}
}

// SetupOutputs implements Operator.
func (c *OpBlockCache) SetupOutputs() error {
	c.Output.SetMeta(c.Input.Meta())
	c.reset()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *OpBlockCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Blocks = c.blocks.Len()
	return s
}

// Execute implements Operator.
func (c *OpBlockCache) Execute(ctx context.Context, _ *Slot, r Region) (Value, error) {
	m := c.Output.Meta()
	if m.Kind != KindArray {
		return c.fetch(ctx, r)
	}

	out := NewArray(m.Axes, m.DType, r.Shape()...)
	blocks := Blocks(r, m.Shape, c.gridFor(m))
	eg, ctx := errgroup.WithContext(ctx)
	if w := c.g.Workers(); w > 0 {
		eg.SetLimit(w)
	}
	var pasteMu sync.Mutex
	for _, b := range blocks {
		eg.Go(func() error {
			v, err := c.fetch(ctx, b)
			if err != nil {
				return err
			}
			src, err := AsArray(v)
			if err != nil {
				return err
			}
			overlap, ok := b.Intersect(r)
			if !ok {
				return nil
			}
			part := src.Sub(overlap.Relative(b))
			pasteMu.Lock()
			out.Paste(overlap.Relative(r), part)
			pasteMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpBlockCache) gridFor(m Meta) []int {
	if c.blockAxes == nil {
		return c.blockShape
	}
	grid := make([]int, len(m.Axes))
	for i := range grid {
		grid[i] = c.blockAxes[m.Axes[i]]
	}
	return grid
}

// fetch returns the cached value of block b or computes it upstream.
func (c *OpBlockCache) fetch(ctx context.Context, b Region) (Value, error) {
	key := b.String()
	c.mu.Lock()
	gen := c.gen
	if blk, ok := c.blocks.GetOk(key); ok {
		if err := c.verify(blk); err != nil {
			c.blocks.Delete(key)
			delete(c.index, key)
			c.mu.Unlock()
			opsf("%s: %v", c.name, err)
			return nil, err
		}
		c.stats.Hits++
		c.mu.Unlock()
		return blk.value, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	v, err, _ := c.flight.Do(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		c.mu.Lock()
		c.stats.Computes++
		c.mu.Unlock()
		v, err := c.Input.Request(ctx, b)
		if err != nil {
			return nil, err
		}
		c.store(key, b, v, gen)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Value), nil
}

// store keeps v unless the cache was invalidated while it was computed.
func (c *OpBlockCache) store(key string, b Region, v Value, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		diagf("%s: dropping %s computed before invalidation", c.name, key)
		return
	}
	c.blocks.Set(key, &cacheBlock{region: b, value: v, gen: gen})
	c.index[key] = b
	if len(c.index) > 2*c.maxBlocks {
		for k := range c.index {
			if _, ok := c.blocks.PeekOk(k); !ok {
				delete(c.index, k)
			}
		}
	}
}

// verify checks a hit against dirty notices received after it was stored.
// c.mu must be held.
func (c *OpBlockCache) verify(blk *cacheBlock) error {
	for _, m := range c.marks {
		if m.gen > blk.gen && (m.region.IsZero() || m.region.Overlaps(blk.region)) {
			return fmt.Errorf("%w: block %s predates dirty region %s", ErrStaleCache, blk.region, m.region)
		}
	}
	return nil
}

// PropagateDirty drops every cached block overlapping r and forwards the
// notice.
func (c *OpBlockCache) PropagateDirty(_ *Slot, r Region) {
	c.mu.Lock()
	c.gen++
	c.marks = append(c.marks, dirtyMark{gen: c.gen, region: r.Clone()})
	if len(c.marks) > dirtyLogSize {
		c.marks = c.marks[len(c.marks)-dirtyLogSize:]
	}
	dropped := 0
	for key, br := range c.index {
		if r.IsZero() || br.Overlaps(r) {
			c.blocks.Delete(key)
			delete(c.index, key)
			dropped++
		}
	}
	c.mu.Unlock()
	tracef("%s: dirty %s dropped %d blocks", c.name, r, dropped)
	c.Output.SetDirty(r)
}
