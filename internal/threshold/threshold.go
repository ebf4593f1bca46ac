// Package threshold segments probability maps into binary foreground
// masks with two-level (hysteresis) thresholding.
package threshold

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cellflow/internal/adaptors"
	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/imgproc"
)

// Defaults used when the corresponding parameter slot is unbound.
const (
	DefaultChannel       = 0
	DefaultSmootherSigma = 1.0
	DefaultHighThreshold = 0.5
	DefaultLowThreshold  = 0.2
	DefaultMinSize       = 10
	DefaultMaxSize       = 1000000
)

// Params are the thresholding parameters resolved for one request.
type Params struct {
	Channel       int
	SmootherSigma float64
	HighThreshold float64
	LowThreshold  float64
	MinSize       int
	MaxSize       int
}

// OpThresholdTwoLevels smooths one channel of InputImage, keeps the
// connected regions above LowThreshold that contain a voxel above
// HighThreshold, and drops regions outside [MinSize, MaxSize].
//
// Output has InputImage's axes with a single channel and is recomputed on
// every request; CachedOutput serves the same data through a per-frame
// block cache. RawInput is carried for display only.
type OpThresholdTwoLevels struct {
	graph.OperatorBase
	InputImage    *graph.Slot
	RawInput      *graph.Slot
	Channel       *graph.Slot
	SmootherSigma *graph.Slot
	HighThreshold *graph.Slot
	LowThreshold  *graph.Slot
	MinSize       *graph.Slot
	MaxSize       *graph.Slot

	Output       *graph.Slot
	CachedOutput *graph.Slot

	cache *graph.OpBlockCache
}

// NewOpThresholdTwoLevels creates the operator and its internal cache.
func NewOpThresholdTwoLevels(g *graph.Graph, name string, opts ...graph.CacheOption) (*OpThresholdTwoLevels, error) {
	op := &OpThresholdTwoLevels{}
	op.Init(g, name, op)
	b := op.Base()
	op.InputImage = b.Input("InputImage", graph.ArrayType("", ""))
	op.RawInput = b.Input("RawInput", graph.ArrayType("", ""), graph.Optional())
	op.Channel = b.Input("Channel", graph.ScalarType(), graph.Optional())
	op.SmootherSigma = b.Input("SmootherSigma", graph.ScalarType(), graph.Optional())
	op.HighThreshold = b.Input("HighThreshold", graph.ScalarType(), graph.Optional())
	op.LowThreshold = b.Input("LowThreshold", graph.ScalarType(), graph.Optional())
	op.MinSize = b.Input("MinSize", graph.ScalarType(), graph.Optional())
	op.MaxSize = b.Input("MaxSize", graph.ScalarType(), graph.Optional())
	op.Output = b.Output("Output", graph.ArrayType("", graph.DTypeUint8))
	op.CachedOutput = b.Output("CachedOutput", graph.ArrayType("", graph.DTypeUint8))

	opts = append([]graph.CacheOption{graph.WithAxisBlocks(map[byte]int{'t': 1})}, opts...)
	op.cache = graph.NewOpBlockCache(g, name+".cache", graph.ArrayType("", graph.DTypeUint8), opts...)
	op.Adopt(op.cache)
	if err := g.Connect(op.Output, op.cache.Input); err != nil {
		g.Remove(op)
		return nil, err
	}
	op.Seal()
	return op, nil
}

// Cache exposes the internal cache, mainly for its statistics.
func (op *OpThresholdTwoLevels) Cache() *graph.OpBlockCache { return op.cache }

// Params resolves the parameter slots, falling back to the defaults.
func (op *OpThresholdTwoLevels) Params(ctx context.Context) (Params, error) {
	p := Params{
		Channel:       DefaultChannel,
		SmootherSigma: DefaultSmootherSigma,
		HighThreshold: DefaultHighThreshold,
		LowThreshold:  DefaultLowThreshold,
		MinSize:       DefaultMinSize,
		MaxSize:       DefaultMaxSize,
	}
	for _, f := range []struct {
		slot *graph.Slot
		n    *int
		x    *float64
	}{
		{slot: op.Channel, n: &p.Channel},
		{slot: op.SmootherSigma, x: &p.SmootherSigma},
		{slot: op.HighThreshold, x: &p.HighThreshold},
		{slot: op.LowThreshold, x: &p.LowThreshold},
		{slot: op.MinSize, n: &p.MinSize},
		{slot: op.MaxSize, n: &p.MaxSize},
	} {
		if !f.slot.Supplied() {
			continue
		}
		v, err := f.slot.Value(ctx)
		if err != nil {
			return p, err
		}
		if f.n != nil {
			*f.n, err = graph.ScalarAs[int](v)
		} else {
			*f.x, err = graph.ScalarAs[float64](v)
		}
		if err != nil {
			return p, fmt.Errorf("%s: %w", f.slot.FullName(), err)
		}
	}
	return p, nil
}

func (p Params) validate(channels int) error {
	switch {
	case p.Channel < 0 || p.Channel >= channels:
		return fmt.Errorf("%w: channel %d of %d", graph.ErrIncompatibleSlot, p.Channel, channels)
	case p.LowThreshold > p.HighThreshold:
		return fmt.Errorf("low threshold %v above high threshold %v", p.LowThreshold, p.HighThreshold)
	case p.MinSize < 0 || p.MaxSize < p.MinSize:
		return fmt.Errorf("size range [%d, %d] is empty", p.MinSize, p.MaxSize)
	case p.SmootherSigma < 0:
		return fmt.Errorf("negative smoother sigma %v", p.SmootherSigma)
	}
	return nil
}

// SetupOutputs implements graph.Operator.
func (op *OpThresholdTwoLevels) SetupOutputs() error {
	in := op.InputImage.Meta()
	p, err := op.Params(context.Background())
	if err != nil {
		return err
	}
	if err := p.validate(in.AxisLen('c')); err != nil {
		return err
	}
	axes, shape := in.Axes, append([]int(nil), in.Shape...)
	if i := axes.Index('c'); i >= 0 {
		shape[i] = 1
	} else {
		axes += "c"
		shape = append(shape, 1)
	}
	m := graph.ArrayMeta(axes, graph.DTypeUint8, shape...)
	op.Output.SetMeta(m)
	op.CachedOutput.SetMeta(m)
	return nil
}

// Execute implements graph.Operator.
func (op *OpThresholdTwoLevels) Execute(ctx context.Context, out *graph.Slot, r graph.Region) (graph.Value, error) {
	if out == op.CachedOutput {
		return op.cache.Output.Request(ctx, r)
	}
	p, err := op.Params(ctx)
	if err != nil {
		return nil, err
	}
	m := op.Output.Meta()
	ti := m.Axes.Index('t')
	t0, t1 := 0, 1
	if ti >= 0 {
		t0, t1 = r.Axis(ti)
	}

	full := m.FullRegion()
	if ti >= 0 {
		full = full.WithAxis(ti, t0, t1)
	}
	result := graph.NewArray(m.Axes, m.DType, full.Shape()...)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(op.Graph().Workers(), 1))
	for t := t0; t < t1; t++ {
		eg.Go(func() error {
			frame, err := op.frame(ctx, t, p)
			if err != nil {
				return err
			}
			dst := graph.Full(frame.Shape)
			if ti >= 0 {
				dst = dst.WithAxis(ti, t-t0, t-t0+1)
			}
			result.Paste(dst, frame)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result.Sub(r.Relative(full)), nil
}

// frame thresholds time frame t and returns it in the output axes with a
// time axis of length 1.
func (op *OpThresholdTwoLevels) frame(ctx context.Context, t int, p Params) (*graph.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := op.InputImage.Meta()
	req := in.FullRegion()
	if i := in.Axes.Index('t'); i >= 0 {
		req = req.WithAxis(i, t, t+1)
	}
	if i := in.Axes.Index('c'); i >= 0 {
		req = req.WithAxis(i, p.Channel, p.Channel+1)
	}
	v, err := op.InputImage.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	a, err := graph.AsArray(v)
	if err != nil {
		return nil, err
	}
	a5, err := a.Reorder(adaptors.Canonical)
	if err != nil {
		return nil, err
	}
	vol, err := imgproc.Frame(a5, 0, 0)
	if err != nil {
		return nil, err
	}

	smooth := imgproc.Smooth(vol, p.SmootherSigma)
	low := make([]bool, smooth.Len())
	high := make([]bool, smooth.Len())
	for i, s := range smooth.Data {
		low[i] = s >= p.LowThreshold
		high[i] = s >= p.HighThreshold
	}
	kept := imgproc.Hysteresis(low, high, vol.NX, vol.NY, vol.NZ, p.MinSize, p.MaxSize)
	for i, k := range kept {
		vol.Data[i] = 0
		if k {
			vol.Data[i] = 1
		}
	}
	imgproc.SetFrame(a5, 0, 0, vol)
	a5.DType = graph.DTypeUint8
	return a5.Reorder(op.Output.Meta().Axes)
}

// PropagateDirty maps a dirty input region onto the time frames it
// touches. Parameter changes dirty everything; RawInput changes nothing.
func (op *OpThresholdTwoLevels) PropagateDirty(in *graph.Slot, r graph.Region) {
	if in == op.RawInput {
		return
	}
	out := graph.Region{}
	m := op.Output.Meta()
	if in == op.InputImage && !r.IsZero() && m.Ready() {
		ii, oi := op.InputImage.Meta().Axes.Index('t'), m.Axes.Index('t')
		if ii >= 0 && oi >= 0 && ii < r.Rank() {
			out = m.FullRegion().WithAxis(oi, r.Start[ii], r.Stop[ii])
		}
	}
	op.Output.SetDirty(out)
	op.CachedOutput.SetDirty(out)
}
