// Package objectextraction turns binary segmentations into labelled
// objects and per-object feature tables.
package objectextraction

import (
	"context"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/imgproc"
)

// OpTrackingFeatureExtraction labels BinaryImage frame by frame and
// measures every object against RawImage.
//
// Features selects the standard features to compute (DefaultFeatures
// when unbound); the division features are always computed since the
// tracker depends on them. TranslationVectors corrects object centres
// when division features compare consecutive frames; without it no
// correction is applied.
type OpTrackingFeatureExtraction struct {
	graph.OperatorBase
	RawImage           *graph.Slot
	BinaryImage        *graph.Slot
	TranslationVectors *graph.Slot
	Features           *graph.Slot

	LabelImage           *graph.Slot
	RegionFeatures       *graph.Slot
	ComputedFeatureNames *graph.Slot

	labeller *OpLabelVolume
	cache    *graph.OpBlockCache
}

// NewOpTrackingFeatureExtraction creates the operator with its internal
// labeller and per-frame label cache.
func NewOpTrackingFeatureExtraction(g *graph.Graph, name string, opts ...graph.CacheOption) (*OpTrackingFeatureExtraction, error) {
	op := &OpTrackingFeatureExtraction{}
	op.Init(g, name, op)
	b := op.Base()
	op.RawImage = b.Input("RawImage", graph.ArrayType("txyzc", ""))
	op.BinaryImage = b.Input("BinaryImage", graph.ArrayType("txyzc", ""))
	op.TranslationVectors = b.Input("TranslationVectors", graph.ArrayType("tc", ""), graph.Optional())
	op.Features = b.Input("Features", graph.ConfigType(), graph.Optional())
	op.LabelImage = b.Output("LabelImage", graph.ArrayType("txyzc", graph.DTypeUint32))
	op.RegionFeatures = b.Output("RegionFeatures", graph.TableType(RegionFeaturesSchema))
	op.ComputedFeatureNames = b.Output("ComputedFeatureNames", graph.ConfigType())

	op.labeller = NewOpLabelVolume(g, name+".labels")
	op.Adopt(op.labeller)
	opts = append([]graph.CacheOption{graph.WithBlockShape(1)}, opts...)
	op.cache = graph.NewOpBlockCache(g, name+".cache", graph.ArrayType("txyzc", graph.DTypeUint32), opts...)
	op.Adopt(op.cache)
	if err := g.Connect(op.BinaryImage, op.labeller.Input); err != nil {
		g.Remove(op)
		return nil, err
	}
	if err := g.Connect(op.labeller.Output, op.cache.Input); err != nil {
		g.Remove(op)
		return nil, err
	}
	op.Seal()
	return op, nil
}

// Cache exposes the label cache.
func (op *OpTrackingFeatureExtraction) Cache() *graph.OpBlockCache { return op.cache }

func (op *OpTrackingFeatureExtraction) selection(ctx context.Context) (Selection, error) {
	if !op.Features.Supplied() {
		return DefaultFeatures(), nil
	}
	v, err := op.Features.Value(ctx)
	if err != nil {
		return nil, err
	}
	c, err := graph.AsConfig(v)
	if err != nil {
		return nil, err
	}
	sel, err := SelectionFromConfig(c)
	if err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if _, ok := sel[DivisionGroup]; ok {
		return nil, fmt.Errorf("%w: %s are always computed", ErrUnknownFeature, DivisionGroup)
	}
	return sel, nil
}

// SetupOutputs implements graph.Operator.
func (op *OpTrackingFeatureExtraction) SetupOutputs() error {
	raw, bin := op.RawImage.Meta(), op.BinaryImage.Meta()
	if !slices.Equal(raw.Shape[:4], bin.Shape[:4]) {
		return fmt.Errorf("%w: raw %v and binary %v differ in txyz", graph.ErrIncompatibleSlot, raw.Shape, bin.Shape)
	}
	if tv := op.TranslationVectors.Meta(); tv.Ready() && (tv.Shape[0] != raw.Shape[0] || tv.Shape[1] != 3) {
		return fmt.Errorf("%w: translation vectors %v for %d frames", graph.ErrIncompatibleSlot, tv.Shape, raw.Shape[0])
	}
	if _, err := op.selection(context.Background()); err != nil {
		return err
	}
	op.LabelImage.SetMeta(op.cache.Output.Meta())
	op.RegionFeatures.SetMeta(graph.TableMeta(RegionFeaturesSchema, raw.Shape[0]))
	op.ComputedFeatureNames.SetMeta(graph.ConfigMeta())
	return nil
}

// Execute implements graph.Operator.
func (op *OpTrackingFeatureExtraction) Execute(ctx context.Context, out *graph.Slot, r graph.Region) (graph.Value, error) {
	switch out {
	case op.LabelImage:
		return op.cache.Output.Request(ctx, r)
	case op.ComputedFeatureNames:
		sel, err := op.selection(ctx)
		if err != nil {
			return nil, err
		}
		return sel.Merge(DivisionDetectionFeatures()).Config(), nil
	}
	return op.regionFeatures(ctx, r)
}

func (op *OpTrackingFeatureExtraction) regionFeatures(ctx context.Context, r graph.Region) (graph.Value, error) {
	sel, err := op.selection(ctx)
	if err != nil {
		return nil, err
	}
	frames := op.RawImage.Meta().Shape[0]
	t0, t1 := r.Axis(0)
	last := min(t1+1, frames)

	objs := make([][]imgproc.Object, last-t0)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(max(op.Graph().Workers(), 1))
	for t := t0; t < last; t++ {
		eg.Go(func() error {
			o, err := op.measure(ectx, t)
			objs[t-t0] = o
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	shift, err := op.translations(ctx)
	if err != nil {
		return nil, err
	}

	tb := graph.Table{Schema: RegionFeaturesSchema, Start: t0}
	for t := t0; t < t1; t++ {
		row := FrameFeatures{
			Frame:      t,
			NumObjects: len(objs[t-t0]),
			Features:   map[string]map[string][][]float64{},
		}
		row.Features[StandardGroup] = standardFeatures(objs[t-t0], sel[StandardGroup])
		var next []imgproc.Object
		var d [3]float64
		if t+1 < frames {
			next = objs[t+1-t0]
			for a := range d {
				d[a] = shift[t+1][a] - shift[t][a]
			}
		}
		row.Features[DivisionGroup] = divisionFeatures(objs[t-t0], next, d)
		tb.Rows = append(tb.Rows, row)
	}
	return tb, nil
}

// measure labels frame t through the cache and measures its objects.
func (op *OpTrackingFeatureExtraction) measure(ctx context.Context, t int) ([]imgproc.Object, error) {
	lv, err := frame(ctx, op.cache.Output, t)
	if err != nil {
		return nil, err
	}
	raw, err := frame(ctx, op.RawImage, t)
	if err != nil {
		return nil, err
	}
	labels := make([]uint32, lv.Len())
	n := 0
	for i, x := range lv.Data {
		labels[i] = uint32(x)
		n = max(n, int(x))
	}
	return imgproc.Measure(labels, n, raw), nil
}

// translations returns one vector per frame, zero when unbound.
func (op *OpTrackingFeatureExtraction) translations(ctx context.Context) ([][3]float64, error) {
	out := make([][3]float64, op.RawImage.Meta().Shape[0])
	if !op.TranslationVectors.Supplied() {
		return out, nil
	}
	v, err := op.TranslationVectors.Value(ctx)
	if err != nil {
		return nil, err
	}
	a, err := graph.AsArray(v)
	if err != nil {
		return nil, err
	}
	for t := range out {
		for i := range 3 {
			out[t][i] = a.At(t, i)
		}
	}
	return out, nil
}

func standardFeatures(objs []imgproc.Object, names []string) map[string][][]float64 {
	out := make(map[string][][]float64, len(names))
	for _, n := range names {
		vals := make([][]float64, len(objs))
		for k, o := range objs {
			switch n {
			case FeatureCount:
				vals[k] = []float64{float64(o.Count)}
			case FeatureSum:
				vals[k] = []float64{o.Sum}
			case FeatureMean:
				vals[k] = []float64{o.Mean}
			case FeatureVariance:
				vals[k] = []float64{o.Variance}
			case FeatureRegionCenter:
				vals[k] = o.Center[:]
			case FeatureCoordMin:
				vals[k] = ints(o.Min)
			case FeatureCoordMax:
				vals[k] = ints(o.Max)
			}
		}
		out[n] = vals
	}
	return out
}

func ints(v [3]int) []float64 {
	return []float64{float64(v[0]), float64(v[1]), float64(v[2])}
}

// divisionFeatures compares every object with its two nearest objects in
// the next frame after removing the drift d between the frames. Objects
// with fewer than two candidates get zeros.
func divisionFeatures(objs, next []imgproc.Object, d [3]float64) map[string][][]float64 {
	out := map[string][][]float64{
		FeatureParentChildrenRatioCount: make([][]float64, len(objs)),
		FeatureParentChildrenRatioMean:  make([][]float64, len(objs)),
		FeatureChildrenRatioCount:       make([][]float64, len(objs)),
		FeatureParentChildrenAngle:      make([][]float64, len(objs)),
	}
	centers := make([][]float64, len(next))
	for i, c := range next {
		centers[i] = []float64{c.Center[0] - d[0], c.Center[1] - d[1], c.Center[2] - d[2]}
	}
	for k, p := range objs {
		for _, f := range out {
			f[k] = []float64{0}
		}
		if len(next) < 2 {
			continue
		}
		pc := p.Center[:]
		order := make([]int, len(next))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			da, db := floats.Distance(pc, centers[a], 2), floats.Distance(pc, centers[b], 2)
			switch {
			case da < db:
				return -1
			case da > db:
				return 1
			}
			return 0
		})
		c1, c2 := next[order[0]], next[order[1]]
		counts := float64(c1.Count + c2.Count)
		out[FeatureParentChildrenRatioCount][k][0] = ratio(float64(p.Count), counts)
		out[FeatureParentChildrenRatioMean][k][0] = ratio(p.Mean, (c1.Mean+c2.Mean)/2)
		out[FeatureChildrenRatioCount][k][0] = ratio(float64(min(c1.Count, c2.Count)), float64(max(c1.Count, c2.Count)))
		out[FeatureParentChildrenAngle][k][0] = angle(pc, centers[order[0]], centers[order[1]])
	}
	return out
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// angle returns the angle in degrees at p between the directions to a
// and b.
func angle(p, a, b []float64) float64 {
	u := make([]float64, 3)
	v := make([]float64, 3)
	floats.SubTo(u, a, p)
	floats.SubTo(v, b, p)
	nu, nv := floats.Norm(u, 2), floats.Norm(v, 2)
	if nu == 0 || nv == 0 {
		return 0
	}
	cos := math.Max(-1, math.Min(1, floats.Dot(u, v)/(nu*nv)))
	return math.Acos(cos) * 180 / math.Pi
}

// PropagateDirty implements graph.Operator. A changed frame also changes
// the division features of the frame before it.
func (op *OpTrackingFeatureExtraction) PropagateDirty(in *graph.Slot, r graph.Region) {
	if in == op.Features {
		op.RegionFeatures.SetDirty(graph.Region{})
		op.ComputedFeatureNames.SetDirty(graph.Region{})
		return
	}
	if in == op.BinaryImage {
		op.LabelImage.SetDirty(op.frames(op.LabelImage, r))
	}
	fr := graph.Region{}
	if !r.IsZero() && in != op.TranslationVectors && op.RegionFeatures.Meta().Ready() {
		fr = graph.NewRegion([]int{max(r.Start[0]-1, 0)}, []int{r.Stop[0]})
	}
	op.RegionFeatures.SetDirty(fr)
}

func (op *OpTrackingFeatureExtraction) frames(s *graph.Slot, r graph.Region) graph.Region {
	m := s.Meta()
	if r.IsZero() || !m.Ready() {
		return graph.Region{}
	}
	return m.FullRegion().WithAxis(0, r.Start[0], r.Stop[0])
}
