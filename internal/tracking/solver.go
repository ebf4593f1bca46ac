package tracking

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectclassification"
	"github.com/banshee-data/cellflow/internal/objectextraction"
)

// Defaults used when the corresponding parameter slot is unbound.
const (
	DefaultMaxDistance        = 30.0
	DefaultDivisionThreshold  = 0.5
	DefaultDetectionThreshold = 0.5
)

// Params are the tracking parameters resolved for one solve.
type Params struct {
	MaxDistance        float64
	DivisionThreshold  float64
	DetectionThreshold float64
}

func (p Params) validate() error {
	switch {
	case p.MaxDistance <= 0:
		return fmt.Errorf("%w: max distance %v", graph.ErrInvalidValue, p.MaxDistance)
	case p.DivisionThreshold < 0 || p.DivisionThreshold > 1:
		return fmt.Errorf("%w: division threshold %v outside [0, 1]", graph.ErrInvalidValue, p.DivisionThreshold)
	case p.DetectionThreshold < 0 || p.DetectionThreshold > 1:
		return fmt.Errorf("%w: detection threshold %v outside [0, 1]", graph.ErrInvalidValue, p.DetectionThreshold)
	}
	return nil
}

// opSolver computes the events table of a whole movie. It lives inside
// OpConservationTracking; its inputs mirror the tracker's.
type opSolver struct {
	graph.OperatorBase
	ObjectFeatures         *graph.Slot
	DivisionProbabilities  *graph.Slot
	DetectionProbabilities *graph.Slot
	TranslationVectors     *graph.Slot
	MaxDistance            *graph.Slot
	DivisionThreshold      *graph.Slot
	DetectionThreshold     *graph.Slot
	Events                 *graph.Slot
}

func newOpSolver(g *graph.Graph, name string) *opSolver {
	op := &opSolver{}
	op.Init(g, name, op)
	b := op.Base()
	op.ObjectFeatures = b.Input("ObjectFeatures", graph.TableType(objectextraction.RegionFeaturesSchema))
	op.DivisionProbabilities = b.Input("DivisionProbabilities", graph.TableType(objectclassification.ProbabilitiesSchema))
	op.DetectionProbabilities = b.Input("DetectionProbabilities", graph.TableType(objectclassification.ProbabilitiesSchema))
	op.TranslationVectors = b.Input("TranslationVectors", graph.ArrayType("tc", ""), graph.Optional())
	op.MaxDistance = b.Input("MaxDistance", graph.ScalarType(), graph.Optional())
	op.DivisionThreshold = b.Input("DivisionThreshold", graph.ScalarType(), graph.Optional())
	op.DetectionThreshold = b.Input("DetectionThreshold", graph.ScalarType(), graph.Optional())
	op.Events = b.Output("Events", graph.TableType(EventsSchema))
	op.Seal()
	return op
}

func (op *opSolver) params(ctx context.Context) (Params, error) {
	p := Params{
		MaxDistance:        DefaultMaxDistance,
		DivisionThreshold:  DefaultDivisionThreshold,
		DetectionThreshold: DefaultDetectionThreshold,
	}
	for _, f := range []struct {
		slot *graph.Slot
		x    *float64
	}{
		{op.MaxDistance, &p.MaxDistance},
		{op.DivisionThreshold, &p.DivisionThreshold},
		{op.DetectionThreshold, &p.DetectionThreshold},
	} {
		if !f.slot.Supplied() {
			continue
		}
		v, err := f.slot.Value(ctx)
		if err != nil {
			return p, err
		}
		if *f.x, err = graph.ScalarAs[float64](v); err != nil {
			return p, fmt.Errorf("%s: %w", f.slot.FullName(), err)
		}
	}
	return p, p.validate()
}

func (op *opSolver) SetupOutputs() error {
	frames := op.ObjectFeatures.Meta().Shape[0]
	for _, s := range []*graph.Slot{op.DivisionProbabilities, op.DetectionProbabilities} {
		if n := s.Meta().Shape[0]; n != frames {
			return fmt.Errorf("%w: %s has %d frames, features have %d", graph.ErrIncompatibleSlot, s.FullName(), n, frames)
		}
	}
	if tv := op.TranslationVectors.Meta(); tv.Ready() && tv.Shape[0] != frames {
		return fmt.Errorf("%w: %d translation vectors for %d frames", graph.ErrIncompatibleSlot, tv.Shape[0], frames)
	}
	if _, err := op.params(context.Background()); err != nil {
		return err
	}
	op.Events.SetMeta(graph.TableMeta(EventsSchema, frames))
	return nil
}

// detection is one kept object of a frame.
type detection struct {
	label    int
	center   []float64
	division float64
}

func (op *opSolver) Execute(ctx context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	p, err := op.params(ctx)
	if err != nil {
		return nil, err
	}
	in, err := op.load(ctx)
	if err != nil {
		return nil, err
	}

	nextTrack := 1
	newTrack := func() int {
		nextTrack++
		return nextTrack - 1
	}
	rows := make([]any, 0, len(in.features))
	var prev []detection
	var prevTracks map[int]int
	for t := range in.features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		curr, err := in.detections(t, p)
		if err != nil {
			return nil, err
		}
		row := FrameEvents{Frame: t, Tracks: make(map[int]int, len(curr))}
		var drift []float64
		if t > 0 {
			drift = make([]float64, 3)
			floats.SubTo(drift, in.shift[t][:], in.shift[t-1][:])
		}
		row.Events = link(prev, curr, drift, p, func(label int) int { return prevTracks[label] }, newTrack, row.Tracks)
		rows = append(rows, row)
		prev, prevTracks = curr, row.Tracks
	}
	diagf("%s: %d frames, %d tracks", op.Name(), len(rows), nextTrack-1)
	return graph.Table{Schema: EventsSchema, Rows: rows}.Slice(r), nil
}

// link matches the detections of two consecutive frames, filling tracks
// with the track id of every detection in curr.
func link(prev, curr []detection, drift []float64, p Params, trackOf func(int) int, newTrack func() int, tracks map[int]int) []Event {
	var events []Event
	assign := HungarianAssign(costs(prev, curr, drift, p.MaxDistance))
	taken := make([]bool, len(curr))
	for _, j := range assign {
		if j >= 0 {
			taken[j] = true
		}
	}

	// Parents most likely to divide claim a second child first.
	order := make([]int, len(prev))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch da, db := prev[a].division, prev[b].division; {
		case da > db:
			return -1
		case da < db:
			return 1
		}
		return 0
	})
	second := make(map[int]int)
	for _, i := range order {
		if assign == nil || assign[i] < 0 || prev[i].division <= p.DivisionThreshold {
			continue
		}
		best, bestD := -1, p.MaxDistance
		for j, c := range curr {
			if taken[j] {
				continue
			}
			if d := distance(prev[i].center, c.center, drift); d <= bestD {
				best, bestD = j, d
			}
		}
		if best >= 0 {
			taken[best] = true
			second[i] = best
		}
	}

	for i, d := range prev {
		track := trackOf(d.label)
		j := -1
		if assign != nil {
			j = assign[i]
		}
		switch k, divides := second[i]; {
		case j < 0:
			events = append(events, Event{Kind: EventDisappearance, From: d.label, Track: track})
		case divides:
			a, b := newTrack(), newTrack()
			tracks[curr[j].label], tracks[curr[k].label] = a, b
			events = append(events, Event{
				Kind: EventDivision, From: d.label, Track: track,
				To: []int{curr[j].label, curr[k].label}, Children: []int{a, b},
			})
		default:
			tracks[curr[j].label] = track
			events = append(events, Event{Kind: EventMove, From: d.label, To: []int{curr[j].label}, Track: track})
		}
	}
	for j, c := range curr {
		if taken[j] {
			continue
		}
		id := newTrack()
		tracks[c.label] = id
		events = append(events, Event{Kind: EventAppearance, To: []int{c.label}, Track: id})
	}
	return events
}

func costs(prev, curr []detection, drift []float64, maxDistance float64) [][]float64 {
	if len(prev) == 0 {
		return nil
	}
	c := make([][]float64, len(prev))
	for i, a := range prev {
		c[i] = make([]float64, len(curr))
		for j, b := range curr {
			d := distance(a.center, b.center, drift)
			if d > maxDistance {
				d = forbiddenCost
			}
			c[i][j] = d
		}
	}
	return c
}

// distance compares a centre of the previous frame, moved by drift, with
// a centre of the current frame.
func distance(a, b, drift []float64) float64 {
	if drift == nil {
		return floats.Distance(a, b, 2)
	}
	moved := make([]float64, len(a))
	floats.AddTo(moved, a, drift)
	return floats.Distance(moved, b, 2)
}

type solverInput struct {
	features  []objectextraction.FrameFeatures
	division  []objectclassification.FrameProbabilities
	detection []objectclassification.FrameProbabilities
	shift     [][3]float64
}

func (op *opSolver) load(ctx context.Context) (solverInput, error) {
	var in solverInput
	var err error
	if in.features, err = tableRows[objectextraction.FrameFeatures](ctx, op.ObjectFeatures); err != nil {
		return in, err
	}
	if in.division, err = tableRows[objectclassification.FrameProbabilities](ctx, op.DivisionProbabilities); err != nil {
		return in, err
	}
	if in.detection, err = tableRows[objectclassification.FrameProbabilities](ctx, op.DetectionProbabilities); err != nil {
		return in, err
	}
	in.shift = make([][3]float64, len(in.features))
	if op.TranslationVectors.Supplied() {
		v, err := op.TranslationVectors.Value(ctx)
		if err != nil {
			return in, err
		}
		a, err := graph.AsArray(v)
		if err != nil {
			return in, err
		}
		for t := range in.shift {
			for i := range 3 {
				in.shift[t][i] = a.At(t, i)
			}
		}
	}
	return in, nil
}

func tableRows[T any](ctx context.Context, s *graph.Slot) ([]T, error) {
	v, err := s.Value(ctx)
	if err != nil {
		return nil, err
	}
	tb, err := graph.AsTable(v)
	if err != nil {
		return nil, err
	}
	return graph.Rows[T](tb)
}

// detections returns the objects of frame t whose detection probability
// reaches the threshold.
func (in solverInput) detections(t int, p Params) ([]detection, error) {
	centers, ok := in.features[t].Get(objectextraction.StandardGroup, objectextraction.FeatureRegionCenter)
	if !ok {
		return nil, fmt.Errorf("%w: tracking needs %s/%s", objectextraction.ErrUnknownFeature,
			objectextraction.StandardGroup, objectextraction.FeatureRegionCenter)
	}
	det, div := in.detection[t].Probs, in.division[t].Probs
	if len(det) != len(centers) || len(div) != len(centers) {
		return nil, fmt.Errorf("%w: frame %d has %d objects but %d detection and %d division probabilities",
			graph.ErrInvalidValue, t, len(centers), len(det), len(div))
	}
	var out []detection
	for k, c := range centers {
		if positive(det[k]) < p.DetectionThreshold {
			continue
		}
		out = append(out, detection{label: k + 1, center: c, division: positive(div[k])})
	}
	return out, nil
}

// positive is the probability of class 1, the class of interest in both
// two-class problems the tracker consumes.
func positive(probs []float64) float64 {
	switch len(probs) {
	case 0:
		return 0
	case 1:
		return probs[0]
	}
	return probs[1]
}

// PropagateDirty dirties the whole table: links depend on every earlier
// frame.
func (op *opSolver) PropagateDirty(_ *graph.Slot, _ graph.Region) {
	op.Events.SetDirty(graph.Region{})
}
