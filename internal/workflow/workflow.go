// Package workflow assembles the conservation tracking workflow: the
// applets in their fixed order and, for every lane, the connections
// between the applets' per-lane operators.
package workflow

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/banshee-data/cellflow/internal/adaptors"
	"github.com/banshee-data/cellflow/internal/applet"
	"github.com/banshee-data/cellflow/internal/config"
	"github.com/banshee-data/cellflow/internal/dataselection"
	"github.com/banshee-data/cellflow/internal/graph"
	"github.com/banshee-data/cellflow/internal/objectclassification"
	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/opticaltranslation"
	"github.com/banshee-data/cellflow/internal/threshold"
	"github.com/banshee-data/cellflow/internal/tracking"
)

// Name is the display name of the workflow.
const Name = "Tracking Workflow (Conservation Tracking)"

// Applet names, in workflow order.
const (
	AppletInputData          = "Input Data"
	AppletThreshold          = "Threshold & Size Filter"
	AppletOpticalTranslation = "Optical Translation"
	AppletObjectExtraction   = "Object Extraction"
	AppletDivisionDetection  = "Division Detection"
	AppletCellClassification = "Cell Classification"
	AppletTracking           = "Tracking"
)

// ConservationTrackingWorkflow owns the graph, one top-level operator per
// applet and the lanes. Every operator is reached through it or through a
// Lane handle.
type ConservationTrackingWorkflow struct {
	g *graph.Graph

	mu    sync.RWMutex
	cfg   *config.WorkflowConfig
	lanes []*Lane

	dataSelection *dataselection.TopLevel
	thresholds    *applet.Lanes[*threshold.OpThresholdTwoLevels]
	translations  *applet.Lanes[*opticaltranslation.OpOpticalTranslation]
	extractions   *applet.Lanes[*objectextraction.OpTrackingFeatureExtraction]
	divisions     *applet.Lanes[*objectclassification.OpObjectClassification]
	cells         *applet.Lanes[*objectclassification.OpObjectClassification]
	trackers      *applet.Lanes[*tracking.OpConservationTracking]
	applets       []*applet.Applet
}

// New creates a workflow with no lanes. A nil cfg uses the defaults.
func New(cfg *config.WorkflowConfig) (*ConservationTrackingWorkflow, error) {
	if cfg == nil {
		cfg = config.EmptyWorkflowConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	var opts []graph.Option
	if n := cfg.GetWorkers(); n > 0 {
		opts = append(opts, graph.WithWorkers(n))
	}
	g := graph.New(opts...)
	cacheOpts := []graph.CacheOption{graph.WithMaxBlocks(cfg.GetCacheMaxBlocks())}

	w := &ConservationTrackingWorkflow{g: g, cfg: cfg}
	w.dataSelection = dataselection.NewTopLevel(g, dataselection.DefaultRoles)
	w.thresholds = applet.NewLanes[*threshold.OpThresholdTwoLevels](g,
		func(g *graph.Graph, lane int) (*threshold.OpThresholdTwoLevels, error) {
			return threshold.NewOpThresholdTwoLevels(g, opName("OpThresholdTwoLevels", lane), cacheOpts...)
		})
	w.translations = applet.NewLanes[*opticaltranslation.OpOpticalTranslation](g,
		func(g *graph.Graph, lane int) (*opticaltranslation.OpOpticalTranslation, error) {
			return opticaltranslation.NewOpOpticalTranslation(g, opName("OpOpticalTranslation", lane)), nil
		})
	w.extractions = applet.NewLanes[*objectextraction.OpTrackingFeatureExtraction](g,
		func(g *graph.Graph, lane int) (*objectextraction.OpTrackingFeatureExtraction, error) {
			return objectextraction.NewOpTrackingFeatureExtraction(g, opName("OpTrackingFeatureExtraction", lane), cacheOpts...)
		})
	w.divisions = applet.NewLanes[*objectclassification.OpObjectClassification](g,
		func(g *graph.Graph, lane int) (*objectclassification.OpObjectClassification, error) {
			return objectclassification.NewOpObjectClassification(g, opName("DivisionDetection", lane)), nil
		})
	w.cells = applet.NewLanes[*objectclassification.OpObjectClassification](g,
		func(g *graph.Graph, lane int) (*objectclassification.OpObjectClassification, error) {
			return objectclassification.NewOpObjectClassification(g, opName("CellClassification", lane)), nil
		})
	w.trackers = applet.NewLanes[*tracking.OpConservationTracking](g,
		func(g *graph.Graph, lane int) (*tracking.OpConservationTracking, error) {
			return tracking.NewOpConservationTracking(g, opName("OpConservationTracking", lane))
		})

	w.applets = []*applet.Applet{
		applet.New(AppletInputData, w.dataSelection),
		applet.New(AppletThreshold, w.thresholds),
		applet.New(AppletOpticalTranslation, w.translations),
		applet.New(AppletObjectExtraction, w.extractions),
		applet.New(AppletDivisionDetection, w.divisions),
		applet.New(AppletCellClassification, w.cells),
		applet.New(AppletTracking, w.trackers),
	}
	return w, nil
}

func opName(kind string, lane int) string {
	return fmt.Sprintf("%s[%d]", kind, lane)
}

// Applets returns the applets in workflow order.
func (w *ConservationTrackingWorkflow) Applets() []*applet.Applet {
	return slices.Clone(w.applets)
}

// ImageNameListSlot is the slot listing every lane's dataset name.
func (w *ConservationTrackingWorkflow) ImageNameListSlot() *graph.Slot {
	return w.dataSelection.ImageNameList()
}

// Graph returns the graph every operator of the workflow lives in.
func (w *ConservationTrackingWorkflow) Graph() *graph.Graph { return w.g }

// NumLanes returns the number of lanes.
func (w *ConservationTrackingWorkflow) NumLanes() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.lanes)
}

// Lane returns the handle of lane i.
func (w *ConservationTrackingWorkflow) Lane(i int) (*Lane, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lane(i)
}

func (w *ConservationTrackingWorkflow) lane(i int) (*Lane, error) {
	if i < 0 || i >= len(w.lanes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoSuchLane, i, len(w.lanes))
	}
	return w.lanes[i], nil
}

// SetConfig replaces the workflow configuration. Existing lanes keep their
// parameters until ConnectLane rewires them; cache sizes and the worker
// limit are fixed when the workflow is created.
func (w *ConservationTrackingWorkflow) SetConfig(cfg *config.WorkflowConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg
	return nil
}

// AddLane appends a lane for ds: every applet gets a view for the new
// index, the dataset readers are attached and the lane is wired. On any
// failure everything created for the lane is removed again and the
// workflow is left as it was.
func (w *ConservationTrackingWorkflow) AddLane(ds dataselection.Dataset) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := len(w.lanes)
	for n, a := range w.applets {
		if err := a.TopLevel.AddLane(i); err != nil {
			for _, b := range slices.Backward(w.applets[:n]) {
				_ = b.TopLevel.RemoveLane(i)
			}
			opsf("add lane %q: %s: %v", ds.Name, a.Name, err)
			return -1, fmt.Errorf("add lane %q: %s: %w", ds.Name, a.Name, err)
		}
	}
	l, err := w.views(i)
	if err != nil {
		for _, a := range slices.Backward(w.applets) {
			_ = a.TopLevel.RemoveLane(i)
		}
		return -1, fmt.Errorf("add lane %q: %w", ds.Name, err)
	}
	l.name = ds.Name

	l.readers, err = dataselection.Attach(w.g, l.DataSelection, ds)
	if err == nil {
		err = w.connectLane(l)
	}
	if err != nil {
		w.teardown(i, l)
		opsf("add lane %q: %v", ds.Name, err)
		return -1, fmt.Errorf("add lane %q: %w", ds.Name, err)
	}
	w.lanes = append(w.lanes, l)
	diagf("added lane %d %q", i, ds.Name)
	return i, nil
}

// views collects the per-lane operator of every applet at index i.
func (w *ConservationTrackingWorkflow) views(i int) (*Lane, error) {
	l := &Lane{}
	var errs [7]error
	l.DataSelection, errs[0] = w.dataSelection.GetLane(i)
	l.Threshold, errs[1] = w.thresholds.GetLane(i)
	l.OpticalTranslation, errs[2] = w.translations.GetLane(i)
	l.ObjectExtraction, errs[3] = w.extractions.GetLane(i)
	l.DivisionDetection, errs[4] = w.divisions.GetLane(i)
	l.CellClassification, errs[5] = w.cells.GetLane(i)
	l.Tracking, errs[6] = w.trackers.GetLane(i)
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return l, nil
}

// ConnectLane wires lane i again with the current configuration. The
// labels set on the classifiers are kept. If the wiring fails the lane is
// removed from the workflow.
func (w *ConservationTrackingWorkflow) ConnectLane(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, err := w.lane(i)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w.disconnectLane(l)
	if err := w.connectLane(l); err != nil {
		w.teardown(i, l)
		w.lanes = slices.Delete(w.lanes, i, i+1)
		opsf("connect lane %d %q: %v", i, l.name, err)
		return fmt.Errorf("connect lane %d %q: %w", i, l.name, err)
	}
	diagf("rewired lane %d %q", i, l.name)
	return nil
}

// binding is one step of the lane wiring: dst is connected to src, or
// set to val when src is nil.
type binding struct {
	dst *graph.Slot
	src *graph.Slot
	val any
}

// connectLane creates the lane's adapters and binds every input of the
// lane topology. Parameters are set before the images reach an operator so
// that intermediate parameter combinations are never validated.
func (w *ConservationTrackingWorkflow) connectLane(l *Lane) error {
	cfg := w.cfg
	data := l.DataSelection
	th := l.Threshold
	ot := l.OpticalTranslation
	ex := l.ObjectExtraction
	tr := l.Tracking

	l.raw5 = adaptors.NewOp5ify(w.g, l.name+".op5Raw")
	l.predictions5 = adaptors.NewOp5ify(w.g, l.name+".op5Predictions")
	l.binary5 = adaptors.NewOp5ify(w.g, l.name+".op5Binary")

	bindings := []binding{
		{dst: l.raw5.Input, src: data.ImageGroup.Index(0)},
		{dst: l.predictions5.Input, src: data.ImageGroup.Index(1)},

		{dst: th.Channel, val: cfg.GetChannel()},
		{dst: th.SmootherSigma, val: cfg.GetSmootherSigma()},
		{dst: th.HighThreshold, val: cfg.GetHighThreshold()},
		{dst: th.LowThreshold, val: cfg.GetLowThreshold()},
		{dst: th.MinSize, val: cfg.GetMinSize()},
		{dst: th.MaxSize, val: cfg.GetMaxSize()},
		{dst: th.InputImage, src: data.ImageGroup.Index(1)},
		{dst: th.RawInput, src: data.ImageGroup.Index(0)},

		{dst: l.binary5.Input, src: th.CachedOutput},

		{dst: ot.RawImage, src: l.raw5.Output},
		{dst: ot.BinaryImage, src: l.binary5.Output},

		{dst: ex.Features, val: cfg.GetFeatures().Config()},
		{dst: ex.RawImage, src: l.raw5.Output},
		{dst: ex.BinaryImage, src: l.binary5.Output},
		{dst: ex.TranslationVectors, src: ot.TranslationVectors},
	}
	for _, c := range []struct {
		op  *objectclassification.OpObjectClassification
		sel objectextraction.Selection
	}{
		{l.DivisionDetection, cfg.GetDivisionFeatures()},
		{l.CellClassification, cfg.GetCellFeatures()},
	} {
		bindings = append(bindings,
			binding{dst: c.op.SelectedFeatures, val: c.sel.Config()},
			binding{dst: c.op.BinaryImages, src: l.binary5.Output},
			binding{dst: c.op.RawImages, src: l.raw5.Output},
			binding{dst: c.op.LabelsAllowedFlags, src: data.AllowLabels},
			binding{dst: c.op.SegmentationImages, src: ex.LabelImage},
			binding{dst: c.op.ObjectFeatures, src: ex.RegionFeatures},
			binding{dst: c.op.ComputedFeatureNames, src: ex.ComputedFeatureNames},
		)
	}
	bindings = append(bindings,
		binding{dst: tr.MaxDistance, val: cfg.GetMaxDistance()},
		binding{dst: tr.DivisionThreshold, val: cfg.GetDivisionThreshold()},
		binding{dst: tr.DetectionThreshold, val: cfg.GetDetectionThreshold()},
		binding{dst: tr.RawImage, src: l.raw5.Output},
		binding{dst: tr.LabelImage, src: ex.LabelImage},
		binding{dst: tr.ObjectFeatures, src: l.DivisionDetection.ObjectFeatures},
		binding{dst: tr.DivisionProbabilities, src: l.DivisionDetection.Probabilities},
		binding{dst: tr.DetectionProbabilities, src: l.CellClassification.Probabilities},
	)

	for _, b := range bindings {
		var err error
		if b.src != nil {
			err = w.g.Connect(b.src, b.dst)
		} else {
			err = w.g.SetValue(b.dst, b.val)
		}
		if err != nil {
			return err
		}
		l.bound = append(l.bound, b.dst)
	}
	return nil
}

// disconnectLane undoes connectLane: the inputs it bound are released in
// reverse order and the adapters are removed.
func (w *ConservationTrackingWorkflow) disconnectLane(l *Lane) {
	for _, s := range slices.Backward(l.bound) {
		w.g.Disconnect(s)
	}
	l.bound = nil
	for _, op := range []*adaptors.Op5ify{l.raw5, l.predictions5, l.binary5} {
		if op != nil {
			w.g.Remove(op)
		}
	}
	l.raw5, l.predictions5, l.binary5 = nil, nil, nil
}

// teardown removes every operator of lane i, which must be held
// exclusively or not yet published.
func (w *ConservationTrackingWorkflow) teardown(i int, l *Lane) {
	w.disconnectLane(l)
	for _, a := range slices.Backward(w.applets) {
		if err := a.TopLevel.RemoveLane(i); err != nil {
			opsf("remove lane %d from %s: %v", i, a.Name, err)
		}
	}
	for _, r := range l.readers {
		w.g.Remove(r)
	}
	l.readers = nil
	l.removed = true
}

// RemoveLane removes lane i and all its operators once the requests in
// flight through its handle have finished. Later lanes shift down by one;
// their connections are untouched.
func (w *ConservationTrackingWorkflow) RemoveLane(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, err := w.lane(i)
	if err != nil {
		return err
	}
	l.mu.Lock()
	w.teardown(i, l)
	l.mu.Unlock()
	w.lanes = slices.Delete(w.lanes, i, i+1)
	diagf("removed lane %d %q", i, l.name)
	return nil
}
