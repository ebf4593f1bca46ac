package objectextraction

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/banshee-data/cellflow/internal/graph"
)

// ErrUnknownFeature is returned for a feature selection naming a group or
// feature this package cannot compute.
var ErrUnknownFeature = errors.New("unknown object feature")

// Feature groups.
const (
	StandardGroup = "Standard Object Features"
	DivisionGroup = "Division Features"
)

// Standard features, computed per object from its own voxels.
const (
	FeatureCount        = "Count"
	FeatureSum          = "Sum"
	FeatureMean         = "Mean"
	FeatureVariance     = "Variance"
	FeatureRegionCenter = "RegionCenter"
	FeatureCoordMin     = "Coord<Minimum>"
	FeatureCoordMax     = "Coord<Maximum>"
)

// Division features, computed per object from its two nearest
// translation-corrected neighbours in the next frame.
const (
	FeatureParentChildrenRatioCount = "ParentChildrenRatio_Count"
	FeatureParentChildrenRatioMean  = "ParentChildrenRatio_Mean"
	FeatureChildrenRatioCount       = "ChildrenRatio_Count"
	FeatureParentChildrenAngle      = "ParentChildrenAngle_RegionCenter"
)

var featureWidth = map[string]map[string]int{
	StandardGroup: {
		FeatureCount:        1,
		FeatureSum:          1,
		FeatureMean:         1,
		FeatureVariance:     1,
		FeatureRegionCenter: 3,
		FeatureCoordMin:     3,
		FeatureCoordMax:     3,
	},
	DivisionGroup: {
		FeatureParentChildrenRatioCount: 1,
		FeatureParentChildrenRatioMean:  1,
		FeatureChildrenRatioCount:       1,
		FeatureParentChildrenAngle:      1,
	},
}

// Width returns the number of values feature name of group holds per
// object, or 0 for an unknown feature.
func Width(group, name string) int {
	return featureWidth[group][name]
}

// Selection maps a feature group to feature names.
type Selection map[string][]string

// DefaultFeatures is the standard feature set computed for every object.
func DefaultFeatures() Selection {
	return Selection{StandardGroup: {
		FeatureCount, FeatureSum, FeatureMean, FeatureVariance,
		FeatureRegionCenter, FeatureCoordMin, FeatureCoordMax,
	}}
}

// DivisionDetectionFeatures is the feature set the division classifier
// uses.
func DivisionDetectionFeatures() Selection {
	return Selection{DivisionGroup: {
		FeatureParentChildrenRatioCount, FeatureParentChildrenRatioMean,
		FeatureChildrenRatioCount, FeatureParentChildrenAngle,
	}}
}

// CellClassificationFeatures is the feature set the detection classifier
// uses.
func CellClassificationFeatures() Selection {
	return Selection{StandardGroup: {FeatureCount, FeatureMean, FeatureVariance}}
}

// Validate checks that every named feature is known.
func (s Selection) Validate() error {
	for group, names := range s {
		if _, ok := featureWidth[group]; !ok {
			return fmt.Errorf("%w: group %q", ErrUnknownFeature, group)
		}
		for _, n := range names {
			if Width(group, n) == 0 {
				return fmt.Errorf("%w: %q in group %q", ErrUnknownFeature, n, group)
			}
		}
	}
	return nil
}

// Merge returns the union of s and o with sorted, unique names.
func (s Selection) Merge(o Selection) Selection {
	out := make(Selection, len(s)+len(o))
	for _, src := range []Selection{s, o} {
		for group, names := range src {
			out[group] = append(out[group], names...)
		}
	}
	for group, names := range out {
		slices.Sort(names)
		out[group] = slices.Compact(names)
	}
	return out
}

// Groups returns the group names in sorted order.
func (s Selection) Groups() []string {
	return slices.Sorted(maps.Keys(s))
}

// Config converts s into the nested configuration mapping feature
// selections travel in: group -> feature -> parameters.
func (s Selection) Config() graph.Config {
	c := make(graph.Config, len(s))
	for group, names := range s {
		features := make(graph.Config, len(names))
		for _, n := range names {
			features[n] = graph.Config{}
		}
		c[group] = features
	}
	return c
}

// SelectionFromConfig is the inverse of Selection.Config. Feature
// parameters are ignored.
func SelectionFromConfig(c graph.Config) (Selection, error) {
	s := make(Selection, len(c))
	for _, group := range c.Keys() {
		features, ok := c.Sub(group)
		if !ok {
			return nil, fmt.Errorf("%w: group %q is not a mapping", graph.ErrInvalidValue, group)
		}
		s[group] = features.Keys()
	}
	return s, nil
}

// FrameFeatures is the row type of the "region-features" table. Values
// are indexed group -> feature -> object, where object k has label k+1.
type FrameFeatures struct {
	Frame      int
	NumObjects int
	Features   map[string]map[string][][]float64
}

// Get returns the per-object values of one feature.
func (f FrameFeatures) Get(group, name string) ([][]float64, bool) {
	v, ok := f.Features[group][name]
	return v, ok
}

// Vector concatenates the selected features of object k in sorted group
// and feature order.
func (f FrameFeatures) Vector(k int, sel Selection) ([]float64, error) {
	var out []float64
	for _, group := range sel.Groups() {
		names := slices.Sorted(slices.Values(sel[group]))
		for _, n := range names {
			v, ok := f.Get(group, n)
			if !ok || k >= len(v) {
				return nil, fmt.Errorf("%w: %s/%s not computed for frame %d", ErrUnknownFeature, group, n, f.Frame)
			}
			out = append(out, v[k]...)
		}
	}
	return out, nil
}

// RegionFeaturesSchema names the table of FrameFeatures rows.
const RegionFeaturesSchema = "region-features"
