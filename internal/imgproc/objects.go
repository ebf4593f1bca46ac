package imgproc

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Object summarises one labelled component of a frame.
type Object struct {
	Label    int
	Count    int
	Sum      float64
	Mean     float64
	Variance float64
	// Center is the geometric centre (x, y, z).
	Center [3]float64
	Min    [3]int
	Max    [3]int
}

// Measure computes per-object statistics for labels 1..n over the
// intensities of raw. The result is indexed by label-1.
func Measure(labels []uint32, n int, raw *Volume) []Object {
	values := make([][]float64, n)
	coords := make([][3][]float64, n)
	objs := make([]Object, n)
	for i := range objs {
		objs[i] = Object{Label: i + 1, Min: [3]int{-1, -1, -1}}
	}
	for i, l := range labels {
		if l == 0 {
			continue
		}
		k := int(l) - 1
		values[k] = append(values[k], raw.Data[i])
		x, y, z := raw.Coords(i)
		o := &objs[k]
		for a, c := range [3]int{x, y, z} {
			coords[k][a] = append(coords[k][a], float64(c))
			if o.Min[a] < 0 || c < o.Min[a] {
				o.Min[a] = c
			}
			if c > o.Max[a] {
				o.Max[a] = c
			}
		}
	}
	for k := range objs {
		o := &objs[k]
		o.Count = len(values[k])
		if o.Count == 0 {
			o.Min = [3]int{}
			continue
		}
		o.Sum = floats.Sum(values[k])
		o.Mean, o.Variance = stat.PopMeanVariance(values[k], nil)
		for a := range o.Center {
			o.Center[a] = stat.Mean(coords[k][a], nil)
		}
	}
	return objs
}

// WeightedCentroid returns the intensity-weighted centre of the voxels
// selected by mask, and false when the selection has no weight.
func WeightedCentroid(raw *Volume, mask []bool) ([3]float64, bool) {
	var xs, ys, zs, ws []float64
	for i, on := range mask {
		if !on || raw.Data[i] <= 0 {
			continue
		}
		x, y, z := raw.Coords(i)
		xs = append(xs, float64(x))
		ys = append(ys, float64(y))
		zs = append(zs, float64(z))
		ws = append(ws, raw.Data[i])
	}
	if floats.Sum(ws) == 0 {
		return [3]float64{}, false
	}
	return [3]float64{stat.Mean(xs, ws), stat.Mean(ys, ws), stat.Mean(zs, ws)}, true
}
