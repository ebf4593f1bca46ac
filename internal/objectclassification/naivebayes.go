package objectclassification

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// varSmoothing is added to every per-class feature variance so that
// classes with constant features still have a proper density.
const varSmoothing = 1e-3

// gaussianNB is a Gaussian naive Bayes classifier.
type gaussianNB struct {
	logPrior []float64
	dists    [][]distuv.Normal
}

// trainGaussianNB fits one normal distribution per class and feature.
// It reports false when some class has no samples.
func trainGaussianNB(x [][]float64, y []int, classes int) (*gaussianNB, bool) {
	if len(x) == 0 {
		return nil, false
	}
	dim := len(x[0])
	byClass := make([][][]float64, classes)
	for i, c := range y {
		byClass[c] = append(byClass[c], x[i])
	}
	m := &gaussianNB{
		logPrior: make([]float64, classes),
		dists:    make([][]distuv.Normal, classes),
	}
	col := make([]float64, 0, len(x))
	for c, rows := range byClass {
		if len(rows) == 0 {
			return nil, false
		}
		m.logPrior[c] = math.Log(float64(len(rows)) / float64(len(x)))
		m.dists[c] = make([]distuv.Normal, dim)
		for j := range dim {
			col = col[:0]
			for _, r := range rows {
				col = append(col, r[j])
			}
			mean, variance := col[0], 0.0
			if len(col) > 1 {
				mean, variance = stat.MeanVariance(col, nil)
			}
			m.dists[c][j] = distuv.Normal{Mu: mean, Sigma: math.Sqrt(variance + varSmoothing)}
		}
	}
	return m, true
}

// predict returns the posterior class probabilities of v.
func (m *gaussianNB) predict(v []float64) []float64 {
	logp := make([]float64, len(m.logPrior))
	for c := range logp {
		logp[c] = m.logPrior[c]
		for j, d := range m.dists[c] {
			logp[c] += d.LogProb(v[j])
		}
	}
	norm := floats.LogSumExp(logp)
	for c := range logp {
		logp[c] = math.Exp(logp[c] - norm)
	}
	return logp
}

func uniform(classes int) []float64 {
	p := make([]float64, classes)
	for i := range p {
		p[i] = 1 / float64(classes)
	}
	return p
}
