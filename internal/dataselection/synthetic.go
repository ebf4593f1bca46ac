package dataselection

import (
	"math"

	"github.com/banshee-data/cellflow/internal/graph"
)

const (
	blobRadius      = 4.0
	blobIntensity   = 100.0
	backgroundLevel = 10.0
	foregroundProb  = 0.95
	backgroundProb  = 0.02
)

type blob struct{ y, x float64 }

// Synthetic describes a generated movie of moving cells on a dark
// background. One cell divides halfway through the movie.
type Synthetic struct {
	Frames, Height, Width int
}

// DefaultSynthetic is a small movie suitable for smoke tests.
func DefaultSynthetic(frames int) Synthetic {
	return Synthetic{Frames: frames, Height: 64, Width: 64}
}

// Dataset returns a lane dataset with the raw "tyx" movie and a two channel
// "tyxc" prediction map (background, foreground).
func (s Synthetic) Dataset(name string) Dataset {
	raw, pred := s.Movies()
	return Dataset{
		Name:        name,
		AllowLabels: true,
		Sources:     []Source{ArraySource{Array: raw}, ArraySource{Array: pred}},
	}
}

// Movies renders the raw and prediction arrays.
func (s Synthetic) Movies() (raw, pred *graph.Array) {
	raw = graph.NewArray("tyx", graph.DTypeFloat32, s.Frames, s.Height, s.Width)
	pred = graph.NewArray("tyxc", graph.DTypeFloat32, s.Frames, s.Height, s.Width, 2)
	for t := 0; t < s.Frames; t++ {
		blobs := s.blobs(t)
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				inside := false
				for _, b := range blobs {
					if math.Hypot(float64(y)-b.y, float64(x)-b.x) <= blobRadius {
						inside = true
						break
					}
				}
				p, v := backgroundProb, backgroundLevel
				if inside {
					p, v = foregroundProb, blobIntensity
				}
				raw.Set(v, t, y, x)
				pred.Set(1-p, t, y, x, 0)
				pred.Set(p, t, y, x, 1)
			}
		}
	}
	return raw, pred
}

// DivisionFrame is the first frame in which the dividing cell shows two
// daughters.
func (s Synthetic) DivisionFrame() int { return s.Frames / 2 }

func (s Synthetic) blobs(t int) []blob {
	h, w := float64(s.Height), float64(s.Width)
	out := []blob{
		{y: h / 4, x: w/4 + float64(t)},
		{y: 3 * h / 4, x: w / 4},
	}
	mother := blob{y: h / 2, x: 3 * w / 4}
	if d := s.DivisionFrame(); t >= d {
		off := 6 + 2*float64(t-d)
		return append(out, blob{y: mother.y - off, x: mother.x}, blob{y: mother.y + off, x: mother.x})
	}
	return append(out, mother)
}
