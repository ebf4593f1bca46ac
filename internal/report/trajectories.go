// Package report renders tracking results: a PNG of the object
// trajectories and an HTML chart of object and event counts per frame.
package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/cellflow/internal/tracking"
)

// PlotSize is the edge length of the trajectory plot.
const PlotSize = 6 * vg.Inch

// WriteTrajectories draws every trajectory in image coordinates and
// writes the plot to w as PNG. Daughter tracks are joined to their
// parent's last position by a dashed line.
func WriteTrajectories(w io.Writer, title string, trajectories []tracking.Trajectory) error {
	p, err := TrajectoryPlot(title, trajectories)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotSize, PlotSize, "png")
	if err != nil {
		return fmt.Errorf("failed to render trajectories: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// TrajectoryPlot builds the trajectory plot.
func TrajectoryPlot(title string, trajectories []tracking.Trajectory) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	// Image rows grow downwards.
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	byTrack := make(map[int]tracking.Trajectory, len(trajectories))
	for _, tr := range trajectories {
		byTrack[tr.Track] = tr
	}
	colors := generateColors(len(trajectories))
	for i, tr := range trajectories {
		if len(tr.Centers) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(tr.Centers))
		for k, c := range tr.Centers {
			pts[k] = plotter.XY{X: c[0], Y: c[1]}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", tr.Track, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.Color = colors[i]
		points.Shape = draw.CircleGlyph{}
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add(fmt.Sprintf("track %d", tr.Track), line)

		parent, ok := byTrack[tr.Parent]
		if tr.Parent == 0 || !ok || len(parent.Centers) == 0 {
			continue
		}
		last := parent.Centers[len(parent.Centers)-1]
		link, err := plotter.NewLine(plotter.XYs{{X: last[0], Y: last[1]}, pts[0]})
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", tr.Track, err)
		}
		link.Color = colors[i]
		link.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
		p.Add(link)
	}
	return p, nil
}

// generateColors creates a palette of distinct colors, one per track.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
