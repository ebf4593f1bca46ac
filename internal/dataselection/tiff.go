package dataselection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/graph"
)

// ErrNoFrames is returned when a stack pattern matches no file.
var ErrNoFrames = errors.New("dataselection: no frames")

// TIFFSource reads a time series stored as one TIFF file per frame. Files
// are ordered by name.
type TIFFSource struct {
	FS      fsutil.FileSystem
	Pattern string
	// Normalize scales samples to [0, 1] and reports float32.
	Normalize bool
}

// Bind implements Source.
func (s TIFFSource) Bind(g *graph.Graph, name string) (graph.Operator, *graph.Slot, error) {
	fsys := s.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	files, err := fsys.Glob(s.Pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("glob %q: %w", s.Pattern, err)
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrNoFrames, s.Pattern)
	}
	op, err := NewOpTIFFStack(g, name, fsys, files, s.Normalize)
	if err != nil {
		return nil, nil, err
	}
	return op, op.Output, nil
}

// OpTIFFStack lazily decodes the frames a request touches.
type OpTIFFStack struct {
	graph.OperatorBase
	Output *graph.Slot

	fs        fsutil.FileSystem
	files     []string
	normalize bool
	meta      graph.Meta
	scale     float64
}

// NewOpTIFFStack reads the header of the first file to fix the stack's
// metadata. Every frame must have the same size and colour model.
func NewOpTIFFStack(g *graph.Graph, name string, fsys fsutil.FileSystem, files []string, normalize bool) (*OpTIFFStack, error) {
	cfg, err := decodeConfig(fsys, files[0])
	if err != nil {
		return nil, err
	}
	dtype, scale := graph.DTypeUint8, 255.0
	if cfg.ColorModel == color.Gray16Model {
		dtype, scale = graph.DTypeUint16, 65535.0
	}
	if normalize {
		dtype = graph.DTypeFloat32
	}
	meta := graph.ArrayMeta("tyx", dtype, len(files), cfg.Height, cfg.Width)
	if !isGray(cfg.ColorModel) {
		meta = graph.ArrayMeta("tyxc", dtype, len(files), cfg.Height, cfg.Width, 3)
	}

	op := &OpTIFFStack{fs: fsys, files: files, normalize: normalize, meta: meta, scale: scale}
	op.Init(g, name, op)
	op.Output = op.Base().Output("Output", graph.ArrayType("", ""))
	op.Seal()
	return op, nil
}

func isGray(m color.Model) bool {
	return m == color.GrayModel || m == color.Gray16Model
}

func decodeConfig(fsys fsutil.FileSystem, name string) (image.Config, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return cfg, nil
}

// SetupOutputs implements graph.Operator.
func (op *OpTIFFStack) SetupOutputs() error {
	op.Output.SetMeta(op.meta)
	return nil
}

// Execute implements graph.Operator.
func (op *OpTIFFStack) Execute(ctx context.Context, _ *graph.Slot, r graph.Region) (graph.Value, error) {
	out := graph.NewArray(op.meta.Axes, op.meta.DType, r.Shape()...)
	color3 := len(op.meta.Axes) == 4
	for t := r.Start[0]; t < r.Stop[0]; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := op.decode(t)
		if err != nil {
			return nil, err
		}
		origin := img.Bounds().Min
		for y := r.Start[1]; y < r.Stop[1]; y++ {
			for x := r.Start[2]; x < r.Stop[2]; x++ {
				px := sample(img, origin.X+x, origin.Y+y)
				idx := []int{t - r.Start[0], y - r.Start[1], x - r.Start[2], 0}
				if !color3 {
					out.Set(op.level(px[0]), idx[:3]...)
					continue
				}
				for c := r.Start[3]; c < r.Stop[3]; c++ {
					idx[3] = c - r.Start[3]
					out.Set(op.level(px[c]), idx...)
				}
			}
		}
	}
	return out, nil
}

func (op *OpTIFFStack) decode(t int) (image.Image, error) {
	name := op.files[t]
	f, err := op.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	b := img.Bounds()
	if b.Dy() != op.meta.Shape[1] || b.Dx() != op.meta.Shape[2] {
		return nil, fmt.Errorf("%w: %s is %dx%d, stack is %dx%d", graph.ErrInvalidValue,
			name, b.Dx(), b.Dy(), op.meta.Shape[2], op.meta.Shape[1])
	}
	return img, nil
}

func (op *OpTIFFStack) level(v float64) float64 {
	if op.normalize {
		return v / op.scale
	}
	return v
}

// sample returns the grey level, or the RGB levels, of one pixel in the
// image's own bit depth.
func sample(img image.Image, x, y int) [3]float64 {
	switch m := img.(type) {
	case *image.Gray:
		v := float64(m.GrayAt(x, y).Y)
		return [3]float64{v, v, v}
	case *image.Gray16:
		v := float64(m.Gray16At(x, y).Y)
		return [3]float64{v, v, v}
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return [3]float64{float64(r >> 8), float64(g >> 8), float64(b >> 8)}
}
