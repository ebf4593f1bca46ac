package graph

import (
	"context"
	"errors"
	"sync/atomic"
)

// opRamp produces a "yx" ramp whose sample (y, x) is y*W + x + Bias.
type opRamp struct {
	OperatorBase
	Shape  *Slot
	Bias   *Slot
	Output *Slot

	calls atomic.Int64
}

func newOpRamp(g *Graph, name string) *opRamp {
	op := &opRamp{}
	op.Init(g, name, op)
	op.Shape = op.Base().Input("Shape", ScalarType())
	op.Bias = op.Base().Input("Bias", ScalarType(), Optional())
	op.Output = op.Base().Output("Output", ArrayType("yx", DTypeFloat32))
	op.Seal()
	return op
}

func (op *opRamp) SetupOutputs() error {
	shape, err := ScalarAs[[]int](mustValue(op.Shape))
	if err != nil {
		return err
	}
	if len(shape) != 2 {
		return errors.New("ramp needs two axes")
	}
	op.Output.SetMeta(ArrayMeta("yx", DTypeFloat32, shape...))
	return nil
}

func (op *opRamp) Execute(ctx context.Context, _ *Slot, r Region) (Value, error) {
	op.calls.Add(1)
	bias := 0.0
	if op.Bias.Supplied() {
		v, err := op.Bias.Value(ctx)
		if err != nil {
			return nil, err
		}
		if bias, err = ScalarAs[float64](v); err != nil {
			return nil, err
		}
	}
	w := op.Output.Meta().Shape[1]
	out := NewArray("yx", DTypeFloat32, r.Shape()...)
	for y := r.Start[0]; y < r.Stop[0]; y++ {
		for x := r.Start[1]; x < r.Stop[1]; x++ {
			out.Set(float64(y*w+x)+bias, y-r.Start[0], x-r.Start[1])
		}
	}
	return out, nil
}

// opScale multiplies its input by Factor. Negative factors fail setup.
type opScale struct {
	OperatorBase
	Input  *Slot
	Factor *Slot
	Output *Slot

	calls atomic.Int64
}

var errNegativeFactor = errors.New("negative factor")

func newOpScale(g *Graph, name string) *opScale {
	op := &opScale{}
	op.Init(g, name, op)
	op.Input = op.Base().Input("Input", ArrayType("", ""))
	op.Factor = op.Base().Input("Factor", ScalarType())
	op.Output = op.Base().Output("Output", ArrayType("", ""))
	op.Seal()
	return op
}

func (op *opScale) SetupOutputs() error {
	f, err := ScalarAs[float64](mustValue(op.Factor))
	if err != nil {
		return err
	}
	if f < 0 {
		return errNegativeFactor
	}
	op.Output.SetMeta(op.Input.Meta())
	return nil
}

func (op *opScale) Execute(ctx context.Context, _ *Slot, r Region) (Value, error) {
	op.calls.Add(1)
	v, err := op.Input.Request(ctx, r)
	if err != nil {
		return nil, err
	}
	a, err := AsArray(v)
	if err != nil {
		return nil, err
	}
	fv, err := op.Factor.Value(ctx)
	if err != nil {
		return nil, err
	}
	f, _ := ScalarAs[float64](fv)
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] *= f
	}
	return out, nil
}

func (op *opScale) PropagateDirty(in *Slot, r Region) {
	if in == op.Input {
		op.Output.SetDirty(r)
		return
	}
	op.Output.SetDirty(Region{})
}

// opSum adds up the scalar float64 elements of a multi-slot input.
type opSum struct {
	OperatorBase
	Terms  *Slot
	Output *Slot
}

func newOpSum(g *Graph, name string, n int) *opSum {
	op := &opSum{}
	op.Init(g, name, op)
	op.Terms = op.Base().Input("Terms", ScalarType(), Multi(n))
	op.Output = op.Base().Output("Output", ScalarType())
	op.Seal()
	return op
}

func (op *opSum) SetupOutputs() error {
	op.Output.SetMeta(ScalarMeta())
	return nil
}

func (op *opSum) Execute(ctx context.Context, _ *Slot, _ Region) (Value, error) {
	total := 0.0
	for _, e := range op.Terms.Elements() {
		v, err := e.Value(ctx)
		if err != nil {
			return nil, err
		}
		f, err := ScalarAs[float64](v)
		if err != nil {
			return nil, err
		}
		total += f
	}
	return Scalar{V: total}, nil
}

// opFan exposes a multi-slot output with one scalar element per term.
type opFan struct {
	OperatorBase
	Outputs *Slot
}

func newOpFan(g *Graph, name string, n int) *opFan {
	op := &opFan{}
	op.Init(g, name, op)
	op.Outputs = op.Base().Output("Outputs", ScalarType(), Multi(n))
	op.Seal()
	return op
}

func (op *opFan) SetupOutputs() error {
	for _, e := range op.Outputs.Elements() {
		e.SetMeta(ScalarMeta())
	}
	return nil
}

func (op *opFan) Execute(_ context.Context, out *Slot, _ Region) (Value, error) {
	return Scalar{V: float64(out.Position() + 1)}, nil
}

// mustValue reads an input inside SetupOutputs, where readiness is known.
func mustValue(s *Slot) Value {
	v, err := s.Value(context.Background())
	if err != nil {
		return Scalar{V: err}
	}
	return v
}
