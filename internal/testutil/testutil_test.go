package testutil

import (
	"errors"
	"testing"
)

func TestAssertNoError_NilErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for nil error")
	}
}

func TestAssertError_WithErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertError(fakeT, errors.New("something wrong"))
	if fakeT.Failed() {
		t.Error("expected no failure when error is present")
	}
}

func TestRampArray(t *testing.T) {
	a := RampArray("yx", 2, 3)
	if got := a.At(1, 2); got != 5 {
		t.Errorf("At(1, 2) = %v, want 5", got)
	}
}

func TestDiskMovie(t *testing.T) {
	a := DiskMovie(2, 10, 10, Disk{T: 1, Y: 5, X: 5, Radius: 2, Value: 1})
	if a.At(1, 5, 5) != 1 || a.At(1, 5, 7) != 1 {
		t.Error("disk centre and rim should be filled")
	}
	if a.At(0, 5, 5) != 0 || a.At(1, 7, 7) != 0 {
		t.Error("pixels outside the disk should be empty")
	}
}

func TestWithChannels(t *testing.T) {
	a := RampArray("yx", 2, 2)
	b := RampArray("yx", 2, 2)
	out := WithChannels(a, b)
	if out.Axes != "yxc" || out.Shape[2] != 2 {
		t.Fatalf("unexpected layout %q %v", out.Axes, out.Shape)
	}
	if out.At(1, 1, 0) != 3 {
		t.Errorf("channel 0 = %v, want 3", out.At(1, 1, 0))
	}
}
