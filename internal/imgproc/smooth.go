package imgproc

import "math"

// GaussianKernel returns a normalised kernel of radius ceil(3 sigma).
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	sum := 0.0
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Smooth applies a separable Gaussian filter along every axis of v longer
// than one voxel. Borders are clamped.
func Smooth(v *Volume, sigma float64) *Volume {
	out := &Volume{NX: v.NX, NY: v.NY, NZ: v.NZ, Data: append([]float64(nil), v.Data...)}
	k := GaussianKernel(sigma)
	if len(k) == 1 {
		return out
	}
	dims := [3]int{v.NX, v.NY, v.NZ}
	strides := [3]int{v.NY * v.NZ, v.NZ, 1}
	tmp := make([]float64, len(out.Data))
	for axis := 0; axis < 3; axis++ {
		n := dims[axis]
		if n < 2 {
			continue
		}
		convolve(tmp, out, k, axis, n, strides[axis])
		out.Data, tmp = tmp, out.Data
	}
	return out
}

func convolve(dst []float64, v *Volume, k []float64, axis, n, stride int) {
	r := len(k) / 2
	for i := range v.Data {
		x, y, z := v.Coords(i)
		pos := [3]int{x, y, z}[axis]
		line := i - pos*stride
		acc := 0.0
		for j, w := range k {
			p := min(max(pos+j-r, 0), n-1)
			acc += w * v.Data[line+p*stride]
		}
		dst[i] = acc
	}
}
