package imgproc

// Label assigns consecutive labels 1..n to the face-connected components
// of mask, in scan order. Background voxels keep label 0.
func Label(mask []bool, nx, ny, nz int) (labels []uint32, n int) {
	labels = make([]uint32, len(mask))
	v := &Volume{NX: nx, NY: ny, NZ: nz}
	var queue []int
	for seed, on := range mask {
		if !on || labels[seed] != 0 {
			continue
		}
		n++
		labels[seed] = uint32(n)
		queue = append(queue[:0], seed)
		for j := 0; j < len(queue); j++ {
			for _, nb := range neighbours(v, queue[j]) {
				if mask[nb] && labels[nb] == 0 {
					labels[nb] = uint32(n)
					queue = append(queue, nb)
				}
			}
		}
	}
	return labels, n
}

// neighbours returns the face neighbours of voxel i that lie inside v.
func neighbours(v *Volume, i int) []int {
	x, y, z := v.Coords(i)
	out := make([]int, 0, 6)
	if x > 0 {
		out = append(out, v.Index(x-1, y, z))
	}
	if x < v.NX-1 {
		out = append(out, v.Index(x+1, y, z))
	}
	if y > 0 {
		out = append(out, v.Index(x, y-1, z))
	}
	if y < v.NY-1 {
		out = append(out, v.Index(x, y+1, z))
	}
	if z > 0 {
		out = append(out, v.Index(x, y, z-1))
	}
	if z < v.NZ-1 {
		out = append(out, v.Index(x, y, z+1))
	}
	return out
}

// Hysteresis keeps the components of low that contain at least one voxel
// of high and whose size lies within [minSize, maxSize]. It returns the
// kept voxels.
func Hysteresis(low, high []bool, nx, ny, nz, minSize, maxSize int) []bool {
	labels, n := Label(low, nx, ny, nz)
	seeded := make([]bool, n+1)
	sizes := make([]int, n+1)
	for i, l := range labels {
		if l == 0 {
			continue
		}
		sizes[l]++
		if high[i] {
			seeded[l] = true
		}
	}
	out := make([]bool, len(low))
	for i, l := range labels {
		if l != 0 && seeded[l] && sizes[l] >= minSize && sizes[l] <= maxSize {
			out[i] = true
		}
	}
	return out
}
