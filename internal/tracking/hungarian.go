package tracking

import "math"

// forbiddenCost marks an assignment the solver must not select.
const forbiddenCost = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m
// cost matrix with the Kuhn–Munkres algorithm (Jonker–Volgenant
// potentials) in O(max(n,m)³). It returns assignments[i] = column
// assigned to row i, or -1 when row i stays unassigned. Costs ≥
// forbiddenCost are never selected.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	// Pad to a square matrix. Forbidden and padded cells get a cost above
	// any sum of allowed costs, kept small enough that the potentials
	// below do not swamp the allowed costs.
	dim := max(n, m)
	worst := 0.0
	for i := range n {
		for j := range m {
			if cost[i][j] < forbiddenCost {
				worst = max(worst, math.Abs(cost[i][j]))
			}
		}
	}
	big := (worst + 1) * float64(dim+1)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < m && cost[i][j] < forbiddenCost {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = big
			}
		}
	}

	// 1-indexed; column 0 is virtual.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		i := p[j] - 1
		if i < 0 || i >= n || j-1 >= m || cost[i][j-1] >= forbiddenCost {
			continue
		}
		result[i] = j - 1
	}
	return result
}
