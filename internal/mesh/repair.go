package mesh

import (
	"math"
	"sort"
)

const (
	weldTolerance = 1e-6
	areaEpsilon   = 1e-12
	// MaxHoleEdges is the largest boundary loop closed by hole filling.
	MaxHoleEdges = 8
)

// RepairStats counts what Repair changed.
type RepairStats struct {
	Welded      int
	Degenerate  int
	Duplicates  int
	HolesFilled int
}

// Repair welds coincident vertices, drops degenerate and duplicate faces and
// closes small holes.
func Repair(m *Mesh) RepairStats {
	var st RepairStats
	st.Welded = weld(m)
	st.Degenerate = dropDegenerate(m)
	st.Duplicates = dropDuplicates(m)
	st.HolesFilled = fillHoles(m, MaxHoleEdges)
	return st
}

func weld(m *Mesh) int {
	type key [3]int64
	index := make(map[key]int, len(m.Vertices))
	remap := make([]int, len(m.Vertices))
	out := make([]Vec3, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		k := key{
			int64(math.Round(v[0] / weldTolerance)),
			int64(math.Round(v[1] / weldTolerance)),
			int64(math.Round(v[2] / weldTolerance)),
		}
		if j, ok := index[k]; ok {
			remap[i] = j
			continue
		}
		index[k] = len(out)
		remap[i] = len(out)
		out = append(out, v)
	}
	merged := len(m.Vertices) - len(out)
	m.Vertices = out
	for i, f := range m.Faces {
		m.Faces[i] = [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
	}
	return merged
}

func dropDegenerate(m *Mesh) int {
	kept := m.Faces[:0]
	dropped := 0
	for _, f := range m.Faces {
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			dropped++
			continue
		}
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		if b.sub(a).cross(c.sub(a)).length() <= areaEpsilon {
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	m.Faces = kept
	return dropped
}

func dropDuplicates(m *Mesh) int {
	seen := make(map[[3]int]struct{}, len(m.Faces))
	kept := m.Faces[:0]
	dropped := 0
	for _, f := range m.Faces {
		k := sorted3(f)
		if _, ok := seen[k]; ok {
			dropped++
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, f)
	}
	m.Faces = kept
	return dropped
}

func sorted3(f [3]int) [3]int {
	a, b, c := f[0], f[1], f[2]
	if a > b {
		a, b = b, a
	}
	if b > c {
		b, c = c, b
	}
	if a > b {
		a, b = b, a
	}
	return [3]int{a, b, c}
}

type edge struct{ a, b int }

// fillHoles closes boundary loops of at most maxEdges edges with a fan.
// Loops touching a vertex with more than one open edge are left alone.
func fillHoles(m *Mesh, maxEdges int) int {
	undirected := make(map[edge]int)
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			if a > b {
				a, b = b, a
			}
			undirected[edge{a, b}]++
		}
	}

	// next walks boundary edges in reverse so fill faces match the winding of
	// their neighbours.
	next := make(map[int]int)
	ambiguous := make(map[int]bool)
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			if undirected[edge{lo, hi}] != 1 {
				continue
			}
			if _, dup := next[b]; dup {
				ambiguous[b] = true
			}
			next[b] = a
		}
	}

	starts := make([]int, 0, len(next))
	for v := range next {
		starts = append(starts, v)
	}
	sort.Ints(starts)

	visited := make(map[int]bool)
	filled := 0
	for _, start := range starts {
		if visited[start] {
			continue
		}
		loop := []int{start}
		visited[start] = true
		ok := !ambiguous[start]
		cur := start
		for {
			n, exists := next[cur]
			if !exists {
				ok = false
				break
			}
			if n == start {
				break
			}
			if visited[n] || len(loop) > maxEdges {
				ok = false
				break
			}
			if ambiguous[n] {
				ok = false
			}
			visited[n] = true
			loop = append(loop, n)
			cur = n
		}
		if !ok || len(loop) < 3 || len(loop) > maxEdges {
			continue
		}
		// fan from the lowest vertex index
		root := 0
		for i, v := range loop {
			if v < loop[root] {
				root = i
			}
		}
		loop = append(loop[root:], loop[:root]...)
		for i := 1; i+1 < len(loop); i++ {
			m.Faces = append(m.Faces, [3]int{loop[0], loop[i], loop[i+1]})
		}
		filled++
	}
	return filled
}

// BoundaryEdges counts edges used by exactly one face.
func BoundaryEdges(m *Mesh) int {
	undirected := make(map[edge]int)
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			if a > b {
				a, b = b, a
			}
			undirected[edge{a, b}]++
		}
	}
	n := 0
	for _, c := range undirected {
		if c == 1 {
			n++
		}
	}
	return n
}
