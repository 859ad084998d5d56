// Package mesh normalizes 3D model files to binary STL.
package mesh

import (
	"fmt"
	"math"

	"github.com/hschendel/stl"
)

// Vec3 is a point in millimetres.
type Vec3 [3]float64

func (a Vec3) sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func (a Vec3) cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a Vec3) length() float64 { return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2]) }

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Vertices []Vec3
	Faces    [][3]int
}

// Append merges other into m, offsetting its indices.
func (m *Mesh) Append(other *Mesh) {
	offset := len(m.Vertices)
	m.Vertices = append(m.Vertices, other.Vertices...)
	for _, f := range other.Faces {
		m.Faces = append(m.Faces, [3]int{f[0] + offset, f[1] + offset, f[2] + offset})
	}
}

// Transform applies fn to every vertex.
func (m *Mesh) Transform(fn func(Vec3) Vec3) {
	for i, v := range m.Vertices {
		m.Vertices[i] = fn(v)
	}
}

func (m *Mesh) validate() error {
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("face %d references vertex %d of %d", i, idx, len(m.Vertices))
			}
		}
	}
	return nil
}

// Solid converts m to an STL solid with recomputed normals.
func (m *Mesh) Solid(name string) *stl.Solid {
	s := &stl.Solid{Name: name}
	s.Triangles = make([]stl.Triangle, 0, len(m.Faces))
	for _, f := range m.Faces {
		var t stl.Triangle
		for k := 0; k < 3; k++ {
			v := m.Vertices[f[k]]
			t.Vertices[k] = stl.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
		}
		s.Triangles = append(s.Triangles, t)
	}
	s.RecalculateNormals()
	return s
}
