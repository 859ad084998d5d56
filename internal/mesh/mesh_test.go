package mesh

import (
	"archive/zip"
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hschendel/stl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cubeOBJ = `# unit cube
o cube
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 0 0 1
v 1 0 1
v 1 1 1
v 0 1 1
f 1 4 3 2
f 5 6 7 8
f 1/1 2/1 6/1 5/1
f 3//1 4//1 8//1 7//1
g left
f -5 -8 -4 -1
f 2 3 7 6
`

func cubeMesh(t *testing.T) *Mesh {
	t.Helper()
	m, err := ReadOBJ(strings.NewReader(cubeOBJ))
	require.NoError(t, err)
	return m
}

func TestReadOBJ(t *testing.T) {
	m := cubeMesh(t)
	assert.Len(t, m.Vertices, 8)
	assert.Len(t, m.Faces, 12)
	assert.Equal(t, 0, BoundaryEdges(m))
	// negative references resolve against vertices read so far
	assert.Equal(t, [3]int{3, 0, 4}, m.Faces[8])
}

func TestReadOBJ_Errors(t *testing.T) {
	tests := []struct {
		name string
		obj  string
	}{
		{"short vertex", "v 1 2\n"},
		{"bad number", "v 1 x 3\n"},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n"},
		{"out of range", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"},
		{"short face", "v 0 0 0\nf 1 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOBJ(strings.NewReader(tt.obj))
			assert.Error(t, err)
		})
	}
}

func TestRepair_FillsSmallHole(t *testing.T) {
	m := cubeMesh(t)
	// drop the two top triangles
	m.Faces = append(m.Faces[:2], m.Faces[4:]...)
	require.Equal(t, 4, BoundaryEdges(m))

	stats := Repair(m)
	assert.Equal(t, 1, stats.HolesFilled)
	assert.Equal(t, 0, BoundaryEdges(m))
	assert.Len(t, m.Faces, 12)
}

// openPyramid has a four-edge rim that does not lie in one plane.
func openPyramid() *Mesh {
	m := &Mesh{Vertices: []Vec3{
		{0, 0, 0}, {10, 0, 10}, {10, 10, 0}, {0, 10, 10}, {5, 5, 30},
	}}
	for i := 0; i < 4; i++ {
		m.Faces = append(m.Faces, [3]int{i, (i + 1) % 4, 4})
	}
	return m
}

func enclosedVolume(m *Mesh) float64 {
	var v float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		v += a[0]*(b[1]*c[2]-b[2]*c[1]) - a[1]*(b[0]*c[2]-b[2]*c[0]) + a[2]*(b[0]*c[1]-b[1]*c[0])
	}
	return math.Abs(v / 6)
}

func TestRepair_NonPlanarHoleIsStable(t *testing.T) {
	volumes := make(map[float64]int)
	for i := 0; i < 300; i++ {
		m := openPyramid()
		stats := Repair(m)
		require.Equal(t, 1, stats.HolesFilled)
		require.Equal(t, 0, BoundaryEdges(m))
		volumes[math.Round(enclosedVolume(m)*1e4)/1e4]++
	}
	assert.Len(t, volumes, 1, "volumes seen: %v", volumes)

	m := openPyramid()
	Repair(m)
	// the cap is fanned from the lowest vertex index
	assert.Equal(t, [3]int{0, 3, 2}, m.Faces[4])
	assert.Equal(t, [3]int{0, 2, 1}, m.Faces[5])
}

func TestRepair_LeavesLargeHoleOpen(t *testing.T) {
	// a flat 3x3 grid has a 12-edge boundary
	m := &Mesh{}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			m.Vertices = append(m.Vertices, Vec3{float64(x), float64(y), 0})
		}
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			a := y*4 + x
			m.Faces = append(m.Faces, [3]int{a, a + 1, a + 5}, [3]int{a, a + 5, a + 4})
		}
	}
	stats := Repair(m)
	assert.Equal(t, 0, stats.HolesFilled)
	assert.Equal(t, 12, BoundaryEdges(m))
}

func TestRepair_WeldsAndDropsBadFaces(t *testing.T) {
	m := cubeMesh(t)
	// split vertex 0 into a near-duplicate used by one face
	m.Vertices = append(m.Vertices, Vec3{1e-9, 0, 0})
	m.Faces[0][0] = 8
	// duplicate with reversed winding, repeated index, zero area
	m.Faces = append(m.Faces,
		[3]int{m.Faces[3][2], m.Faces[3][1], m.Faces[3][0]},
		[3]int{1, 1, 2},
	)
	m.Vertices = append(m.Vertices, Vec3{2, 0, 0}, Vec3{3, 0, 0})
	m.Faces = append(m.Faces, [3]int{0, 9, 10})

	stats := Repair(m)
	assert.Equal(t, 1, stats.Welded)
	assert.Equal(t, 2, stats.Degenerate)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Len(t, m.Faces, 12)
	assert.Equal(t, 0, BoundaryEdges(m))
}

func write3MF(t *testing.T, model string, withRels bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if withRels {
		w, err := zw.Create("_rels/.rels")
		require.NoError(t, err)
		_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Target="/3D/part.model" Id="rel0" Type="http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel"/>
</Relationships>`))
		require.NoError(t, err)
	}
	name := default3MFModel
	if withRels {
		name = "3D/part.model"
	}
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(model))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const tetra3MF = `<?xml version="1.0" encoding="UTF-8"?>
<model unit="%s" xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <object id="1" type="model">
      <mesh>
        <vertices>
          <vertex x="0" y="0" z="0"/>
          <vertex x="1" y="0" z="0"/>
          <vertex x="0" y="1" z="0"/>
          <vertex x="0" y="0" z="1"/>
        </vertices>
        <triangles>
          <triangle v1="0" v2="2" v3="1"/>
          <triangle v1="0" v2="1" v3="3"/>
          <triangle v1="1" v2="2" v3="3"/>
          <triangle v1="0" v2="3" v3="2"/>
        </triangles>
      </mesh>
    </object>
    <object id="2" type="model">
      <components>
        <component objectid="1" transform="1 0 0 0 1 0 0 0 1 5 0 0"/>
      </components>
    </object>
  </resources>
  <build>
    <item objectid="1"/>
    <item objectid="2" transform="2 0 0 0 2 0 0 0 2 0 0 10"/>
  </build>
</model>`

func TestRead3MF(t *testing.T) {
	data := write3MF(t, strings.Replace(tetra3MF, "%s", "millimeter", 1), true)
	m, err := Read3MF(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Len(t, m.Vertices, 8)
	assert.Len(t, m.Faces, 8)
	// second item: translated by 5 in x, then scaled by 2 and lifted by 10
	assert.Equal(t, Vec3{10, 0, 10}, m.Vertices[4])
	assert.Equal(t, Vec3{12, 0, 10}, m.Vertices[5])
	assert.Equal(t, Vec3{10, 0, 12}, m.Vertices[7])
}

func TestRead3MF_UnitsAndDefaultPart(t *testing.T) {
	data := write3MF(t, strings.Replace(tetra3MF, "%s", "inch", 1), false)
	m, err := Read3MF(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.InDelta(t, 25.4, m.Vertices[1][0], 1e-9)
}

func TestRead3MF_Errors(t *testing.T) {
	_, err := Read3MF(bytes.NewReader([]byte("not a zip")), 9)
	assert.Error(t, err)

	data := write3MF(t, strings.Replace(tetra3MF, "%s", "parsec", 1), false)
	_, err = Read3MF(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

const tetraAMF = `<?xml version="1.0" encoding="UTF-8"?>
<amf unit="millimeter">
  <object id="0">
    <mesh>
      <vertices>
        <vertex><coordinates><x>0</x><y>0</y><z>0</z></coordinates></vertex>
        <vertex><coordinates><x>1</x><y>0</y><z>0</z></coordinates></vertex>
        <vertex><coordinates><x>0</x><y>1</y><z>0</z></coordinates></vertex>
        <vertex><coordinates><x>0</x><y>0</y><z>1</z></coordinates></vertex>
      </vertices>
      <volume>
        <triangle><v1>0</v1><v2>2</v2><v3>1</v3></triangle>
        <triangle><v1>0</v1><v2>1</v2><v3>3</v3></triangle>
      </volume>
      <volume>
        <triangle><v1>1</v1><v2>2</v2><v3>3</v3></triangle>
        <triangle><v1>0</v1><v2>3</v2><v3>2</v3></triangle>
      </volume>
    </mesh>
  </object>
</amf>`

func TestReadAMF(t *testing.T) {
	m, err := ReadAMF(strings.NewReader(tetraAMF))
	require.NoError(t, err)
	assert.Len(t, m.Vertices, 4)
	assert.Len(t, m.Faces, 4)
	assert.Equal(t, 0, BoundaryEdges(m))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("model.amf")
	require.NoError(t, err)
	_, err = w.Write([]byte(tetraAMF))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	zipped, err := ReadAMF(&buf)
	require.NoError(t, err)
	assert.Len(t, zipped.Faces, 4)
}

func TestScaleInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.stl")
	require.NoError(t, cubeMesh(t).Solid("cube").WriteFile(path))

	require.NoError(t, ScaleInPlace(path, 25.4))

	solid, err := stl.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, solid.Triangles, 12)
	var maxX float32
	for _, tri := range solid.Triangles {
		for _, v := range tri.Vertices {
			if v[0] > maxX {
				maxX = v[0]
			}
		}
	}
	assert.InDelta(t, 25.4, maxX, 1e-4)

	_, err = os.Stat(path + ".scaling")
	assert.True(t, os.IsNotExist(err))
}

func TestScaleInPlace_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.stl")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	assert.Error(t, ScaleInPlace(path, 2))
}
