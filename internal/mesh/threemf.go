package mesh

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

const default3MFModel = "3D/3dmodel.model"

type tmfModel struct {
	Unit      string        `xml:"unit,attr"`
	Objects   []tmfObject   `xml:"resources>object"`
	BuildItem []tmfBuildRef `xml:"build>item"`
}

type tmfObject struct {
	ID         string        `xml:"id,attr"`
	Vertices   []tmfVertex   `xml:"mesh>vertices>vertex"`
	Triangles  []tmfTriangle `xml:"mesh>triangles>triangle"`
	Components []tmfBuildRef `xml:"components>component"`
}

type tmfVertex struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
	Z float64 `xml:"z,attr"`
}

type tmfTriangle struct {
	V1 int `xml:"v1,attr"`
	V2 int `xml:"v2,attr"`
	V3 int `xml:"v3,attr"`
}

type tmfBuildRef struct {
	ObjectID  string `xml:"objectid,attr"`
	Transform string `xml:"transform,attr"`
}

type tmfRels struct {
	Relationships []struct {
		Target string `xml:"Target,attr"`
		Type   string `xml:"Type,attr"`
	} `xml:"Relationship"`
}

// matrix is a 3MF affine transform: 3x3 rotation/scale plus translation.
type matrix [12]float64

var identity = matrix{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}

func parseMatrix(s string) (matrix, error) {
	if strings.TrimSpace(s) == "" {
		return identity, nil
	}
	fields := strings.Fields(s)
	if len(fields) != 12 {
		return matrix{}, fmt.Errorf("transform needs 12 values, got %d", len(fields))
	}
	var m matrix
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return matrix{}, fmt.Errorf("transform: %w", err)
		}
		m[i] = v
	}
	return m, nil
}

func (m matrix) apply(v Vec3) Vec3 {
	return Vec3{
		v[0]*m[0] + v[1]*m[3] + v[2]*m[6] + m[9],
		v[0]*m[1] + v[1]*m[4] + v[2]*m[7] + m[10],
		v[0]*m[2] + v[1]*m[5] + v[2]*m[8] + m[11],
	}
}

// then returns the transform applying m first and n second.
func (m matrix) then(n matrix) matrix {
	var r matrix
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			r[row*3+col] = m[row*3]*n[col] + m[row*3+1]*n[3+col] + m[row*3+2]*n[6+col]
		}
	}
	t := n.apply(Vec3{m[9], m[10], m[11]})
	r[9], r[10], r[11] = t[0], t[1], t[2]
	return r
}

var unitScale = map[string]float64{
	"":           1,
	"millimeter": 1,
	"micron":     0.001,
	"centimeter": 10,
	"inch":       25.4,
	"foot":       304.8,
	"meter":      1000,
}

// Read3MF loads every build item of a 3MF package into one mesh.
func Read3MF(r io.ReaderAt, size int64) (*Mesh, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening 3mf container: %w", err)
	}

	name := modelPartName(zr)
	var model tmfModel
	if err := decodeZipXML(zr, name, &model); err != nil {
		return nil, err
	}

	scale, ok := unitScale[model.Unit]
	if !ok {
		return nil, fmt.Errorf("3mf: unsupported unit %q", model.Unit)
	}

	objects := make(map[string]*tmfObject, len(model.Objects))
	for i := range model.Objects {
		objects[model.Objects[i].ID] = &model.Objects[i]
	}

	items := model.BuildItem
	if len(items) == 0 {
		for _, o := range model.Objects {
			if len(o.Vertices) > 0 {
				items = append(items, tmfBuildRef{ObjectID: o.ID})
			}
		}
	}

	out := &Mesh{}
	for _, item := range items {
		tr, err := parseMatrix(item.Transform)
		if err != nil {
			return nil, fmt.Errorf("3mf build item %s: %w", item.ObjectID, err)
		}
		if err := appendObject(out, objects, item.ObjectID, tr, 0); err != nil {
			return nil, err
		}
	}
	if scale != 1 {
		out.Transform(func(v Vec3) Vec3 { return Vec3{v[0] * scale, v[1] * scale, v[2] * scale} })
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func appendObject(out *Mesh, objects map[string]*tmfObject, id string, tr matrix, depth int) error {
	if depth > 16 {
		return fmt.Errorf("3mf: component nesting too deep at object %s", id)
	}
	obj, ok := objects[id]
	if !ok {
		return fmt.Errorf("3mf: unknown object %s", id)
	}
	if len(obj.Vertices) > 0 {
		part := &Mesh{Vertices: make([]Vec3, len(obj.Vertices)), Faces: make([][3]int, len(obj.Triangles))}
		for i, v := range obj.Vertices {
			part.Vertices[i] = tr.apply(Vec3{v.X, v.Y, v.Z})
		}
		for i, t := range obj.Triangles {
			part.Faces[i] = [3]int{t.V1, t.V2, t.V3}
		}
		if err := part.validate(); err != nil {
			return fmt.Errorf("3mf object %s: %w", id, err)
		}
		out.Append(part)
	}
	for _, c := range obj.Components {
		ct, err := parseMatrix(c.Transform)
		if err != nil {
			return fmt.Errorf("3mf component of %s: %w", id, err)
		}
		if err := appendObject(out, objects, c.ObjectID, ct.then(tr), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func modelPartName(zr *zip.Reader) string {
	var rels tmfRels
	if err := decodeZipXML(zr, "_rels/.rels", &rels); err == nil {
		for _, rel := range rels.Relationships {
			if strings.HasSuffix(rel.Type, "/3dmodel") {
				return strings.TrimPrefix(path.Clean(rel.Target), "/")
			}
		}
	}
	return default3MFModel
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	for _, f := range zr.File {
		if !strings.EqualFold(strings.TrimPrefix(f.Name, "/"), name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		if err := xml.NewDecoder(rc).Decode(v); err != nil {
			return fmt.Errorf("decoding %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%s not found in package", name)
}
