package mesh

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

type amfDoc struct {
	Unit    string      `xml:"unit,attr"`
	Objects []amfObject `xml:"object"`
}

type amfObject struct {
	Vertices []struct {
		X float64 `xml:"coordinates>x"`
		Y float64 `xml:"coordinates>y"`
		Z float64 `xml:"coordinates>z"`
	} `xml:"mesh>vertices>vertex"`
	Volumes []struct {
		Triangles []struct {
			V1 int `xml:"v1"`
			V2 int `xml:"v2"`
			V3 int `xml:"v3"`
		} `xml:"triangle"`
	} `xml:"mesh>volume"`
}

// ReadAMF loads an AMF document, plain or zip-compressed. All objects and
// volumes are merged.
func ReadAMF(r io.Reader) (*Mesh, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading amf: %w", err)
	}
	if bytes.HasPrefix(data, []byte("PK")) {
		data, err = unzipFirst(data)
		if err != nil {
			return nil, err
		}
	}

	var doc amfDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding amf: %w", err)
	}
	scale, ok := unitScale[doc.Unit]
	if !ok {
		return nil, fmt.Errorf("amf: unsupported unit %q", doc.Unit)
	}

	out := &Mesh{}
	for oi, obj := range doc.Objects {
		part := &Mesh{Vertices: make([]Vec3, len(obj.Vertices))}
		for i, v := range obj.Vertices {
			part.Vertices[i] = Vec3{v.X * scale, v.Y * scale, v.Z * scale}
		}
		for _, vol := range obj.Volumes {
			for _, t := range vol.Triangles {
				part.Faces = append(part.Faces, [3]int{t.V1, t.V2, t.V3})
			}
		}
		if err := part.validate(); err != nil {
			return nil, fmt.Errorf("amf object %d: %w", oi, err)
		}
		out.Append(part)
	}
	return out, nil
}

func unzipFirst(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening compressed amf: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("compressed amf is empty")
}
