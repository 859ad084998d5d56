package slicer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/print-slicer/backend/internal/models"
)

// DefaultDensity is the density of PLA in g/cm³.
const DefaultDensity = 1.25

const number = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`

var markers = []struct {
	name string
	re   *regexp.Regexp
}{
	{"volume", regexp.MustCompile(`(?m)^\s*volume\s*=\s*` + number)},
	{"size_x", regexp.MustCompile(`(?m)^\s*size_x\s*=\s*` + number)},
	{"size_y", regexp.MustCompile(`(?m)^\s*size_y\s*=\s*` + number)},
	{"size_z", regexp.MustCompile(`(?m)^\s*size_z\s*=\s*` + number)},
}

// Output is what the engine reports about a sliced model.
type Output struct {
	VolumeMM3 float64            `json:"volumeMm3"`
	Box       models.BoundingBox `json:"box"`
}

// MassGrams converts the reported volume to grams at the given density.
func (o Output) MassGrams(density float64) float64 {
	if density <= 0 {
		density = DefaultDensity
	}
	return o.VolumeMM3 / 1000 * density
}

// MissingMarkersError lists markers absent from engine output.
type MissingMarkersError struct {
	Missing []string
}

func (e *MissingMarkersError) Error() string {
	return "engine output missing " + strings.Join(e.Missing, ", ")
}

// ParseOutput extracts volume and bounding box from engine --info text.
// All four markers must be present.
func ParseOutput(text string) (Output, error) {
	values := make(map[string]float64, len(markers))
	var missing []string
	for _, m := range markers {
		match := m.re.FindStringSubmatch(text)
		if match == nil {
			missing = append(missing, m.name)
			continue
		}
		v, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return Output{}, fmt.Errorf("parsing %s %q: %w", m.name, match[1], err)
		}
		values[m.name] = v
	}
	if len(missing) > 0 {
		return Output{}, &MissingMarkersError{Missing: missing}
	}
	return Output{
		VolumeMM3: values["volume"],
		Box: models.BoundingBox{
			X: values["size_x"],
			Y: values["size_y"],
			Z: values["size_z"],
		},
	}, nil
}
