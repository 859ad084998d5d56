package dimensions

import (
	"testing"

	"github.com/print-slicer/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCheck(t *testing.T) {
	limits := models.DimensionLimits{X: 300, Y: 300, Z: 300}

	tests := []struct {
		name     string
		box      models.BoundingBox
		wantAxis string
		wantMsg  string
	}{
		{"fits", models.BoundingBox{X: 100, Y: 200, Z: 300}, "", ""},
		{"x over", models.BoundingBox{X: 310, Y: 200, Z: 200}, "X", "dimension X too large: measured 310mm, allowed 300mm"},
		{"y over", models.BoundingBox{X: 10, Y: 300.5, Z: 20}, "Y", "dimension Y too large: measured 300.5mm, allowed 300mm"},
		{"z over", models.BoundingBox{X: 10, Y: 10, Z: 999}, "Z", "dimension Z too large: measured 999mm, allowed 300mm"},
		{"y and z over reports y", models.BoundingBox{X: 10, Y: 400, Z: 500}, "Y", "dimension Y too large: measured 400mm, allowed 300mm"},
		{"all over reports x", models.BoundingBox{X: 301, Y: 302, Z: 303}, "X", "dimension X too large: measured 301mm, allowed 300mm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(tt.box, limits)
			if tt.wantAxis == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.wantAxis, v.Axis)
			assert.Equal(t, tt.wantMsg, v.Error())
		})
	}
}

func TestCheck_UnsetLimitUsesDefault(t *testing.T) {
	v := Check(models.BoundingBox{X: 301}, models.DimensionLimits{})
	require.NotNil(t, v)
	assert.Equal(t, DefaultLimit, v.Allowed)
}

func TestCheck_MessageNamesOnlyReportedAxis(t *testing.T) {
	v := Check(models.BoundingBox{X: 350, Y: 420, Z: 10}, models.DimensionLimits{X: 300, Y: 400, Z: 300})
	require.NotNil(t, v)
	assert.NotContains(t, v.Error(), "420")
	assert.NotContains(t, v.Error(), "400")
}

func TestCheck_FirstViolationInAxisOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limits := models.DimensionLimits{
			X: rapid.Float64Range(1, 500).Draw(rt, "lx"),
			Y: rapid.Float64Range(1, 500).Draw(rt, "ly"),
			Z: rapid.Float64Range(1, 500).Draw(rt, "lz"),
		}
		box := models.BoundingBox{
			X: rapid.Float64Range(0, 600).Draw(rt, "x"),
			Y: rapid.Float64Range(0, 600).Draw(rt, "y"),
			Z: rapid.Float64Range(0, 600).Draw(rt, "z"),
		}

		var want string
		switch {
		case box.X > limits.X:
			want = "X"
		case box.Y > limits.Y:
			want = "Y"
		case box.Z > limits.Z:
			want = "Z"
		}

		v := Check(box, limits)
		if want == "" {
			require.Nil(rt, v)
			return
		}
		require.NotNil(rt, v)
		require.Equal(rt, want, v.Axis)
	})
}

func TestResolve(t *testing.T) {
	static := models.DimensionLimits{X: 250, Y: 250, Z: 250}
	settings := models.DimensionLimits{X: 280}

	assert.Equal(t, models.DimensionLimits{X: 280, Y: 250, Z: 250}, Resolve(nil, settings, static))
	assert.Equal(t,
		models.DimensionLimits{X: 280, Y: 100, Z: 250},
		Resolve(&models.DimensionLimits{Y: 100}, settings, static))
	assert.Equal(t, DefaultLimits(), Resolve(nil, models.DimensionLimits{}, models.DimensionLimits{}))
}
