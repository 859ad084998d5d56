package records

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/print-slicer/backend/internal/models"
)

func TestMemoryStore_UpdateIsPartial(t *testing.T) {
	store := NewMemoryStore()
	store.Put(models.FileRecord{FileID: "f1", Name: "cube.stl", URL: "https://x/cube.stl", Status: models.FileStatusPending})
	ctx := context.Background()

	mass := 12.5
	require.NoError(t, store.Update(ctx, "f1", models.FilePatch{
		Status:     models.FileStatusSuccess,
		MassGrams:  &mass,
		Dimensions: &models.BoundingBox{X: 1, Y: 2, Z: 3},
	}))

	rec, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusSuccess, rec.Status)
	assert.Equal(t, "cube.stl", rec.Name, "untouched fields survive")
	assert.Equal(t, 12.5, rec.MassGrams)
	assert.Equal(t, 1, store.Updates("f1"))
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.Update(context.Background(), "missing", models.FilePatch{Status: models.FileStatusError})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRouter(t *testing.T) {
	dev, prod := NewMemoryStore(), NewMemoryStore()
	r := NewRouter("prod", map[string]Store{"dev": dev, "prod": prod})

	s, err := r.For("")
	require.NoError(t, err)
	assert.Same(t, prod, s)

	s, err = r.For("dev")
	require.NoError(t, err)
	assert.Same(t, dev, s)

	_, err = r.For("staging")
	assert.Error(t, err)
	assert.Equal(t, []string{"dev", "prod"}, r.Environments())
}

func TestPatchDocument(t *testing.T) {
	msg := "dimension X too large: measured 310mm, allowed 300mm"
	doc := patchDocument(models.FilePatch{Status: models.FileStatusError, Error: &msg})
	assert.Equal(t, bson.D{
		{Key: "file_status", Value: "error"},
		{Key: "file_error", Value: msg},
	}, doc)

	mass := 3.0
	doc = patchDocument(models.FilePatch{
		Status:    models.FileStatusSuccess,
		MassGrams: &mass,
		Pricing:   &models.PricingTiers{Good: 1},
	})
	require.Len(t, doc, 3)
	assert.Equal(t, "mass_in_grams", doc[1].Key)
	assert.Equal(t, "pricing", doc[2].Key)
}
