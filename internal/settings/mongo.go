package settings

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pricing"
)

// DefaultCollection holds the single configuration document.
const DefaultCollection = "configs"

type configDocument struct {
	SpoolPrice float64                `bson:"spool_price"`
	Margin     float64                `bson:"profit_margin"`
	Surcharge  *float64               `bson:"surcharge"`
	Limits     models.DimensionLimits `bson:"dimensionConfig"`
}

// MongoSource reads the first document of the configs collection.
type MongoSource struct {
	coll *mongo.Collection
}

// NewMongoSource wraps the named collection of db.
func NewMongoSource(db *mongo.Database, collection string) *MongoSource {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoSource{coll: db.Collection(collection)}
}

func (m *MongoSource) Current(ctx context.Context) (Settings, error) {
	var doc configDocument
	err := m.coll.FindOne(ctx, bson.D{}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Settings{}, errors.New("no configuration document")
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading configuration: %w", err)
	}
	return doc.settings(), nil
}

func (d configDocument) settings() Settings {
	s := Settings{
		Pricing: pricing.Inputs{
			SpoolPrice: d.SpoolPrice,
			Margin:     d.Margin,
		},
		Limits: d.Limits,
	}
	if d.Surcharge != nil {
		s.Pricing.Surcharge = *d.Surcharge
		s.SurchargeSet = true
	}
	return s
}
