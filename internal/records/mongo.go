package records

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/print-slicer/backend/internal/models"
)

// DefaultCollection is the collection holding file records.
const DefaultCollection = "files"

// MongoStore implements Store on a MongoDB collection keyed by "fileid".
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wraps the named collection of db.
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

func (s *MongoStore) Get(ctx context.Context, fileID string) (*models.FileRecord, error) {
	var rec models.FileRecord
	err := s.coll.FindOne(ctx, bson.D{{Key: "fileid", Value: fileID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding file %s: %w", fileID, err)
	}
	return &rec, nil
}

func (s *MongoStore) Update(ctx context.Context, fileID string, patch models.FilePatch) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "fileid", Value: fileID}},
		bson.D{{Key: "$set", Value: patchDocument(patch)}})
	if err != nil {
		return fmt.Errorf("updating file %s: %w", fileID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", fileID, ErrNotFound)
	}
	return nil
}

func patchDocument(p models.FilePatch) bson.D {
	set := bson.D{{Key: "file_status", Value: string(p.Status)}}
	if p.Error != nil {
		set = append(set, bson.E{Key: "file_error", Value: *p.Error})
	}
	if p.MassGrams != nil {
		set = append(set, bson.E{Key: "mass_in_grams", Value: *p.MassGrams})
	}
	if p.Dimensions != nil {
		set = append(set, bson.E{Key: "dimensions", Value: *p.Dimensions})
	}
	if p.Pricing != nil {
		set = append(set, bson.E{Key: "pricing", Value: *p.Pricing})
	}
	return set
}
