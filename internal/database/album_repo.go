package database

import (
	"context"
	"fmt"
	"time"

	"tgvk-repost-bot/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAlbumRepository implements AlbumRepository for MongoDB.
type MongoAlbumRepository struct {
	collection *mongo.Collection
}

func NewMongoAlbumRepository(db *mongo.Database) *MongoAlbumRepository {
	return &MongoAlbumRepository{collection: db.Collection(albumCollection)}
}

// Touch upserts the album state. The status is written only on insert, so an
// already-finalized album keeps its status while last_seen_at refreshes.
func (r *MongoAlbumRepository) Touch(ctx context.Context, mediaGroupID string, firstPostID primitive.ObjectID) (*models.AlbumState, error) {
	now := time.Now().UTC()
	filter := bson.M{"_id": mediaGroupID}
	update := bson.M{
		"$set": bson.M{"last_seen_at": now},
		"$setOnInsert": bson.M{
			"status":        models.AlbumStatusPending,
			"first_post_id": firstPostID,
			"created_at":    now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var state models.AlbumState
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to touch album state %s: %w", mediaGroupID, err)
	}
	return &state, nil
}

func (r *MongoAlbumRepository) Get(ctx context.Context, mediaGroupID string) (*models.AlbumState, error) {
	var state models.AlbumState
	err := r.collection.FindOne(ctx, bson.M{"_id": mediaGroupID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find album state %s: %w", mediaGroupID, err)
	}
	return &state, nil
}

func (r *MongoAlbumRepository) MarkFinalized(ctx context.Context, mediaGroupID string) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"status":       models.AlbumStatusFinalized,
		"finalized_at": now,
	}}
	_, err := r.collection.UpdateByID(ctx, mediaGroupID, update)
	if err != nil {
		return fmt.Errorf("failed to finalize album state %s: %w", mediaGroupID, err)
	}
	return nil
}
