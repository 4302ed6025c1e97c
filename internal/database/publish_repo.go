package database

import (
	"context"
	"fmt"
	"time"

	"tgvk-repost-bot/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoPublishRepository implements PublishRepository for MongoDB.
type MongoPublishRepository struct {
	collection *mongo.Collection
}

func NewMongoPublishRepository(db *mongo.Database) *MongoPublishRepository {
	return &MongoPublishRepository{collection: db.Collection(publishCollection)}
}

// Create inserts the publish record. The unique index on post_id turns a
// duplicate insert into ErrAlreadyExists so callers can treat it as a no-op.
func (r *MongoPublishRepository) Create(ctx context.Context, record *models.PublishRecord) error {
	record.ID = primitive.NewObjectID()
	record.CreatedAt = time.Now().UTC()

	_, err := r.collection.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert publish record: %w", err)
	}
	return nil
}

func (r *MongoPublishRepository) GetByPostID(ctx context.Context, postID primitive.ObjectID) (*models.PublishRecord, error) {
	var record models.PublishRecord
	err := r.collection.FindOne(ctx, bson.M{"post_id": postID}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find publish record for post %s: %w", postID.Hex(), err)
	}
	return &record, nil
}
