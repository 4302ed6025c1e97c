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

// MongoJobRepository implements JobRepository for MongoDB.
type MongoJobRepository struct {
	collection *mongo.Collection
}

func NewMongoJobRepository(db *mongo.Database) *MongoJobRepository {
	return &MongoJobRepository{collection: db.Collection(jobCollection)}
}

func (r *MongoJobRepository) Create(ctx context.Context, kind, status string, postID *primitive.ObjectID, mediaGroupID string) (primitive.ObjectID, error) {
	now := time.Now().UTC()
	job := models.Job{
		ID:           primitive.NewObjectID(),
		Kind:         kind,
		Status:       status,
		PostID:       postID,
		MediaGroupID: mediaGroupID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.collection.InsertOne(ctx, job); err != nil {
		return primitive.NilObjectID, fmt.Errorf("failed to insert job: %w", err)
	}
	return job.ID, nil
}

// Update sets the job status and optional retry/error fields. An unknown id
// is a silent no-op.
func (r *MongoJobRepository) Update(ctx context.Context, id primitive.ObjectID, status string, retries *int, lastError string) error {
	set := bson.M{"status": status, "updated_at": time.Now().UTC()}
	if retries != nil {
		set["retries"] = *retries
	}
	if lastError != "" {
		set["last_error"] = lastError
	}
	if _, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id.Hex(), err)
	}
	return nil
}

func (r *MongoJobRepository) ListRecentErrors(ctx context.Context, limit int) ([]models.Job, error) {
	filter := bson.M{"status": models.JobStatusFailed, "last_error": bson.M{"$exists": true, "$ne": ""}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find job errors: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []models.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode job errors: %w", err)
	}
	return jobs, nil
}

// ListFailed returns the most recent failed jobs regardless of whether they
// carry an error message. Used by the manual requeue command.
func (r *MongoJobRepository) ListFailed(ctx context.Context, limit int) ([]models.Job, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.M{"status": models.JobStatusFailed}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find failed jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []models.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode failed jobs: %w", err)
	}
	return jobs, nil
}

func (r *MongoJobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode job counts: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
