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

// MongoPostRepository implements PostRepository for MongoDB.
type MongoPostRepository struct {
	posts *mongo.Collection
	media *mongo.Collection
}

func NewMongoPostRepository(db *mongo.Database) *MongoPostRepository {
	return &MongoPostRepository{
		posts: db.Collection(postCollection),
		media: db.Collection(mediaCollection),
	}
}

// CreatePost inserts the post and its media items. Concurrent duplicate
// ingestion of the same (channel_id, message_id) resolves through the unique
// index: the loser reads the winning row back and writes no media.
func (r *MongoPostRepository) CreatePost(ctx context.Context, post *models.Post, items []models.MediaItem) (bool, error) {
	now := time.Now().UTC()
	post.ID = primitive.NewObjectID()
	if post.Status == "" {
		post.Status = models.PostStatusIngested
	}
	post.CreatedAt = now
	post.UpdatedAt = now

	_, err := r.posts.InsertOne(ctx, post)
	if mongo.IsDuplicateKeyError(err) {
		existing, lookupErr := r.GetPostByChannelMessage(ctx, post.ChannelID, post.MessageID)
		if lookupErr != nil {
			return false, fmt.Errorf("failed to read back duplicate post: %w", lookupErr)
		}
		*post = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert post: %w", err)
	}

	if len(items) > 0 {
		docs := make([]interface{}, 0, len(items))
		for i := range items {
			items[i].ID = primitive.NewObjectID()
			items[i].PostID = post.ID
			items[i].CreatedAt = now
			docs = append(docs, items[i])
		}
		if _, err := r.media.InsertMany(ctx, docs); err != nil {
			return true, fmt.Errorf("failed to insert media items: %w", err)
		}
	}
	return true, nil
}

func (r *MongoPostRepository) GetPost(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	var post models.Post
	err := r.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post %s: %w", id.Hex(), err)
	}
	return &post, nil
}

func (r *MongoPostRepository) GetPostByChannelMessage(ctx context.Context, channelID, messageID int64) (*models.Post, error) {
	var post models.Post
	filter := bson.M{"channel_id": channelID, "message_id": messageID}
	err := r.posts.FindOne(ctx, filter).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post %d/%d: %w", channelID, messageID, err)
	}
	return &post, nil
}

func (r *MongoPostRepository) ListAlbumPosts(ctx context.Context, mediaGroupID string) ([]models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "message_id", Value: 1}})
	cursor, err := r.posts.Find(ctx, bson.M{"media_group_id": mediaGroupID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find album posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []models.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode album posts: %w", err)
	}
	return posts, nil
}

func (r *MongoPostRepository) ListRecentPosts(ctx context.Context, limit int) ([]models.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.posts.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []models.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode recent posts: %w", err)
	}
	return posts, nil
}

func (r *MongoPostRepository) ListMediaForPosts(ctx context.Context, postIDs []primitive.ObjectID) ([]models.MediaItem, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "post_id", Value: 1}, {Key: "order_index", Value: 1}})
	cursor, err := r.media.Find(ctx, bson.M{"post_id": bson.M{"$in": postIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find media items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.MediaItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode media items: %w", err)
	}
	return items, nil
}

func (r *MongoPostRepository) SetPostStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}}
	_, err := r.posts.UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("failed to update post status: %w", err)
	}
	return nil
}
