package database

import (
	"context"
	"fmt"
	"log"

	"tgvk-repost-bot/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	postCollection    = "posts"
	mediaCollection   = "media_items"
	albumCollection   = "album_states"
	publishCollection = "publish_records"
	jobCollection     = "jobs"
	settingCollection = "settings"
)

// ConnectDB establishes a connection to MongoDB using the provided
// configuration. It returns the client, the database object, and an error if
// the connection or the ping fails.
func ConnectDB(ctx context.Context, cfg *config.Config) (*mongo.Client, *mongo.Database, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(cfg.MongoDBURI).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	var result bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Decode(&result); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	log.Println("Successfully connected and pinged MongoDB!")

	db := client.Database(cfg.MongoDBDatabase)

	if err := ensureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return client, db, nil
}

// ensureIndexes creates the uniqueness constraints the orchestration logic
// relies on: one post per (channel_id, message_id) and one publish record per
// post.
func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(postCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_channel_message"),
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(postCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "media_group_id", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(mediaCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "order_index", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(publishCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "post_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_publish_post"),
	})
	return err
}
