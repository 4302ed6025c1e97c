package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PublishStatusSuccess is the only status written today; the field exists so
// a partial multi-call publish can be recorded distinctly later.
const PublishStatusSuccess = "success"

// PublishRecord marks a post as published on the destination wall. The
// unique index on post_id makes insertion the idempotency gate: only one
// worker can ever record a publish for a given post.
type PublishRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	PostID          primitive.ObjectID `bson:"post_id"`
	MediaGroupID    string             `bson:"media_group_id,omitempty"`
	VKOwnerID       int64              `bson:"vk_owner_id"`
	VKPostIDs       []int64            `bson:"vk_post_ids"`
	AttachmentCount int                `bson:"attachment_count"`
	Status          string             `bson:"status"`
	Responses       [][]byte           `bson:"responses,omitempty"`
	CreatedAt       time.Time          `bson:"created_at"`
}
