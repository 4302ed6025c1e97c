package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Post lifecycle statuses.
const (
	PostStatusIngested        = "ingested"
	PostStatusPublished       = "published"
	PostStatusDuplicateIgnore = "duplicate_ignored"
)

// Media kinds mirrored from the source messages.
const (
	MediaKindPhoto    = "photo"
	MediaKindVideo    = "video"
	MediaKindDocument = "document"
)

// Post is a single channel message recorded at ingestion time. Payload keeps
// the raw update JSON so later stages can recover details (such as the
// channel username for permalinks) without another API call.
type Post struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	ChannelID    int64              `bson:"channel_id"`
	MessageID    int64              `bson:"message_id"`
	MediaGroupID string             `bson:"media_group_id,omitempty"`
	Text         string             `bson:"text,omitempty"`
	Status       string             `bson:"status"`
	Payload      []byte             `bson:"payload,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

// MediaItem is one attachment of a post. OrderIndex preserves the attachment
// order within the original message.
type MediaItem struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	PostID     primitive.ObjectID `bson:"post_id"`
	Kind       string             `bson:"kind"`
	FileID     string             `bson:"file_id"`
	FileName   string             `bson:"file_name,omitempty"`
	MimeType   string             `bson:"mime_type,omitempty"`
	FileSize   int64              `bson:"file_size,omitempty"`
	OrderIndex int                `bson:"order_index"`
	CreatedAt  time.Time          `bson:"created_at"`
}
