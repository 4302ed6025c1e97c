package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Album aggregation statuses.
const (
	AlbumStatusPending   = "pending"
	AlbumStatusFinalized = "finalized"
)

// AlbumState tracks the aggregation of one media group. The media group id
// doubles as the document id. LastSeenAt moves forward with every member
// ingested and drives the finalize debounce.
type AlbumState struct {
	MediaGroupID string             `bson:"_id"`
	Status       string             `bson:"status"`
	FirstPostID  primitive.ObjectID `bson:"first_post_id"`
	CreatedAt    time.Time          `bson:"created_at"`
	LastSeenAt   time.Time          `bson:"last_seen_at"`
	FinalizedAt  *time.Time         `bson:"finalized_at,omitempty"`
}
