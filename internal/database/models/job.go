package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Job kinds.
const (
	JobKindRepostSingle  = "repost_single"
	JobKindFinalizeAlbum = "finalize_album"
)

// Job statuses.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// Job is one ledger entry per task invocation. LastError holds the failure
// reason, or a short note for runs that succeeded by skipping work.
type Job struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty"`
	Kind         string              `bson:"kind"`
	Status       string              `bson:"status"`
	PostID       *primitive.ObjectID `bson:"post_id,omitempty"`
	MediaGroupID string              `bson:"media_group_id,omitempty"`
	Retries      int                 `bson:"retries,omitempty"`
	LastError    string              `bson:"last_error,omitempty"`
	CreatedAt    time.Time           `bson:"created_at"`
	UpdatedAt    time.Time           `bson:"updated_at"`
}
