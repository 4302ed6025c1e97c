package database

import (
	"context"
	"errors"

	"tgvk-repost-bot/internal/database/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("database: not found")

// ErrAlreadyExists is returned when a uniqueness constraint rejected an
// insert. It is an expected outcome for duplicate ingestion and duplicate
// publish attempts, not a fault.
var ErrAlreadyExists = errors.New("database: already exists")

// PostRepository stores posts and their media items.
type PostRepository interface {
	// CreatePost inserts post with its media items. If a post with the same
	// (channel_id, message_id) already exists, the existing post is loaded
	// into post, no media is written, and created is false.
	CreatePost(ctx context.Context, post *models.Post, items []models.MediaItem) (created bool, err error)
	GetPost(ctx context.Context, id primitive.ObjectID) (*models.Post, error)
	GetPostByChannelMessage(ctx context.Context, channelID, messageID int64) (*models.Post, error)
	// ListAlbumPosts returns all posts of an album group ordered by message id.
	ListAlbumPosts(ctx context.Context, mediaGroupID string) ([]models.Post, error)
	ListRecentPosts(ctx context.Context, limit int) ([]models.Post, error)
	// ListMediaForPosts returns the media items of the given posts ordered by
	// (post_id, order_index).
	ListMediaForPosts(ctx context.Context, postIDs []primitive.ObjectID) ([]models.MediaItem, error)
	SetPostStatus(ctx context.Context, id primitive.ObjectID, status string) error
}

// AlbumRepository stores per-album debounce state.
type AlbumRepository interface {
	// Touch creates the album state in pending on first sight and refreshes
	// last_seen_at on every subsequent item. It never regresses a finalized
	// status.
	Touch(ctx context.Context, mediaGroupID string, firstPostID primitive.ObjectID) (*models.AlbumState, error)
	Get(ctx context.Context, mediaGroupID string) (*models.AlbumState, error)
	MarkFinalized(ctx context.Context, mediaGroupID string) error
}

// PublishRepository stores publish records.
type PublishRepository interface {
	// Create inserts a publish record. A duplicate for the same post returns
	// ErrAlreadyExists, which callers treat as success-no-op.
	Create(ctx context.Context, record *models.PublishRecord) error
	GetByPostID(ctx context.Context, postID primitive.ObjectID) (*models.PublishRecord, error)
}

// JobRepository is the orchestration job ledger.
type JobRepository interface {
	Create(ctx context.Context, kind, status string, postID *primitive.ObjectID, mediaGroupID string) (primitive.ObjectID, error)
	// Update mutates status and optionally retries/last error. Unknown ids
	// are a silent no-op.
	Update(ctx context.Context, id primitive.ObjectID, status string, retries *int, lastError string) error
	ListRecentErrors(ctx context.Context, limit int) ([]models.Job, error)
	ListFailed(ctx context.Context, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// SettingsRepository stores string key-value settings.
type SettingsRepository interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// GetDefault returns the value for key, or fallback if the key is absent.
	GetDefault(ctx context.Context, key, fallback string) (string, error)
	Set(ctx context.Context, key, value string) error
}
