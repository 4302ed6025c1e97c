package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/queue"
	"tgvk-repost-bot/internal/repost"
)

// Media is one attachment of an incoming channel message.
type Media struct {
	Kind     string
	FileID   string
	FileName string
	MimeType string
	FileSize int64
}

// Event is a normalized channel message ready for ingestion. Payload carries
// the raw update JSON for later permalink derivation.
type Event struct {
	ChannelID    int64
	MessageID    int64
	Date         time.Time
	Text         string
	MediaGroupID string
	Media        []Media
	Payload      []byte
}

// Validate checks the fields ingestion cannot proceed without.
func (e Event) Validate() error {
	if e.ChannelID == 0 {
		return fmt.Errorf("event has no channel id")
	}
	if e.MessageID == 0 {
		return fmt.Errorf("event has no message id")
	}
	return nil
}

// Enqueuer is the queue surface ingestion needs. Implemented by queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
	ScheduleAfter(ctx context.Context, delay time.Duration, task queue.Task) error
}

// Service records incoming channel messages and schedules publish tasks.
type Service struct {
	cfg      *config.Config
	posts    database.PostRepository
	albums   database.AlbumRepository
	settings database.SettingsRepository
	queue    Enqueuer
	log      *logrus.Entry
}

func NewService(cfg *config.Config, posts database.PostRepository, albums database.AlbumRepository, settings database.SettingsRepository, q Enqueuer) *Service {
	return &Service{
		cfg:      cfg,
		posts:    posts,
		albums:   albums,
		settings: settings,
		queue:    q,
		log:      logger.WithField("component", "ingest"),
	}
}

// HandleEvent persists the message and, when autoposting is on, enqueues the
// matching publish task. A redelivered message is detected through the
// unique (channel_id, message_id) index and ignored.
func (s *Service) HandleEvent(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		s.log.WithError(err).Warn("Dropping invalid event")
		return nil
	}
	log := s.log.WithFields(logrus.Fields{
		"channel_id": event.ChannelID,
		"message_id": event.MessageID,
	})

	rt, err := repost.LoadRuntime(ctx, s.settings, s.cfg)
	if err != nil {
		return fmt.Errorf("loading runtime settings: %w", err)
	}
	if !sourceAllowed(rt.SourceChannelIDs, event.ChannelID) {
		log.Debug("Ignoring message from channel outside the source list")
		return nil
	}

	post := &models.Post{
		ChannelID:    event.ChannelID,
		MessageID:    event.MessageID,
		MediaGroupID: event.MediaGroupID,
		Text:         event.Text,
		Payload:      event.Payload,
	}
	items := make([]models.MediaItem, len(event.Media))
	for i, m := range event.Media {
		items[i] = models.MediaItem{
			Kind:       m.Kind,
			FileID:     m.FileID,
			FileName:   m.FileName,
			MimeType:   m.MimeType,
			FileSize:   m.FileSize,
			OrderIndex: i,
		}
	}

	created, err := s.posts.CreatePost(ctx, post, items)
	if err != nil {
		return fmt.Errorf("recording post: %w", err)
	}
	if !created {
		log.Info("Duplicate message, already ingested")
		// Record the ignored redelivery on the stored row. Posts that have
		// already advanced past ingestion keep their status.
		if post.Status == models.PostStatusIngested {
			if err := s.posts.SetPostStatus(ctx, post.ID, models.PostStatusDuplicateIgnore); err != nil {
				return fmt.Errorf("marking duplicate post: %w", err)
			}
		}
		return nil
	}

	if event.MediaGroupID != "" {
		if _, err := s.albums.Touch(ctx, event.MediaGroupID, post.ID); err != nil {
			return fmt.Errorf("touching album state: %w", err)
		}
		if rt.Autopost() {
			task := queue.Task{Kind: queue.TaskFinalizeAlbum, MediaGroupID: event.MediaGroupID}
			if err := s.queue.ScheduleAfter(ctx, rt.DebounceWindow, task); err != nil {
				return fmt.Errorf("scheduling album finalize: %w", err)
			}
		}
		log.WithField("media_group_id", event.MediaGroupID).Info("Album member ingested")
		return nil
	}

	if rt.Autopost() {
		task := queue.Task{Kind: queue.TaskRepostSingle, PostID: post.ID.Hex()}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueueing repost: %w", err)
		}
	}
	log.Info("Post ingested")
	return nil
}

// sourceAllowed checks the channel allowlist. An empty list allows any
// channel the bot can see.
func sourceAllowed(allowed []int64, channelID int64) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, id := range allowed {
		if id == channelID {
			return true
		}
	}
	return false
}
