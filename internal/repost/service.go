package repost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/lock"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/packer"
	"tgvk-repost-bot/internal/queue"
	"tgvk-repost-bot/internal/vk"
)

const albumLockTTL = 2 * time.Minute

// MediaTransferrer moves a post's media to the destination platform.
type MediaTransferrer interface {
	Transfer(ctx context.Context, items []models.MediaItem, maxBytes int64) (attachments, notes []string, err error)
}

// WallPoster publishes one wall post.
type WallPoster interface {
	PostToWall(ctx context.Context, groupID int64, message string, attachments []string) (*vk.WallPostResponse, error)
}

// Scheduler re-enqueues a task after a delay. Implemented by queue.Queue.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, task queue.Task) error
}

// Notifier delivers operator-facing messages best effort.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Service executes the repost tasks. Each task run opens a job row, does its
// work idempotently and closes the row on every path.
type Service struct {
	cfg       *config.Config
	posts     database.PostRepository
	albums    database.AlbumRepository
	publishes database.PublishRepository
	jobs      database.JobRepository
	settings  database.SettingsRepository
	locker    *lock.Locker
	media     MediaTransferrer
	wall      WallPoster
	scheduler Scheduler
	notifier  Notifier
	now       func() time.Time
	log       *logrus.Entry
}

type ServiceDeps struct {
	Config    *config.Config
	Posts     database.PostRepository
	Albums    database.AlbumRepository
	Publishes database.PublishRepository
	Jobs      database.JobRepository
	Settings  database.SettingsRepository
	Locker    *lock.Locker
	Media     MediaTransferrer
	Wall      WallPoster
	Scheduler Scheduler
	Notifier  Notifier
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		cfg:       deps.Config,
		posts:     deps.Posts,
		albums:    deps.Albums,
		publishes: deps.Publishes,
		jobs:      deps.Jobs,
		settings:  deps.Settings,
		locker:    deps.Locker,
		media:     deps.Media,
		wall:      deps.Wall,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		now:       time.Now,
		log:       logger.WithField("component", "repost_service"),
	}
}

// HandleTask dispatches a queue task to its operation. Used as the worker
// handler.
func (s *Service) HandleTask(ctx context.Context, task queue.Task) error {
	switch task.Kind {
	case queue.TaskRepostSingle:
		postID, err := primitive.ObjectIDFromHex(task.PostID)
		if err != nil {
			s.log.WithField("post_id", task.PostID).Error("Dropping task with malformed post id")
			return nil
		}
		return s.RepostSingle(ctx, postID)
	case queue.TaskFinalizeAlbum:
		if task.MediaGroupID == "" {
			s.log.Error("Dropping finalize task without media group id")
			return nil
		}
		return s.FinalizeAlbum(ctx, task.MediaGroupID)
	default:
		s.log.WithField("kind", task.Kind).Error("Dropping task of unknown kind")
		return nil
	}
}

// RepostSingle publishes one standalone post to the destination wall.
// Posts that are album members are left for FinalizeAlbum.
func (s *Service) RepostSingle(ctx context.Context, postID primitive.ObjectID) error {
	jobID, err := s.jobs.Create(ctx, models.JobKindRepostSingle, models.JobStatusRunning, &postID, "")
	if err != nil {
		return fmt.Errorf("opening job row: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"job_id": jobID.Hex(), "post_id": postID.Hex()})

	rt, err := LoadRuntime(ctx, s.settings, s.cfg)
	if err != nil {
		return s.failJob(ctx, jobID, fmt.Errorf("loading runtime settings: %w", err))
	}

	post, err := s.posts.GetPost(ctx, postID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn("Post not found, closing job")
		s.closeJob(ctx, jobID, models.JobStatusFailed, "post not found")
		return nil
	}
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	if _, err := s.publishes.GetByPostID(ctx, postID); err == nil {
		log.Info("Post already published, skipping")
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "already posted")
		return nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return s.failJob(ctx, jobID, err)
	}

	if post.MediaGroupID != "" {
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "album item; waiting for finalize")
		return nil
	}

	items, err := s.posts.ListMediaForPosts(ctx, []primitive.ObjectID{postID})
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	attachments, notes, err := s.media.Transfer(ctx, items, rt.MaxMediaBytes)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	if len(attachments) == 0 && len(notes) == 0 && strings.TrimSpace(post.Text) == "" {
		log.Info("Nothing to publish for empty post")
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "empty post")
		return nil
	}

	permalink := BuildPermalink(post.Payload, post.ChannelID, post.MessageID)
	calls := packer.Pack(packer.Input{
		Text:        post.Text,
		Attachments: attachments,
		Notes:       notes,
		Permalink:   permalink,
		Strategy:    rt.LimitStrategy,
		Cap:         packer.DefaultCap,
	})

	outcome, err := s.publishCalls(ctx, rt.VKGroupID, calls)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	record := &models.PublishRecord{
		PostID:          postID,
		VKOwnerID:       -rt.VKGroupID,
		VKPostIDs:       outcome.postIDs,
		AttachmentCount: outcome.attachments,
		Status:          models.PublishStatusSuccess,
		Responses:       outcome.responses,
	}
	if err := s.publishes.Create(ctx, record); err != nil && !errors.Is(err, database.ErrAlreadyExists) {
		return s.failJob(ctx, jobID, err)
	}
	if err := s.posts.SetPostStatus(ctx, postID, models.PostStatusPublished); err != nil {
		return s.failJob(ctx, jobID, err)
	}

	log.WithField("vk_post_ids", outcome.postIDs).Info("Post published")
	s.closeJob(ctx, jobID, models.JobStatusSuccess, "")
	return nil
}

// FinalizeAlbum combines all ingested members of a media group into one
// publication. The debounce re-check happens before the lock so a finalize
// that fires while members are still arriving reschedules cheaply.
func (s *Service) FinalizeAlbum(ctx context.Context, mediaGroupID string) error {
	jobID, err := s.jobs.Create(ctx, models.JobKindFinalizeAlbum, models.JobStatusRunning, nil, mediaGroupID)
	if err != nil {
		return fmt.Errorf("opening job row: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"job_id": jobID.Hex(), "media_group_id": mediaGroupID})

	rt, err := LoadRuntime(ctx, s.settings, s.cfg)
	if err != nil {
		return s.failJob(ctx, jobID, fmt.Errorf("loading runtime settings: %w", err))
	}

	state, err := s.albums.Get(ctx, mediaGroupID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn("No album state for finalize task")
		s.closeJob(ctx, jobID, models.JobStatusFailed, "unknown album")
		return nil
	}
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	if state.Status == models.AlbumStatusFinalized {
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "already finalized")
		return nil
	}

	if elapsed := s.now().Sub(state.LastSeenAt); elapsed < rt.DebounceWindow {
		remaining := rt.DebounceWindow - elapsed
		log.WithField("remaining", remaining.String()).Info("Album still settling, rescheduling finalize")
		task := queue.Task{Kind: queue.TaskFinalizeAlbum, MediaGroupID: mediaGroupID}
		if err := s.scheduler.ScheduleAfter(ctx, remaining, task); err != nil {
			return s.failJob(ctx, jobID, err)
		}
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "rescheduled")
		return nil
	}

	lease, err := s.locker.Acquire(ctx, "album:"+mediaGroupID, albumLockTTL, 0)
	if errors.Is(err, lock.ErrBusy) {
		log.Info("Album lock busy, another worker is finalizing")
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "lock busy, skipped")
		return nil
	}
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	defer lease.Release(ctx)

	// Re-check under the lock, a concurrent finalize may have won.
	state, err = s.albums.Get(ctx, mediaGroupID)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	if state.Status == models.AlbumStatusFinalized {
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "already finalized")
		return nil
	}

	members, err := s.posts.ListAlbumPosts(ctx, mediaGroupID)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	if len(members) == 0 {
		log.Warn("Album has no ingested posts")
		s.closeJob(ctx, jobID, models.JobStatusFailed, "no posts for album")
		return nil
	}

	for _, member := range members {
		if _, err := s.publishes.GetByPostID(ctx, member.ID); err == nil {
			log.Info("Album member already published, finalizing without posting")
			if err := s.albums.MarkFinalized(ctx, mediaGroupID); err != nil {
				return s.failJob(ctx, jobID, err)
			}
			s.closeJob(ctx, jobID, models.JobStatusSuccess, "already posted")
			return nil
		} else if !errors.Is(err, database.ErrNotFound) {
			return s.failJob(ctx, jobID, err)
		}
	}

	memberIDs := make([]primitive.ObjectID, len(members))
	messageIDByPost := make(map[primitive.ObjectID]int64, len(members))
	for i, member := range members {
		memberIDs[i] = member.ID
		messageIDByPost[member.ID] = member.MessageID
	}

	items, err := s.posts.ListMediaForPosts(ctx, memberIDs)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	sortAlbumMedia(items, messageIDByPost)

	text := ""
	for _, member := range members {
		if strings.TrimSpace(member.Text) != "" {
			text = member.Text
			break
		}
	}

	attachments, notes, err := s.media.Transfer(ctx, items, rt.MaxMediaBytes)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	if len(attachments) == 0 && len(notes) == 0 && strings.TrimSpace(text) == "" {
		log.Info("Nothing to publish for empty album")
		if err := s.albums.MarkFinalized(ctx, mediaGroupID); err != nil {
			return s.failJob(ctx, jobID, err)
		}
		s.closeJob(ctx, jobID, models.JobStatusSuccess, "empty album")
		return nil
	}

	first := members[0]
	permalink := BuildPermalink(first.Payload, first.ChannelID, first.MessageID)
	calls := packer.Pack(packer.Input{
		Text:        text,
		Attachments: attachments,
		Notes:       notes,
		Permalink:   permalink,
		Strategy:    rt.LimitStrategy,
		Cap:         packer.DefaultCap,
	})

	outcome, err := s.publishCalls(ctx, rt.VKGroupID, calls)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	if err := s.albums.MarkFinalized(ctx, mediaGroupID); err != nil {
		return s.failJob(ctx, jobID, err)
	}
	for _, member := range members {
		record := &models.PublishRecord{
			PostID:          member.ID,
			MediaGroupID:    mediaGroupID,
			VKOwnerID:       -rt.VKGroupID,
			VKPostIDs:       outcome.postIDs,
			AttachmentCount: outcome.attachments,
			Status:          models.PublishStatusSuccess,
			Responses:       outcome.responses,
		}
		if err := s.publishes.Create(ctx, record); err != nil && !errors.Is(err, database.ErrAlreadyExists) {
			return s.failJob(ctx, jobID, err)
		}
		if err := s.posts.SetPostStatus(ctx, member.ID, models.PostStatusPublished); err != nil {
			return s.failJob(ctx, jobID, err)
		}
	}

	log.WithFields(logrus.Fields{"members": len(members), "vk_post_ids": outcome.postIDs}).Info("Album published")
	s.closeJob(ctx, jobID, models.JobStatusSuccess, "")
	return nil
}

// publishOutcome is what a completed sequence of wall posts leaves behind
// for the publish records.
type publishOutcome struct {
	postIDs     []int64
	responses   [][]byte
	attachments int
}

// publishCalls posts each packed call in order and collects wall post ids
// and the raw responses.
func (s *Service) publishCalls(ctx context.Context, groupID int64, calls []packer.Call) (*publishOutcome, error) {
	out := &publishOutcome{postIDs: make([]int64, 0, len(calls))}
	for _, call := range calls {
		resp, err := s.wall.PostToWall(ctx, groupID, call.Message, call.Attachments)
		if err != nil {
			return nil, fmt.Errorf("posting to wall: %w", err)
		}
		out.postIDs = append(out.postIDs, resp.PostID)
		out.responses = append(out.responses, resp.Raw)
		out.attachments += len(call.Attachments)
	}
	return out, nil
}

// sortAlbumMedia orders items by the member message order, then by their
// position within each message.
func sortAlbumMedia(items []models.MediaItem, messageIDByPost map[primitive.ObjectID]int64) {
	sort.SliceStable(items, func(i, j int) bool {
		mi, mj := messageIDByPost[items[i].PostID], messageIDByPost[items[j].PostID]
		if mi != mj {
			return mi < mj
		}
		return items[i].OrderIndex < items[j].OrderIndex
	})
}

// failJob closes the job row as failed, notifies the operators and returns
// the error to the worker loop.
func (s *Service) failJob(ctx context.Context, jobID primitive.ObjectID, taskErr error) error {
	s.closeJob(ctx, jobID, models.JobStatusFailed, taskErr.Error())
	if s.notifier != nil {
		s.notifier.Notify(ctx, fmt.Sprintf("Repost task failed: %v", taskErr))
	}
	return taskErr
}

func (s *Service) closeJob(ctx context.Context, jobID primitive.ObjectID, status, note string) {
	if err := s.jobs.Update(ctx, jobID, status, nil, note); err != nil {
		s.log.WithError(err).WithField("job_id", jobID.Hex()).Error("Failed to close job row")
	}
}
