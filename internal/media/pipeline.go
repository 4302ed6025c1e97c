package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/logger"
)

// ErrOversize is returned by a Fetcher when the file exceeds the configured
// size limit. The pipeline turns it into a note instead of failing the post.
var ErrOversize = errors.New("media: file exceeds size limit")

// Fetcher downloads a media item to a local temp file and returns its path.
// The caller owns the file and removes it when done.
type Fetcher interface {
	Fetch(ctx context.Context, item models.MediaItem, maxBytes int64) (string, error)
}

// Uploader turns a local file into a wall attachment id. Implemented by
// vk.WallUploader.
type Uploader interface {
	UploadPhoto(ctx context.Context, path string) (string, error)
	UploadDocument(ctx context.Context, path string) (string, error)
	UploadVideo(ctx context.Context, path, name string) (string, error)
}

// Pipeline moves media from the source platform to the destination, one
// item at a time. Items that cannot be transferred for a predictable reason
// (unsupported kind, oversize file) are skipped with a note; transport and
// upload failures abort the transfer so the task can retry.
type Pipeline struct {
	fetcher  Fetcher
	uploader Uploader
	log      *logrus.Entry
}

func NewPipeline(fetcher Fetcher, uploader Uploader) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		uploader: uploader,
		log:      logger.WithField("component", "media_pipeline"),
	}
}

// Transfer processes items in order and returns attachment ids plus
// human-readable notes about skipped items.
func (p *Pipeline) Transfer(ctx context.Context, items []models.MediaItem, maxBytes int64) ([]string, []string, error) {
	var attachments []string
	var notes []string

	for _, item := range items {
		attachment, note, err := p.transferOne(ctx, item, maxBytes)
		if err != nil {
			return nil, nil, err
		}
		if note != "" {
			notes = append(notes, note)
		}
		if attachment != "" {
			attachments = append(attachments, attachment)
		}
	}
	return attachments, notes, nil
}

func (p *Pipeline) transferOne(ctx context.Context, item models.MediaItem, maxBytes int64) (string, string, error) {
	switch item.Kind {
	case models.MediaKindPhoto, models.MediaKindVideo, models.MediaKindDocument:
	default:
		p.log.WithField("kind", item.Kind).Warn("Skipping unsupported media kind")
		return "", fmt.Sprintf("Skipped unsupported type: %s", item.Kind), nil
	}

	path, err := p.fetcher.Fetch(ctx, item, maxBytes)
	if errors.Is(err, ErrOversize) {
		p.log.WithFields(logrus.Fields{"kind": item.Kind, "file_id": item.FileID}).Warn("Skipping oversize media item")
		return "", fmt.Sprintf("Skipped %s: exceeds %dMB", item.Kind, maxBytes/(1024*1024)), nil
	}
	if err != nil {
		return "", "", fmt.Errorf("fetching %s %s: %w", item.Kind, item.FileID, err)
	}
	defer func() {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			p.log.WithError(removeErr).Warn("Failed to remove temp media file")
		}
	}()

	var attachment string
	switch item.Kind {
	case models.MediaKindPhoto:
		attachment, err = p.uploader.UploadPhoto(ctx, path)
	case models.MediaKindVideo:
		attachment, err = p.uploader.UploadVideo(ctx, path, item.FileName)
	case models.MediaKindDocument:
		attachment, err = p.uploader.UploadDocument(ctx, path)
	}
	if err != nil {
		return "", "", fmt.Errorf("uploading %s %s: %w", item.Kind, item.FileID, err)
	}
	return attachment, "", nil
}
