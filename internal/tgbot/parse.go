package tgbot

import (
	"encoding/json"
	"time"

	"github.com/mymmrac/telego"

	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/ingest"
)

// parseChannelPost turns a channel post update into an ingest event. The
// whole update is kept as the payload so later stages can read details like
// the channel username.
func parseChannelPost(update telego.Update) (ingest.Event, bool) {
	msg := update.ChannelPost
	if msg == nil {
		return ingest.Event{}, false
	}

	payload, err := json.Marshal(update)
	if err != nil {
		payload = nil
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	event := ingest.Event{
		ChannelID:    msg.Chat.ID,
		MessageID:    int64(msg.MessageID),
		Date:         time.Unix(msg.Date, 0),
		Text:         text,
		MediaGroupID: msg.MediaGroupID,
		Media:        extractMedia(msg),
		Payload:      payload,
	}
	return event, true
}

// extractMedia maps the message's media to ingest items. For photos Telegram
// sends every available resolution; only the largest is kept.
func extractMedia(msg *telego.Message) []ingest.Media {
	var media []ingest.Media

	if photo := bestPhoto(msg.Photo); photo != nil {
		media = append(media, ingest.Media{
			Kind:     models.MediaKindPhoto,
			FileID:   photo.FileID,
			FileSize: int64(photo.FileSize),
		})
	}
	if msg.Video != nil {
		media = append(media, ingest.Media{
			Kind:     models.MediaKindVideo,
			FileID:   msg.Video.FileID,
			FileName: msg.Video.FileName,
			MimeType: msg.Video.MimeType,
			FileSize: int64(msg.Video.FileSize),
		})
	}
	if msg.Document != nil {
		media = append(media, ingest.Media{
			Kind:     models.MediaKindDocument,
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			FileSize: int64(msg.Document.FileSize),
		})
	}
	return media
}

func bestPhoto(sizes []telego.PhotoSize) *telego.PhotoSize {
	var best *telego.PhotoSize
	for i := range sizes {
		if best == nil || sizes[i].FileSize > best.FileSize {
			best = &sizes[i]
		}
	}
	return best
}
