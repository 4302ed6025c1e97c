package tgbot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"tgvk-repost-bot/internal/admin"
	"tgvk-repost-bot/internal/ingest"
	"tgvk-repost-bot/internal/logger"
)

const updateTimeout = 30 * time.Second

// Bot routes Telegram updates: channel posts go to ingestion, admin command
// messages to the command handler, everything else is ignored.
type Bot struct {
	bot         *telego.Bot
	updatesChan <-chan telego.Update
	ingest      *ingest.Service
	admin       *admin.Handler
	limiter     ratelimit.Limiter
	log         *logrus.Entry
}

func New(bot *telego.Bot, updatesChan <-chan telego.Update, ingestSvc *ingest.Service, adminHandler *admin.Handler) *Bot {
	return &Bot{
		bot:         bot,
		updatesChan: updatesChan,
		ingest:      ingestSvc,
		admin:       adminHandler,
		limiter:     ratelimit.New(20),
		log:         logger.WithField("component", "tgbot"),
	}
}

// Sender sends plain text replies. Satisfies the admin handler's sender
// interface without tying it to the update loop.
type Sender struct {
	bot *telego.Bot
}

func NewSender(bot *telego.Bot) *Sender {
	return &Sender{bot: bot}
}

func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("sending message to chat %d: %w", chatID, err)
	}
	return nil
}

// Start consumes the update channel until ctx is cancelled or the channel
// closes. Each update is processed in its own goroutine.
func (b *Bot) Start(ctx context.Context) {
	b.log.Info("Listening for updates")

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Context done, stopping update processing")
			wg.Wait()
			return
		case update, ok := <-b.updatesChan:
			if !ok {
				b.log.Warn("Updates channel closed")
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(up telego.Update) {
				defer wg.Done()
				b.processUpdate(ctx, up)
			}(update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update telego.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Error("Panic while processing update")
			sentry.CurrentHub().Recover(r)
		}
	}()

	procCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	b.limiter.Take()

	switch {
	case update.ChannelPost != nil:
		b.handleChannelPost(procCtx, update)
	case update.Message != nil:
		b.handleMessage(procCtx, update.Message)
	}
}

func (b *Bot) handleChannelPost(ctx context.Context, update telego.Update) {
	event, ok := parseChannelPost(update)
	if !ok {
		return
	}
	if err := b.ingest.HandleEvent(ctx, event); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"channel_id": event.ChannelID,
			"message_id": event.MessageID,
		}).Error("Failed to ingest channel post")
		sentry.CaptureException(err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	b.admin.HandleMessage(ctx, msg.Chat.ID, msg.From.ID, msg.From.LanguageCode, msg.Text)
}
