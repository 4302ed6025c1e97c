package notifier

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/logger"
)

// TelegramNotifier sends operator notifications to the configured admin
// chats. Delivery is best effort: failures are logged and swallowed so a
// broken notification channel never fails a task.
type TelegramNotifier struct {
	bot      *telego.Bot
	adminIDs []int64
	log      *logrus.Entry
}

func New(bot *telego.Bot, adminIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{
		bot:      bot,
		adminIDs: adminIDs,
		log:      logger.WithField("component", "notifier"),
	}
}

// Notify sends text to every admin chat.
func (n *TelegramNotifier) Notify(ctx context.Context, text string) {
	for _, adminID := range n.adminIDs {
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(adminID), text)); err != nil {
			n.log.WithError(err).WithField("admin_id", adminID).Warn("Failed to deliver notification")
		}
	}
}
