package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/locales"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/packer"
	"tgvk-repost-bot/internal/queue"
	"tgvk-repost-bot/internal/repost"
)

const defaultListLimit = 5

// MessageSender delivers a reply to a chat.
type MessageSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Enqueuer is the queue surface the /repost command needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Handler processes operator commands sent to the bot in private chats.
// Messages from non-admin users are ignored silently.
type Handler struct {
	cfg      *config.Config
	posts    database.PostRepository
	jobs     database.JobRepository
	settings database.SettingsRepository
	queue    Enqueuer
	sender   MessageSender
	log      *logrus.Entry
}

func NewHandler(cfg *config.Config, posts database.PostRepository, jobs database.JobRepository, settings database.SettingsRepository, q Enqueuer, sender MessageSender) *Handler {
	return &Handler{
		cfg:      cfg,
		posts:    posts,
		jobs:     jobs,
		settings: settings,
		queue:    q,
		sender:   sender,
		log:      logger.WithField("component", "admin"),
	}
}

func (h *Handler) isAdmin(userID int64) bool {
	for _, id := range h.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HandleMessage dispatches one command message. Unknown commands get the
// help text.
func (h *Handler) HandleMessage(ctx context.Context, chatID, userID int64, langCode, text string) {
	if !h.isAdmin(userID) {
		return
	}
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	command := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	args := fields[1:]
	localizer := locales.NewLocalizer(langCode)
	log := h.log.WithFields(logrus.Fields{"command": command, "user_id": userID})

	var reply string
	var err error
	switch command {
	case "help":
		reply = locales.GetMessage(localizer, "MsgHelp", nil, nil)
	case "status":
		reply, err = h.statusReply(ctx, localizer)
	case "enable":
		err = h.settings.Set(ctx, repost.SettingAutoposting, "true")
		reply = locales.GetMessage(localizer, "MsgAutopostEnabled", nil, nil)
	case "disable":
		err = h.settings.Set(ctx, repost.SettingAutoposting, "false")
		reply = locales.GetMessage(localizer, "MsgAutopostDisabled", nil, nil)
	case "set_mode":
		reply, err = h.setMode(ctx, localizer, args)
	case "set_strategy":
		reply, err = h.setStrategy(ctx, localizer, args)
	case "set_target":
		reply, err = h.setTarget(ctx, localizer, args)
	case "set_source":
		reply, err = h.setSource(ctx, localizer, args)
	case "last":
		reply, err = h.lastPosts(ctx, localizer, args)
	case "errors":
		reply, err = h.lastErrors(ctx, localizer, args)
	case "repost":
		reply, err = h.repost(ctx, localizer, args)
	case "retry_failed":
		reply, err = h.retryFailed(ctx, localizer, args)
	default:
		reply = locales.GetMessage(localizer, "MsgHelp", nil, nil)
	}

	if err != nil {
		log.WithError(err).Error("Command failed")
		reply = locales.GetMessage(localizer, "MsgErrorGeneral", nil, nil)
	}
	if reply == "" {
		return
	}
	if sendErr := h.sender.SendText(ctx, chatID, reply); sendErr != nil {
		log.WithError(sendErr).Error("Failed to send command reply")
	}
}

func (h *Handler) statusReply(ctx context.Context, localizer *i18n.Localizer) (string, error) {
	rt, err := repost.LoadRuntime(ctx, h.settings, h.cfg)
	if err != nil {
		return "", err
	}
	header := locales.GetMessage(localizer, "MsgStatusHeader", map[string]interface{}{
		"Autoposting": strconv.FormatBool(rt.AutopostingEnabled),
		"Mode":        rt.Mode,
		"Strategy":    string(rt.LimitStrategy),
		"GroupID":     strconv.FormatInt(rt.VKGroupID, 10),
	}, nil)

	counts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		return "", err
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", status, counts[status]))
	}
	countsLine := "none"
	if len(parts) > 0 {
		countsLine = strings.Join(parts, ", ")
	}
	jobsLine := locales.GetMessage(localizer, "MsgJobCounts", map[string]interface{}{"Counts": countsLine}, nil)
	return header + "\n" + jobsLine, nil
}

func (h *Handler) setMode(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	valid := len(args) == 1 &&
		(args[0] == repost.ModeAuto || args[0] == repost.ModeModeration || args[0] == repost.ModeManual)
	if !valid {
		return locales.GetMessage(localizer, "MsgModeUsage", nil, nil), nil
	}
	if err := h.settings.Set(ctx, repost.SettingMode, args[0]); err != nil {
		return "", err
	}
	return locales.GetMessage(localizer, "MsgModeSet", map[string]interface{}{"Mode": args[0]}, nil), nil
}

func (h *Handler) setStrategy(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	if len(args) != 1 || !packer.Strategy(args[0]).Known() {
		return locales.GetMessage(localizer, "MsgStrategyUsage", nil, nil), nil
	}
	if err := h.settings.Set(ctx, repost.SettingLimitStrategy, args[0]); err != nil {
		return "", err
	}
	return locales.GetMessage(localizer, "MsgStrategySet", map[string]interface{}{"Strategy": args[0]}, nil), nil
}

func (h *Handler) setTarget(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	if len(args) != 1 {
		return locales.GetMessage(localizer, "MsgTargetUsage", nil, nil), nil
	}
	groupID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || groupID == 0 {
		return locales.GetMessage(localizer, "MsgTargetUsage", nil, nil), nil
	}
	if err := h.settings.Set(ctx, repost.SettingVKGroupID, args[0]); err != nil {
		return "", err
	}
	return locales.GetMessage(localizer, "MsgTargetSet", map[string]interface{}{"GroupID": args[0]}, nil), nil
}

func (h *Handler) setSource(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	if len(args) != 1 {
		return locales.GetMessage(localizer, "MsgSourceUsage", nil, nil), nil
	}
	if _, err := config.ParseInt64List(args[0]); err != nil {
		return locales.GetMessage(localizer, "MsgSourceUsage", nil, nil), nil
	}
	if err := h.settings.Set(ctx, repost.SettingSourceIDs, args[0]); err != nil {
		return "", err
	}
	return locales.GetMessage(localizer, "MsgSourceSet", map[string]interface{}{"Channels": args[0]}, nil), nil
}

// retryFailed re-enqueues the last N failed jobs by their recorded target.
// Jobs with neither a post nor an album reference are skipped.
func (h *Handler) retryFailed(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	jobs, err := h.jobs.ListFailed(ctx, listLimit(args))
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return locales.GetMessage(localizer, "MsgNoFailedJobs", nil, nil), nil
	}
	requeued := 0
	for _, job := range jobs {
		var task queue.Task
		switch {
		case job.PostID != nil:
			task = queue.Task{Kind: queue.TaskRepostSingle, PostID: job.PostID.Hex()}
		case job.MediaGroupID != "":
			task = queue.Task{Kind: queue.TaskFinalizeAlbum, MediaGroupID: job.MediaGroupID}
		default:
			continue
		}
		if err := h.queue.Enqueue(ctx, task); err != nil {
			return "", err
		}
		requeued++
	}
	return locales.GetMessage(localizer, "MsgRetryQueued", map[string]interface{}{"Count": strconv.Itoa(requeued)}, nil), nil
}

func (h *Handler) lastPosts(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	posts, err := h.posts.ListRecentPosts(ctx, listLimit(args))
	if err != nil {
		return "", err
	}
	if len(posts) == 0 {
		return locales.GetMessage(localizer, "MsgNoPosts", nil, nil), nil
	}
	lines := make([]string, 0, len(posts))
	for _, post := range posts {
		lines = append(lines, formatPostPreview(post))
	}
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) lastErrors(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	jobs, err := h.jobs.ListRecentErrors(ctx, listLimit(args))
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return locales.GetMessage(localizer, "MsgNoErrors", nil, nil), nil
	}
	lines := make([]string, 0, len(jobs))
	for _, job := range jobs {
		lines = append(lines, formatJobError(job))
	}
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) repost(ctx context.Context, localizer *i18n.Localizer, args []string) (string, error) {
	if len(args) != 2 {
		return locales.GetMessage(localizer, "MsgRepostUsage", nil, nil), nil
	}
	channelID, err1 := strconv.ParseInt(args[0], 10, 64)
	messageID, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		return locales.GetMessage(localizer, "MsgRepostUsage", nil, nil), nil
	}

	post, err := h.posts.GetPostByChannelMessage(ctx, channelID, messageID)
	if errors.Is(err, database.ErrNotFound) {
		return locales.GetMessage(localizer, "MsgPostNotFound", nil, nil), nil
	}
	if err != nil {
		return "", err
	}

	if post.MediaGroupID != "" {
		task := queue.Task{Kind: queue.TaskFinalizeAlbum, MediaGroupID: post.MediaGroupID}
		if err := h.queue.Enqueue(ctx, task); err != nil {
			return "", err
		}
		return locales.GetMessage(localizer, "MsgAlbumFinalizeQueued", nil, nil), nil
	}

	task := queue.Task{Kind: queue.TaskRepostSingle, PostID: post.ID.Hex()}
	if err := h.queue.Enqueue(ctx, task); err != nil {
		return "", err
	}
	return locales.GetMessage(localizer, "MsgRepostQueued", nil, nil), nil
}

func listLimit(args []string) int {
	if len(args) == 0 {
		return defaultListLimit
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > 50 {
		return 50
	}
	return n
}

// formatPostPreview renders one line per post for the /last listing.
func formatPostPreview(post models.Post) string {
	snippet := strings.ReplaceAll(post.Text, "\n", " ")
	if runes := []rune(snippet); len(runes) > 60 {
		snippet = string(runes[:60]) + "…"
	}
	if snippet == "" {
		snippet = "(no text)"
	}
	line := fmt.Sprintf("[%s] %d/%d: %s", post.Status, post.ChannelID, post.MessageID, snippet)
	if post.MediaGroupID != "" {
		line += fmt.Sprintf(" (album %s)", post.MediaGroupID)
	}
	return line
}

// formatJobError renders one line per failed job for the /errors listing.
func formatJobError(job models.Job) string {
	target := job.MediaGroupID
	if job.PostID != nil {
		target = job.PostID.Hex()
	}
	reason := strings.ReplaceAll(job.LastError, "\n", " ")
	if runes := []rune(reason); len(runes) > 120 {
		reason = string(runes[:120]) + "…"
	}
	return fmt.Sprintf("%s %s %s: %s", job.CreatedAt.Format("2006-01-02 15:04"), job.Kind, target, reason)
}
