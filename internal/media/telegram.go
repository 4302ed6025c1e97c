package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/retry"
)

// TelegramFetcher downloads files from the Telegram Bot API file endpoint
// into a temp directory.
type TelegramFetcher struct {
	bot        *telego.Bot
	botToken   string
	tempDir    string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewTelegramFetcher(bot *telego.Bot, botToken, tempDir string) *TelegramFetcher {
	return &TelegramFetcher{
		bot:        bot,
		botToken:   botToken,
		tempDir:    tempDir,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        logger.WithField("component", "telegram_fetcher"),
	}
}

// Fetch resolves the file path via getFile and streams the file to disk.
// The size is checked both against the metadata Telegram reports and against
// the actual bytes written, since the metadata size is optional.
func (f *TelegramFetcher) Fetch(ctx context.Context, item models.MediaItem, maxBytes int64) (string, error) {
	if maxBytes > 0 && item.FileSize > maxBytes {
		return "", ErrOversize
	}

	file, err := f.bot.GetFile(ctx, &telego.GetFileParams{FileID: item.FileID})
	if err != nil {
		return "", fmt.Errorf("resolving file %s: %w", item.FileID, err)
	}
	if maxBytes > 0 && file.FileSize > maxBytes {
		return "", ErrOversize
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram returned no file path for %s", item.FileID)
	}

	fileURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", f.botToken, file.FilePath)
	name := item.FileName
	if name == "" {
		name = filepath.Base(file.FilePath)
	}

	path, err := f.download(ctx, fileURL, name, maxBytes)
	if err != nil {
		return "", fmt.Errorf("downloading file %s: %w", item.FileID, err)
	}
	return path, nil
}

// download fetches fileURL to the temp directory, retrying transport-level
// failures. Each attempt writes a fresh temp file.
func (f *TelegramFetcher) download(ctx context.Context, fileURL, name string, maxBytes int64) (string, error) {
	opts := retry.DefaultOptions()
	opts.Retryable = isTransientError
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		f.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("File download failed, retrying")
	}
	return retry.Do(ctx, func() (string, error) {
		return f.downloadOnce(ctx, fileURL, name, maxBytes)
	}, opts)
}

func (f *TelegramFetcher) downloadOnce(ctx context.Context, fileURL, name string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("building download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", &httpStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file download returned HTTP %d", resp.StatusCode)
	}

	// Download to a .part file first so a partially written file is never
	// mistaken for a completed one.
	finalPath := filepath.Join(f.tempDir, uuid.NewString()+"_"+name)
	partPath := finalPath + ".part"

	out, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	var written int64
	if maxBytes > 0 {
		written, err = io.Copy(out, io.LimitReader(resp.Body, maxBytes+1))
	} else {
		written, err = io.Copy(out, resp.Body)
	}
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if maxBytes > 0 && written > maxBytes {
		os.Remove(partPath)
		return "", ErrOversize
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("finalizing download: %w", err)
	}

	f.log.WithFields(logrus.Fields{"bytes": written}).Debug("Downloaded media file")
	return finalPath, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("file download returned HTTP %d", e.status)
}

// isTransientError reports whether a download failure is worth another
// attempt. Oversize files and client-level HTTP errors are final.
func isTransientError(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
