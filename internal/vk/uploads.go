package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/retry"
)

// userTokenMinTTL is the remaining validity required of a user token before
// it is handed to an upload flow.
const userTokenMinTTL = 5 * time.Minute

// TokenProvider supplies a user access token for calls the group token is
// not permitted to make.
type TokenProvider interface {
	ValidToken(ctx context.Context, minTTL time.Duration) (string, error)
}

// WallUploader uploads media files to VK and returns wall attachment ids.
// When a call fails with a permission error it is retried once with a user
// token obtained from the TokenProvider.
type WallUploader struct {
	client  *Client
	groupID int64
	tokens  TokenProvider
	log     *logrus.Entry
}

// NewWallUploader creates an uploader for the given community. tokens may be
// nil, in which case permission errors are returned as-is.
func NewWallUploader(client *Client, groupID int64, tokens TokenProvider) *WallUploader {
	return &WallUploader{
		client:  client,
		groupID: groupID,
		tokens:  tokens,
		log:     logger.WithField("component", "vk_uploader"),
	}
}

// callWithFallback performs an API call and retries it once with a user
// token if the group token hit a permission error.
func (u *WallUploader) callWithFallback(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	raw, err := u.client.API(ctx, method, cloneValues(params), "")
	if err == nil {
		return raw, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsPermissionError() || u.tokens == nil {
		return nil, err
	}

	u.log.WithFields(logrus.Fields{"method": method, "code": apiErr.Code}).Warn("Permission error with group token, retrying with user token")
	userToken, tokenErr := u.tokens.ValidToken(ctx, userTokenMinTTL)
	if tokenErr != nil {
		return nil, fmt.Errorf("obtaining user token after permission error: %w (original: %v)", tokenErr, err)
	}
	if userToken == "" {
		return nil, err
	}
	return u.client.API(ctx, method, cloneValues(params), userToken)
}

func cloneValues(src url.Values) url.Values {
	dst := url.Values{}
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
	return dst
}

// UploadPhoto uploads a photo from a local file and returns its attachment
// id in photo<owner>_<id> form.
func (u *WallUploader) UploadPhoto(ctx context.Context, path string) (string, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(u.groupID, 10))
	raw, err := u.callWithFallback(ctx, "photos.getWallUploadServer", params)
	if err != nil {
		return "", fmt.Errorf("getting photo upload server: %w", err)
	}
	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(raw, &server); err != nil || server.UploadURL == "" {
		return "", fmt.Errorf("photo upload server response missing upload_url")
	}

	uploaded, err := u.uploadFile(ctx, server.UploadURL, "photo", path)
	if err != nil {
		return "", err
	}
	var form struct {
		Server json.Number `json:"server"`
		Photo  string      `json:"photo"`
		Hash   string      `json:"hash"`
	}
	if err := json.Unmarshal(uploaded, &form); err != nil {
		return "", fmt.Errorf("decoding photo upload form: %w", err)
	}
	if form.Photo == "" || form.Photo == "[]" {
		return "", fmt.Errorf("photo upload returned empty photo data")
	}

	saveParams := url.Values{}
	saveParams.Set("group_id", strconv.FormatInt(u.groupID, 10))
	saveParams.Set("server", form.Server.String())
	saveParams.Set("photo", form.Photo)
	saveParams.Set("hash", form.Hash)
	savedRaw, err := u.callWithFallback(ctx, "photos.saveWallPhoto", saveParams)
	if err != nil {
		return "", fmt.Errorf("saving wall photo: %w", err)
	}
	var saved []struct {
		ID      int64 `json:"id"`
		OwnerID int64 `json:"owner_id"`
	}
	if err := json.Unmarshal(savedRaw, &saved); err != nil || len(saved) == 0 {
		return "", fmt.Errorf("saveWallPhoto returned no photos")
	}
	return fmt.Sprintf("photo%d_%d", saved[0].OwnerID, saved[0].ID), nil
}

// UploadDocument uploads a document and returns its attachment id. VK may
// reclassify some files (voice messages) as audio_message, the saved type
// field is honored.
func (u *WallUploader) UploadDocument(ctx context.Context, path string) (string, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(u.groupID, 10))
	raw, err := u.callWithFallback(ctx, "docs.getWallUploadServer", params)
	if err != nil {
		return "", fmt.Errorf("getting doc upload server: %w", err)
	}
	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(raw, &server); err != nil || server.UploadURL == "" {
		return "", fmt.Errorf("doc upload server response missing upload_url")
	}

	uploaded, err := u.uploadFile(ctx, server.UploadURL, "file", path)
	if err != nil {
		return "", err
	}
	var form struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(uploaded, &form); err != nil || form.File == "" {
		return "", fmt.Errorf("doc upload returned no file token")
	}

	saveParams := url.Values{}
	saveParams.Set("file", form.File)
	saveParams.Set("title", filepath.Base(path))
	savedRaw, err := u.callWithFallback(ctx, "docs.save", saveParams)
	if err != nil {
		return "", fmt.Errorf("saving document: %w", err)
	}
	var saved struct {
		Type string `json:"type"`
		Doc  *struct {
			ID      int64 `json:"id"`
			OwnerID int64 `json:"owner_id"`
		} `json:"doc"`
		AudioMessage *struct {
			ID      int64 `json:"id"`
			OwnerID int64 `json:"owner_id"`
		} `json:"audio_message"`
	}
	if err := json.Unmarshal(savedRaw, &saved); err != nil {
		return "", fmt.Errorf("decoding docs.save response: %w", err)
	}
	switch {
	case saved.Doc != nil:
		return fmt.Sprintf("doc%d_%d", saved.Doc.OwnerID, saved.Doc.ID), nil
	case saved.AudioMessage != nil:
		return fmt.Sprintf("doc%d_%d", saved.AudioMessage.OwnerID, saved.AudioMessage.ID), nil
	default:
		return "", fmt.Errorf("docs.save returned no document (type %q)", saved.Type)
	}
}

// UploadVideo uploads a video and returns its attachment id. Videos use the
// video.save flow and always require a user token when the group token
// lacks video rights.
func (u *WallUploader) UploadVideo(ctx context.Context, path, name string) (string, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(u.groupID, 10))
	if name != "" {
		params.Set("name", name)
	}
	params.Set("wallpost", "0")
	raw, err := u.callWithFallback(ctx, "video.save", params)
	if err != nil {
		return "", fmt.Errorf("calling video.save: %w", err)
	}
	var server struct {
		UploadURL string `json:"upload_url"`
		OwnerID   int64  `json:"owner_id"`
		VideoID   int64  `json:"video_id"`
	}
	if err := json.Unmarshal(raw, &server); err != nil || server.UploadURL == "" {
		return "", fmt.Errorf("video.save response missing upload_url")
	}

	if _, err := u.uploadFile(ctx, server.UploadURL, "video_file", path); err != nil {
		return "", err
	}
	if server.VideoID == 0 {
		return "", fmt.Errorf("video.save returned no video id")
	}
	return fmt.Sprintf("video%d_%d", server.OwnerID, server.VideoID), nil
}

// uploadFile POSTs a local file to a VK upload server as multipart form data
// and returns the raw JSON body of the response. Transport failures are
// retried; each attempt rebuilds the body from the file on disk.
func (u *WallUploader) uploadFile(ctx context.Context, uploadURL, field, path string) (json.RawMessage, error) {
	opts := retry.DefaultOptions()
	opts.Retryable = isTransientError
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		u.log.WithFields(logrus.Fields{
			"field":   field,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("Upload failed, retrying")
	}
	return retry.Do(ctx, func() (json.RawMessage, error) {
		return u.postFile(ctx, uploadURL, field, path)
	}, opts)
}

func (u *WallUploader) postFile(ctx context.Context, uploadURL, field, path string) (json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for upload: %w", path, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("creating multipart field %s: %w", field, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("writing upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &httpStatusError{status: resp.StatusCode, method: "upload"}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload server returned HTTP %d", resp.StatusCode)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("upload server error: %s", envelope.Error)
	}
	return body, nil
}
