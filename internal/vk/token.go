package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/lock"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/retry"
)

// Setting keys for the persisted user token triple and the OAuth client
// parameters seeded from the environment on first use.
const (
	settingUserAccessToken  = "vk_user_access_token"
	settingUserRefreshToken = "vk_user_refresh_token"
	settingUserExpiresAt    = "vk_user_token_expires_at"
	settingUserClientID     = "vk_user_client_id"
	settingUserDeviceID     = "vk_user_device_id"
	settingUserState        = "vk_user_state"

	tokenRefreshLockKey  = "vk:user_token_refresh"
	tokenRefreshLockTTL  = 60 * time.Second
	tokenRefreshLockWait = 5 * time.Second
)

// TokenSeed holds the initial user token values from the environment. They
// are written to settings the first time the manager needs them, after that
// the persisted values win.
type TokenSeed struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	DeviceID     string
	State        string
}

// TokenManager keeps the VK user access token fresh. Refreshes go through a
// distributed lock so concurrent workers do not burn the single-use refresh
// token twice.
type TokenManager struct {
	settings   database.SettingsRepository
	locker     *lock.Locker
	httpClient *http.Client
	oauthURL   string
	seed       TokenSeed
	now        func() time.Time
	log        *logrus.Entry
}

// NewTokenManager creates a manager persisting tokens in settings and
// serializing refreshes through locker.
func NewTokenManager(settings database.SettingsRepository, locker *lock.Locker, oauthURL string, seed TokenSeed) *TokenManager {
	return &TokenManager{
		settings:   settings,
		locker:     locker,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		oauthURL:   oauthURL,
		seed:       seed,
		now:        time.Now,
		log:        logger.WithField("component", "vk_token"),
	}
}

// ValidToken returns a user access token valid for at least minTTL. No
// configured token at all yields "" without error; missing refresh
// credentials yield the current token as-is. Otherwise the token is
// refreshed under the distributed lock; if another worker holds the lock,
// the last known token is returned as a best effort.
func (m *TokenManager) ValidToken(ctx context.Context, minTTL time.Duration) (string, error) {
	token, expiresAt, err := m.storedToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if m.now().Add(minTTL).Before(expiresAt) {
		return token, nil
	}

	refreshToken, err := m.settings.GetDefault(ctx, settingUserRefreshToken, m.seed.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("loading refresh token: %w", err)
	}
	clientID, err := m.settings.GetDefault(ctx, settingUserClientID, m.seed.ClientID)
	if err != nil {
		return "", fmt.Errorf("loading oauth client id: %w", err)
	}
	if refreshToken == "" || clientID == "" {
		m.log.Warn("No refresh credentials configured, using current token as-is")
		return token, nil
	}

	lease, err := m.locker.Acquire(ctx, tokenRefreshLockKey, tokenRefreshLockTTL, tokenRefreshLockWait)
	if errors.Is(err, lock.ErrBusy) {
		m.log.Warn("Token refresh lock busy, using last known token")
		return token, nil
	}
	if err != nil {
		return "", fmt.Errorf("acquiring token refresh lock: %w", err)
	}
	defer lease.Release(ctx)

	// Another worker may have refreshed while we waited for the lock.
	token, expiresAt, err = m.storedToken(ctx)
	if err != nil {
		return "", err
	}
	if token != "" && m.now().Add(minTTL).Before(expiresAt) {
		return token, nil
	}

	return m.refresh(ctx)
}

// storedToken loads the persisted token and its expiry, falling back to the
// environment seed when settings hold nothing yet.
func (m *TokenManager) storedToken(ctx context.Context) (string, time.Time, error) {
	token, err := m.settings.GetDefault(ctx, settingUserAccessToken, m.seed.AccessToken)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("loading stored user token: %w", err)
	}
	expiresRaw, err := m.settings.GetDefault(ctx, settingUserExpiresAt, "")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("loading token expiry: %w", err)
	}
	if expiresRaw == "" {
		return token, time.Time{}, nil
	}
	unix, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		m.log.WithField("value", expiresRaw).Warn("Malformed token expiry in settings, treating as expired")
		return token, time.Time{}, nil
	}
	return token, time.Unix(unix, 0), nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	State        string `json:"state"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// refresh exchanges the refresh token at the VK ID endpoint and persists the
// new triple. Must be called with the refresh lock held.
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	refreshToken, err := m.settings.GetDefault(ctx, settingUserRefreshToken, m.seed.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("loading refresh token: %w", err)
	}
	clientID, err := m.settings.GetDefault(ctx, settingUserClientID, m.seed.ClientID)
	if err != nil {
		return "", err
	}
	deviceID, err := m.settings.GetDefault(ctx, settingUserDeviceID, m.seed.DeviceID)
	if err != nil {
		return "", err
	}
	state, err := m.settings.GetDefault(ctx, settingUserState, m.seed.State)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	if deviceID != "" {
		form.Set("device_id", deviceID)
	}
	if state != "" {
		form.Set("state", state)
	}

	opts := retry.DefaultOptions()
	opts.Retryable = isTransientError
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("Token refresh request failed, retrying")
	}
	body, err := retry.Do(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.oauthURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("building token refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling token refresh endpoint: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, &httpStatusError{status: resp.StatusCode, method: "token refresh"}
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading token refresh response: %w", err)
		}
		return b, nil
	}, opts)
	if err != nil {
		return "", err
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding token refresh response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("token refresh rejected: %s (%s)", parsed.Error, parsed.ErrorDesc)
	}
	if parsed.AccessToken == "" || parsed.RefreshToken == "" || parsed.ExpiresIn <= 0 {
		return "", fmt.Errorf("token refresh response incomplete")
	}

	expiresAt := m.now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	if err := m.settings.Set(ctx, settingUserAccessToken, parsed.AccessToken); err != nil {
		return "", fmt.Errorf("persisting access token: %w", err)
	}
	if err := m.settings.Set(ctx, settingUserRefreshToken, parsed.RefreshToken); err != nil {
		return "", fmt.Errorf("persisting refresh token: %w", err)
	}
	if err := m.settings.Set(ctx, settingUserExpiresAt, strconv.FormatInt(expiresAt.Unix(), 10)); err != nil {
		return "", fmt.Errorf("persisting token expiry: %w", err)
	}
	if clientID != "" {
		if err := m.settings.Set(ctx, settingUserClientID, clientID); err != nil {
			return "", err
		}
	}
	if deviceID != "" {
		if err := m.settings.Set(ctx, settingUserDeviceID, deviceID); err != nil {
			return "", err
		}
	}
	if parsed.State != "" {
		if err := m.settings.Set(ctx, settingUserState, parsed.State); err != nil {
			return "", err
		}
	}

	m.log.WithField("expires_at", expiresAt.Format(time.RFC3339)).Info("Refreshed VK user token")
	return parsed.AccessToken, nil
}
