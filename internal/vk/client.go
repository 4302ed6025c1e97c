package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/retry"
)

const defaultBaseURL = "https://api.vk.com/method"

// Client is a minimal VK API client. Every call goes through a leaky bucket
// rate limiter and a retry loop for transport-level failures. API-level
// errors are returned as *APIError and are never retried here.
type Client struct {
	httpClient  *http.Client
	accessToken string
	version     string
	baseURL     string
	limiter     ratelimit.Limiter
	log         *logrus.Entry
}

// NewClient creates a client bound to a group access token.
func NewClient(accessToken, version string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		accessToken: accessToken,
		version:     version,
		baseURL:     defaultBaseURL,
		limiter:     ratelimit.New(3), // VK allows 3 requests per second per token
		log:         logger.WithField("component", "vk_client"),
	}
}

// API performs a VK API method call. If tokenOverride is non-empty it is
// used instead of the client's default token.
func (c *Client) API(ctx context.Context, method string, params url.Values, tokenOverride string) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	token := c.accessToken
	if tokenOverride != "" {
		token = tokenOverride
	}
	params.Set("access_token", token)
	params.Set("v", c.version)

	opts := retry.DefaultOptions()
	opts.Retryable = isTransientError
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.WithFields(logrus.Fields{
			"method":  method,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("VK call failed, retrying")
	}

	return retry.Do(ctx, func() (json.RawMessage, error) {
		c.limiter.Take()
		return c.call(ctx, method, params)
	}, opts)
}

func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &httpStatusError{status: resp.StatusCode, method: method}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	return parseEnvelope(method, body)
}

func parseEnvelope(method string, body []byte) (json.RawMessage, error) {
	var envelope struct {
		Error    *APIError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if envelope.Response == nil {
		return nil, fmt.Errorf("%s returned no response payload", method)
	}
	return envelope.Response, nil
}

type httpStatusError struct {
	status int
	method string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("vk %s returned HTTP %d", e.method, e.status)
}

// isTransientError reports whether the failure is worth retrying. API errors
// carry a semantic code and are handled by the caller, not the retry loop.
func isTransientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
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
