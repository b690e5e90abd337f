// Package apiclient is the HTTP client for the notification service.
package apiclient

import (
	"bytes"
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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/notify"
)

// ErrNotOK is returned when a 2xx response carries "ok": false.
var ErrNotOK = errors.New("apiclient: response not ok")

// HTTPError is a non-2xx response after retries were exhausted.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Client implements notify.API over the REST endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var _ notify.API = (*Client)(nil)

// New returns a client for baseURL, which includes the API version prefix
// (for example http://localhost:8080/api/v1).
func New(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api/v1"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type envelope struct {
	OK    *bool `json:"ok"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type listResponse struct {
	envelope
	Items       []notify.Notification `json:"items"`
	UnreadCount int                   `json:"unreadCount"`
}

type statsResponse struct {
	envelope
	notify.Stats
}

func (c *Client) ListNotifications(ctx context.Context, page, perPage int) (notify.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(perPage))

	var out listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &out); err != nil {
		return notify.Page{}, err
	}
	if err := out.check(); err != nil {
		return notify.Page{}, err
	}
	return notify.Page{Items: out.Items, UnreadCount: out.UnreadCount}, nil
}

func (c *Client) GetStats(ctx context.Context) (notify.Stats, error) {
	var out statsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/notifications/stats", nil, &out); err != nil {
		return notify.Stats{}, err
	}
	if err := out.check(); err != nil {
		return notify.Stats{}, err
	}
	return out.Stats, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.mutate(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read")
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/notifications/read-all")
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.mutate(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id))
}

func (c *Client) Clear(ctx context.Context) error {
	return c.mutate(ctx, http.MethodDelete, "/notifications")
}

// RegisterDeviceToken stores a push token for the authenticated user.
func (c *Client) RegisterDeviceToken(ctx context.Context, token, platform string) error {
	body := map[string]string{"token": token, "platform": platform}
	var out envelope
	if err := c.doJSON(ctx, http.MethodPut, "/notifications/device-token", body, &out); err != nil {
		return err
	}
	return out.check()
}

func (c *Client) mutate(ctx context.Context, method, path string) error {
	var out envelope
	if err := c.doJSON(ctx, method, path, nil, &out); err != nil {
		return err
	}
	return out.check()
}

func (e envelope) check() error {
	if e.OK != nil && !*e.OK {
		if e.Error != nil && e.Error.Message != "" {
			return fmt.Errorf("%w: %s", ErrNotOK, e.Error.Message)
		}
		return ErrNotOK
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	requestID := uuid.NewString()
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Request-ID", requestID)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				c.logger.Debug("retrying request",
					zap.String("method", method),
					zap.String("path", requestPath),
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, requestPath, err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("path", requestPath),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload envelope
		_ = json.Unmarshal(payload, &errPayload)
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		if errPayload.Error != nil {
			httpErr.Code = errPayload.Error.Code
			httpErr.Message = errPayload.Error.Message
		}
		return httpErr
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
