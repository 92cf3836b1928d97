// Package waha is the HTTP client for the WAHA WhatsApp API.
//
// Every call goes through Do, which retries rate-limited (429) and server-error
// (5xx) responses with exponential backoff. Other client errors, connection
// failures and malformed bodies are returned immediately.
package waha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"groupbot/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	maxResponseBytes   = 4 << 20
)

type Config struct {
	BaseURL     string
	APIKey      string
	Session     string
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Client struct {
	baseURL     string
	apiKey      string
	session     string
	maxAttempts int
	baseDelay   time.Duration
	http        *http.Client
	logger      *slog.Logger

	// wait and jitter are swapped out in tests.
	wait   func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		session:     cfg.Session,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		http:        cfg.HTTPClient,
		logger:      cfg.Logger,
		wait:        sleepContext,
		jitter:      equalJitter,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Session returns the WAHA session name the client is bound to.
func (c *Client) Session() string { return c.session }

// Backoff returns the delay before the retry that follows the given 0-based
// attempt: base * 2^attempt, before jitter.
func (c *Client) Backoff(attempt int) time.Duration {
	return c.baseDelay * time.Duration(1<<attempt)
}

// MaxWait is the upper bound on time spent sleeping inside one Do call.
func (c *Client) MaxWait() time.Duration {
	return c.baseDelay * time.Duration((1<<c.maxAttempts)-1)
}

// Do sends one logical request. body is JSON-encoded when non-nil; the response
// is decoded into out when out is non-nil and the body is not empty.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = encoded
	}

	lastStatus := 0
	lastBody := ""
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.jitter(c.Backoff(attempt - 1))
			c.logger.Warn("waha request failed, retrying",
				"method", method,
				"path", path,
				"status", lastStatus,
				"attempt", attempt,
				"max_attempts", c.maxAttempts,
				"delay", delay,
			)
			metrics.TransportRetries.WithLabelValues(statusClass(lastStatus)).Inc()
			if err := c.wait(ctx, delay); err != nil {
				return &Error{Kind: KindNetwork, Method: method, Path: path, Status: lastStatus, Attempts: attempt, Err: err}
			}
		}

		status, respBody, err := c.roundTrip(ctx, method, path, payload)
		if err != nil {
			metrics.TransportRequests.WithLabelValues("network").Inc()
			return &Error{Kind: KindNetwork, Method: method, Path: path, Attempts: attempt + 1, Err: err}
		}
		metrics.TransportRequests.WithLabelValues(statusClass(status)).Inc()

		if status >= 200 && status < 300 {
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return &Error{Kind: KindDecode, Method: method, Path: path, Status: status, Attempts: attempt + 1, Err: err}
			}
			return nil
		}

		if !IsRetryable(status) {
			return &Error{Kind: KindStatus, Method: method, Path: path, Status: status, Attempts: attempt + 1, Body: truncate(respBody)}
		}
		lastStatus = status
		lastBody = truncate(respBody)
	}

	return &Error{Kind: KindExhausted, Method: method, Path: path, Status: lastStatus, Attempts: c.maxAttempts, Body: lastBody}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) groupPath(groupID string, suffix string) string {
	return "/api/" + url.PathEscape(c.session) + "/groups/" + url.PathEscape(groupID) + suffix
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// equalJitter picks a delay in [d/2, d] so the worst case never exceeds the
// unjittered schedule.
func equalJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func statusClass(status int) string {
	switch {
	case status == 429:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return "other"
	}
}

func truncate(body []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit]
	}
	return text
}
