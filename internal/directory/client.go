package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrRateLimitExhausted is returned when the API keeps rate limiting past
// the configured number of retries.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// defaultRetryAfter is used when a 429 carries no retry hint.
const defaultRetryAfter = time.Second

// StatusError is an unsuccessful, non rate-limited reply.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Options configures a Client.
type Options struct {
	// BotToken authorizes calls made with Put.
	BotToken string
	// MaxRateLimitRetries bounds how often one call is resubmitted after a
	// 429. Zero means no bound.
	MaxRateLimitRetries int
	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

// Client issues calls against the chat directory API and absorbs its rate
// limiting: a 429 reply suspends the calling goroutine for the advertised
// duration and the identical request is sent again.
type Client struct {
	httpClient *http.Client
	botToken   string
	maxRetries int
	log        zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		botToken:   opts.BotToken,
		maxRetries: opts.MaxRateLimitRetries,
		log:        log.With().Str("component", "directory_client").Logger(),
	}
}

// Post sends payload as JSON to url. Webhook URLs carry their own
// credentials, so no Authorization header is added.
func (c *Client) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, false)
}

// Put sends an empty bot-authorized PUT to url.
func (c *Client) Put(ctx context.Context, url string) error {
	return c.do(ctx, http.MethodPut, url, nil, true)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, authorized bool) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authorized {
			req.Header.Set("Authorization", "Bot "+c.botToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, url, err)
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			if c.maxRetries > 0 && attempt >= c.maxRetries {
				return fmt.Errorf("%s %s: %w after %d retries", method, url, ErrRateLimitExhausted, attempt)
			}
			wait := retryAfter(resp.Header, respBody)
			c.log.Warn().
				Str("method", method).
				Dur("retry_after", wait).
				Int("attempt", attempt+1).
				Msg("Rate limited, waiting before retry")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		return nil
	}
}

// retryAfter reads the wait advertised by a 429 reply, in order of
// preference: X-RateLimit-Reset-After, Retry-After, then the JSON
// "retry_after" field. All are seconds and may be fractional.
func retryAfter(h http.Header, body []byte) time.Duration {
	for _, name := range []string{"X-RateLimit-Reset-After", "Retry-After"} {
		if v := h.Get(name); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
				return seconds(secs)
			}
		}
	}

	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.RetryAfter != nil && *payload.RetryAfter >= 0 {
		return seconds(*payload.RetryAfter)
	}
	return defaultRetryAfter
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
