package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable wraps every failure to obtain a result from the sandbox.
var ErrUnavailable = errors.New("code runner unavailable")

// Result is what the sandbox reports for one evaluated program.
type Result struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
}

type evalRequest struct {
	Input string `json:"input"`
}

// Client talks to a snekbox-style eval endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a sandbox client. Every evaluation is bounded by timeout.
func NewClient(url string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "sandbox_client").Logger(),
	}
}

// Evaluate runs program in the sandbox. Transport errors and non-2xx
// replies are reported as ErrUnavailable.
func (c *Client) Evaluate(ctx context.Context, program string) (*Result, error) {
	body, err := json.Marshal(evalRequest{Input: program})
	if err != nil {
		return nil, fmt.Errorf("encode eval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build eval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode eval response: %v", ErrUnavailable, err)
	}

	c.log.Debug().
		Int("returncode", result.ReturnCode).
		Dur("elapsed", time.Since(start)).
		Msg("Sandbox evaluation finished")

	return &result, nil
}
