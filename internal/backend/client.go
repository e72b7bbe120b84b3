package backend

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

	"convbridge/internal/metrics"
	"convbridge/pkg/logger"
)

// maxErrorBody caps how much of a non-2xx body ends up in errors and logs.
const maxErrorBody = 512

// Config configures a Client.
type Config struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration // per attempt
	MaxAttempts int

	HTTPClient *http.Client
	Sleep      SleepFunc
	Metrics    *metrics.Metrics
}

// Client asks the answer service with bounded retries. It holds no
// per-conversation state and is safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	policy     RetryPolicy
	httpClient *http.Client
	sleep      SleepFunc
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewClient creates a Client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		policy:     policy,
		httpClient: cfg.HTTPClient,
		sleep:      cfg.Sleep,
		metrics:    cfg.Metrics,
		log:        logger.Component("backend"),
	}
}

// Ask sends req, retrying failed attempts with exponential backoff. After the
// final attempt it returns a *Failure carrying the last cause.
func (c *Client) Ask(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()
	defer func() { c.metrics.BackendLatency(time.Since(start)) }()

	var lastErr error
	attempt := 0
	for attempt < c.policy.MaxAttempts {
		attempt++

		ans, err := c.do(ctx, attempt, req)
		if err == nil {
			c.metrics.BackendAttempt("success")
			ans.Attempts = attempt
			ev := c.log.Debug().
				Int("attempt", attempt).
				Str("conversation_id", ans.ConversationID)
			if ans.Usage != nil {
				ev = ev.Int("tokens_used", ans.Usage.TokensUsed).
					Int("latency_ms", ans.Usage.LatencyMs).
					Int("items_used", ans.Usage.ItemsUsed)
			}
			ev.Msg("backend answered")
			return ans, nil
		}

		lastErr = err
		c.metrics.BackendAttempt("failure")
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Msg("backend attempt failed")

		if !c.policy.ShouldRetry(attempt) {
			break
		}
		if err := c.sleep(ctx, c.policy.NextDelay(attempt)); err != nil {
			break
		}
	}

	return nil, &Failure{Attempts: attempt, LastCause: lastErr}
}

func (c *Client) do(ctx context.Context, attempt int, req Request) (*Answer, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(actx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, &AttemptError{Attempt: attempt, Err: fmt.Errorf("%w after %s", ErrAttemptTimeout, c.timeout)}
		}
		return nil, &AttemptError{Attempt: attempt, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, &AttemptError{Attempt: attempt, Err: fmt.Errorf("%w reading body", ErrAttemptTimeout)}
		}
		return nil, &AttemptError{Attempt: attempt, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(respBody)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &AttemptError{Attempt: attempt, StatusCode: resp.StatusCode, Body: snippet}
	}

	var wire askResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, &AttemptError{Attempt: attempt, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if wire.Response == "" {
		return nil, &AttemptError{Attempt: attempt, Err: ErrEmptyResponse}
	}

	return &Answer{
		Text:           wire.Response,
		ConversationID: wire.ConversationID,
		Usage:          wire.Metadata,
	}, nil
}
