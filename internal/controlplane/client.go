package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/autobolt/internal/breaker"
	"github.com/ternarybob/autobolt/internal/models"
)

const (
	// DefaultTimeout is the default per-call HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// DefaultMaxAttempts bounds attempts per call for transient failures.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the first retry delay.
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 30 * time.Second

	pausedMessage = "queue paused"
)

// isPaused matches any message variant carrying the paused marker, such as
// "queue_paused" or "Queue paused for maintenance"
func isPaused(message string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(message), "_", " ")
	return strings.Contains(normalized, pausedMessage)
}

// Client is the control-plane API client. Each endpoint is guarded by its
// own circuit breaker; transient failures are retried with exponential
// backoff and jitter before they surface to the caller.
type Client struct {
	baseURL        string
	apiKey         string
	workerID       string
	httpClient     *http.Client
	logger         arbor.ILogger
	limiter        *rate.Limiter
	breakers       *breaker.Manager
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithWorkerID sets the X-Worker-ID header value.
func WithWorkerID(workerID string) ClientOption {
	return func(c *Client) {
		c.workerID = workerID
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithBreakers sets the shared circuit breaker table.
func WithBreakers(breakers *breaker.Manager) ClientOption {
	return func(c *Client) {
		c.breakers = breakers
	}
}

// WithRetryPolicy tunes the per-call retry behaviour.
func WithRetryPolicy(maxAttempts int, initial, max time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// NewClient creates a control-plane client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:        rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetNextJob polls for the next job. Returns (nil, true, nil) when the
// queue is paused and (nil, false, nil) when no job is available.
func (c *Client) GetNextJob(ctx context.Context) (*models.Job, bool, error) {
	var env envelope
	if err := c.call(ctx, "api.jobs.next", http.MethodGet, "/api/jobs/next", nil, &env); err != nil {
		return nil, false, err
	}

	if isPaused(env.Message) {
		return nil, true, nil
	}
	if !env.Success {
		return nil, false, fmt.Errorf("jobs/next rejected: %s", env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, false, nil
	}

	var job models.Job
	if err := json.Unmarshal(env.Data, &job); err != nil {
		return nil, false, fmt.Errorf("failed to decode job payload: %w", err)
	}
	if job.ID == "" {
		return nil, false, fmt.Errorf("jobs/next returned a job without an id")
	}

	return &job, false, nil
}

// UpdateProgress delivers a batch of per-directory results. An empty batch
// with a status acknowledges job acquisition.
func (c *Client) UpdateProgress(ctx context.Context, jobID string, results []models.DirectoryResult, status models.JobStatus, errorMessage string) error {
	if results == nil {
		results = []models.DirectoryResult{}
	}

	body := updateRequest{
		JobID:            jobID,
		DirectoryResults: results,
		Status:           status,
		ErrorMessage:     errorMessage,
	}

	var env envelope
	if err := c.call(ctx, "api.jobs.update", http.MethodPost, "/api/jobs/update", body, &env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("jobs/update rejected: %s", env.Message)
	}
	return nil
}

// CompleteJob reports the final status and aggregate summary.
func (c *Client) CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error {
	body := completeRequest{
		JobID:        jobID,
		FinalStatus:  finalStatus,
		Summary:      summary,
		ErrorMessage: errorMessage,
	}

	var env envelope
	if err := c.call(ctx, "api.jobs.complete", http.MethodPost, "/api/jobs/complete", body, &env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("jobs/complete rejected: %s", env.Message)
	}
	return nil
}

// call runs one endpoint invocation through its breaker and retry policy.
func (c *Client) call(ctx context.Context, operation, method, path string, body, result interface{}) error {
	var guard *breaker.Breaker
	if c.breakers != nil {
		guard = c.breakers.Get(operation)
		if !guard.Allow() {
			return ErrCircuitOpen
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.Multiplier = 2
	policy.MaxInterval = c.maxBackoff
	policy.RandomizationFactor = 0.25
	policy.MaxElapsedTime = 0

	attempts := uint64(c.maxAttempts)
	if attempts > 0 {
		attempts--
	}

	err := backoff.Retry(func() error {
		err := c.do(ctx, method, path, body, result)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		if c.logger != nil {
			c.logger.Warn().
				Str("operation", operation).
				Err(err).
				Msg("Control plane call failed, will retry")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx))

	if guard != nil {
		if err != nil {
			guard.RecordFailure()
		} else {
			guard.RecordSuccess()
		}
	}
	return err
}

// do performs a single HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if c.workerID != "" {
		req.Header.Set("X-Worker-ID", c.workerID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("url", c.baseURL+path).
			Msg("Control plane request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, parseErr := strconv.Atoi(header); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   path,
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
