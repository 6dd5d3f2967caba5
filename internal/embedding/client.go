package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Retry policy for transient failures.
const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1000 * time.Millisecond
	backoffFactor         = 1.5
	defaultTimeout        = 60 * time.Second
	queueCapacity         = 64
)

// inputPayloadModels marks model families that take an OpenAI-style
// {input, model} payload and answer {data: [{embedding}]}. Everything else
// takes an Ollama-style {model, prompt} payload and answers {embedding}.
var inputPayloadModels = []string{"text-embedding", "nomic-embed", "granite-embedding"}

// ClientConfig configures the remote embedding client.
type ClientConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// Client embeds text by calling POST {baseURL}/embeddings. Concurrent calls
// are serialized through a single-worker queue so that at most one request is
// in flight to the remote API at a time; each call's result is delivered
// independently to its caller. Transient failures are retried with
// exponential backoff before the last error is surfaced.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	dimensions int
	httpClient *http.Client
	logger     *zap.Logger

	maxRetries     int
	initialBackoff time.Duration

	jobs chan *job
	done chan struct{}
}

type job struct {
	ctx    context.Context
	text   string
	result chan jobResult
}

type jobResult struct {
	vec []float32
	err error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a logger for retry and failure events.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRetryPolicy overrides the retry count and initial backoff. Used in tests
// to avoid real sleeping.
func WithRetryPolicy(maxRetries int, initialBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initialBackoff
	}
}

// NewClient creates a client and starts its queue worker.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		model:          cfg.Model,
		apiKey:         cfg.APIKey,
		dimensions:     cfg.Dimensions,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         zap.NewNop(),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		jobs:           make(chan *job, queueCapacity),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.worker()
	return c
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed enqueues text and blocks until the queue worker has produced a result
// or ctx is done. Submission order is execution order; a failed request does
// not affect subsequent queued requests.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-c.done:
		return nil, &Error{Message: "client closed"}
	default:
	}
	j := &job{ctx: ctx, text: text, result: make(chan jobResult, 1)}
	select {
	case c.jobs <- j:
	case <-c.done:
		return nil, &Error{Message: "client closed"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-j.result:
		return res.vec, res.err
	case <-c.done:
		return nil, &Error{Message: "client closed"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the queue worker. Pending jobs receive a "client closed" error.
func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

func (c *Client) worker() {
	for {
		select {
		case <-c.done:
			return
		case j := <-c.jobs:
			if j.ctx.Err() != nil {
				j.result <- jobResult{err: j.ctx.Err()}
				continue
			}
			vec, err := c.embedWithRetry(j.ctx, j.text)
			j.result <- jobResult{vec: vec, err: err}
		}
	}
}

// embedWithRetry runs one embedding call, retrying retryable failures up to
// maxRetries times with exponential backoff. The last error is surfaced.
func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
		}
		vec, err := c.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		var embErr *Error
		if !errors.As(err, &embErr) || !embErr.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

// usesInputPayload reports whether the model family takes {input, model}.
func usesInputPayload(model string) bool {
	for _, family := range inputPayloadModels {
		if strings.Contains(model, family) {
			return true
		}
	}
	return false
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	var payload interface{}
	if usesInputPayload(c.model) {
		payload = map[string]string{"input": text, "model": c.model}
	} else {
		payload = map[string]string{"model": c.model, "prompt": text}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error(), Retryable: retryableErr(err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: "read response", Retryable: retryableErr(err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Message:   fmt.Sprintf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(respBody))),
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
		}
	}
	return parseEmbedding(respBody)
}

// parseEmbedding extracts the vector from a 2xx response body, trying the
// OpenAI shape {data: [{embedding}]} first and falling back to the Ollama
// shape {embedding}.
func parseEmbedding(body []byte) ([]float32, error) {
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Message: "parse response", Err: err}
	}
	if len(parsed.Data) > 0 && len(parsed.Data[0].Embedding) > 0 {
		return parsed.Data[0].Embedding, nil
	}
	if len(parsed.Embedding) > 0 {
		return parsed.Embedding, nil
	}
	return nil, &Error{Message: "no embedding in response"}
}
