package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/omnichat-platform/omnichat/internal/config"
	"github.com/omnichat-platform/omnichat/internal/metrics"
)

// Completion is the raw outcome of a single successful remote model call.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	// ExactUsage is true when token counts came from the API's usage block
	// rather than the character-count fallback.
	ExactUsage bool
}

// Client calls the remote model API with bounded exponential-backoff retries.
// The API is treated as opaque transport: accept text, return text, may fail
// transiently, may rate-limit.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	maxRetries     int
	retryBackoff   time.Duration
	attemptTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a model API client from config.
func NewClient(cfg config.ModelConfig) *Client {
	return &Client{
		httpClient:     &http.Client{},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxRetries:     cfg.MaxRetries,
		retryBackoff:   cfg.RetryBackoff,
		attemptTimeout: cfg.AttemptTimeout,
		sleep:          sleepCtx,
	}
}

// Model returns the configured completion model identifier.
func (c *Client) Model() string { return c.model }

// EmbeddingModel returns the configured embedding model identifier.
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type usageBlock struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage *usageBlock `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt to the chat completion endpoint, retrying
// transient failures with exponential backoff. The returned error after the
// retry ceiling is the final attempt's classified failure.
func (c *Client) Complete(ctx context.Context, prompt string) (*Completion, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	}

	var out *Completion
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var resp chatResponse
		if err := c.post(ctx, "/chat/completions", reqBody, &resp); err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return &RemoteError{Type: TypeServiceUnavailable, Message: "response contains no choices", Retryable: true}
		}

		text := resp.Choices[0].Message.Content
		comp := &Completion{Text: text}
		if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
			comp.InputTokens = resp.Usage.PromptTokens
			comp.OutputTokens = resp.Usage.CompletionTokens
			comp.ExactUsage = true
		} else {
			comp.InputTokens = EstimateTokens(prompt)
			comp.OutputTokens = EstimateTokens(text)
		}
		out = comp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Embed returns the embedding vector for text and the input token count.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, int64, error) {
	reqBody := embeddingRequest{Model: c.embeddingModel, Input: []string{text}}

	var vec []float32
	var tokens int64
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var resp embeddingResponse
		if err := c.post(ctx, "/embeddings", reqBody, &resp); err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return &RemoteError{Type: TypeServiceUnavailable, Message: "response contains no embeddings", Retryable: true}
		}
		vec = resp.Data[0].Embedding
		if resp.Usage != nil && resp.Usage.PromptTokens > 0 {
			tokens = resp.Usage.PromptTokens
		} else {
			tokens = EstimateTokens(text)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return vec, tokens, nil
}

// HealthCheck performs a minimal low-cost call to verify the remote service
// is reachable and the credentials are accepted. It bypasses retries: a
// single failed attempt is an answer, not something to mask.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: "ping"}},
		Temperature: 0,
		MaxTokens:   1,
	}
	var resp chatResponse
	return c.post(ctx, "/chat/completions", reqBody, &resp)
}

// withRetry runs call up to maxRetries+1 times with exponential backoff
// (retryBackoff × 2^(attempt-1)) between attempts. Non-retryable failures
// short-circuit; context cancellation aborts the wait.
func (c *Client) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.AIRemoteRetriesTotal.Inc()
			backoff := c.retryBackoff * time.Duration(1<<(attempt-1))
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &RemoteError{Type: TypeTimeout, Message: "attempt timed out", Retryable: true}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RemoteError{Type: TypeConnection, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &RemoteError{Type: TypeConnection, Message: fmt.Sprintf("reading response: %v", err), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		var apiErr apiErrorBody
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return newRemoteError(resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &RemoteError{Type: TypeServiceUnavailable, Message: fmt.Sprintf("decoding response: %v", err), Retryable: true}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
