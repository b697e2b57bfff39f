package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnichat-platform/omnichat/internal/config"
)

func testClient(t *testing.T, baseURL string, maxRetries int) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(config.ModelConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		MaxRetries:     maxRetries,
		RetryBackoff:   10 * time.Millisecond,
		AttemptTimeout: time.Second,
	})

	// Record backoff delays instead of sleeping.
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func completionBody(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonString(text) + `}}],` +
		`"usage":{"prompt_tokens":20,"completion_tokens":10,"total_tokens":30}}`
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(completionBody("hello")))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 3)
	comp, err := c.Complete(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", comp.Text)
	assert.EqualValues(t, 20, comp.InputTokens)
	assert.EqualValues(t, 10, comp.OutputTokens)
	assert.True(t, comp.ExactUsage)
}

func TestComplete_FallbackTokenEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"twelve chars"}}]}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 0)
	comp, err := c.Complete(context.Background(), "number of characters here")
	require.NoError(t, err)
	assert.False(t, comp.ExactUsage)
	assert.Equal(t, EstimateTokens("twelve chars"), comp.OutputTokens)
	assert.Equal(t, EstimateTokens("number of characters here"), comp.InputTokens)
}

func TestComplete_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error":{"message":"upstream overloaded"}}`, http.StatusBadGateway)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	c, delays := testClient(t, srv.URL, 3)
	comp, err := c.Complete(context.Background(), "try hard")
	require.NoError(t, err)
	assert.Equal(t, "ok", comp.Text)
	assert.EqualValues(t, 3, calls.Load())

	// Delays grow exponentially and are non-decreasing.
	require.Len(t, *delays, 2)
	assert.Equal(t, 10*time.Millisecond, (*delays)[0])
	assert.Equal(t, 20*time.Millisecond, (*delays)[1])
}

func TestComplete_RetryCeiling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 2)
	_, err := c.Complete(context.Background(), "doomed")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	// maxRetries+1 total attempts
	assert.EqualValues(t, 3, calls.Load())
}

func TestComplete_NonRetryableShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 5)
	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, TypeAuthentication, ErrorCode(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestComplete_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 0)
	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
	assert.True(t, IsRetryable(err))
}

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":7}}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 0)
	vec, tokens, err := c.Embed(context.Background(), "refund request")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.EqualValues(t, 7, tokens)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("pong")))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 0)
	require.NoError(t, c.HealthCheck(context.Background()))
}

func TestHealthCheck_AuthFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 0)
	require.Error(t, c.HealthCheck(context.Background()))
}
