package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/steer/pkg/config"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/resilience"
)

func fastRetry() resilience.RetryOptions {
	opts := resilience.AIServicePolicy()
	opts.BaseDelay = time.Millisecond
	opts.MaxDelay = time.Millisecond
	opts.Jitter = false
	return opts
}

func newTestClient(threshold int) *Client {
	reg := resilience.NewRegistry(resilience.BreakerOptions{FailureThreshold: threshold, ResetTimeout: time.Minute}, nil)
	return NewClient(reg, nil).WithRetry(fastRetry())
}

func TestCompleteOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-openai", r.Header.Get("Authorization"))
		var req models.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4", req.Model)
		require.Len(t, req.Messages, 1)
		_ = json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Model:   "gpt-4-0613",
			Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: "hi there"}}},
			Usage:   &models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		})
	}))
	defer srv.Close()

	c := newTestClient(5)
	p := config.ProviderConfig{Name: "openai", URL: srv.URL, APIKey: "sk-openai"}
	out, err := c.Complete(context.Background(), p, "gpt-4", []models.ChatMessage{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Content)
	assert.Equal(t, "gpt-4-0613", out.Model)
	assert.Equal(t, "openai", out.Provider)
	assert.Equal(t, 5, out.Usage.TotalTokens)
}

func TestCompleteAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, AnthropicVersion, r.Header.Get("anthropic-version"))
		var req models.AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		_ = json.NewEncoder(w).Encode(models.AnthropicResponse{
			Content: []models.AnthropicContent{{Type: "text", Text: "ok"}},
			Usage:   &models.AnthropicUsage{InputTokens: 7, OutputTokens: 1},
		})
	}))
	defer srv.Close()

	c := newTestClient(5)
	p := config.ProviderConfig{Name: "anthropic", URL: srv.URL, APIKey: "sk-ant", Type: "anthropic"}
	msgs := []models.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}
	out, err := c.Complete(context.Background(), p, "claude-3-opus", msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, "claude-3-opus", out.Model)
	assert.Equal(t, 8, out.Usage.TotalTokens)
}

func TestCompleteRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(5)
	out, err := c.Complete(context.Background(), config.ProviderConfig{Name: "openai", URL: srv.URL}, "gpt-4", []models.ChatMessage{{Role: "user", Content: "x"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(5)
	_, err := c.Complete(context.Background(), config.ProviderConfig{Name: "openai", URL: srv.URL}, "nope", []models.ChatMessage{{Role: "user", Content: "x"}}, nil)
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "openai", perr.Provider)
	status, ok := resilience.StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(1)
	p := config.ProviderConfig{Name: "flaky", URL: srv.URL}
	msgs := []models.ChatMessage{{Role: "user", Content: "x"}}

	_, err := c.Complete(context.Background(), p, "m", msgs, nil)
	require.Error(t, err)
	_, err = c.Complete(context.Background(), p, "m", msgs, nil)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(1), calls.Load())

	b, ok := c.breakers.Lookup(BreakerName("flaky"))
	require.True(t, ok)
	assert.Equal(t, resilience.StateOpen, b.State())
}

func TestCompleteClientErrorsKeepBreakerClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"context length exceeded"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(1)
	p := config.ProviderConfig{Name: "strict", URL: srv.URL}
	msgs := []models.ChatMessage{{Role: "user", Content: "x"}}

	for i := 0; i < 5; i++ {
		_, err := c.Complete(context.Background(), p, "m", msgs, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
	assert.Equal(t, int32(5), calls.Load())

	b, ok := c.breakers.Lookup(BreakerName("strict"))
	require.True(t, ok)
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestToAnthropicFunctionRole(t *testing.T) {
	limit := 64
	req := toAnthropic("m", []models.ChatMessage{
		{Role: "system", Content: "a"},
		{Role: "system", Content: "b"},
		{Role: "function", Content: "result"},
	}, &limit)
	assert.Equal(t, "a\n\nb", req.System)
	assert.Equal(t, 64, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, models.RoleUser, req.Messages[0].Role)
}
