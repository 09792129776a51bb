package cache

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

	"github.com/pario-ai/steer/pkg/resilience"
)

// ErrEmbedding marks failures of the embedding service.
var ErrEmbedding = errors.New("embedding service error")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

// StatusError is a non-2xx response from the embedding endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding endpoint returned %d: %s", e.Status, e.Body)
}

// StatusCode implements resilience.StatusCoder.
func (e *StatusError) StatusCode() int { return e.Status }

// HTTPEmbedder calls an OpenAI-compatible /v1/embeddings endpoint through a
// circuit breaker and the network retry policy.
type HTTPEmbedder struct {
	url     string
	apiKey  string
	model   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryOptions
}

// NewHTTPEmbedder creates an embedder for baseURL. breaker may be nil.
func NewHTTPEmbedder(baseURL, apiKey, model string, timeout time.Duration, breaker *resilience.CircuitBreaker) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmbedder{
		url:     strings.TrimRight(baseURL, "/") + "/v1/embeddings",
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		retry:   resilience.NetworkPolicy(),
	}
}

// WithRetry overrides the retry policy.
func (e *HTTPEmbedder) WithRetry(opts resilience.RetryOptions) *HTTPEmbedder {
	e.retry = opts
	return e
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := resilience.Retry(ctx, e.retry, func(ctx context.Context) ([]float64, error) {
		if e.breaker == nil {
			return e.call(ctx, text)
		}
		var out []float64
		err := e.breaker.Execute(func() error {
			var err error
			out, err = e.call(ctx, text)
			return err
		})
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vec, nil
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New("empty embedding")
	}
	return parsed.Data[0].Embedding, nil
}
