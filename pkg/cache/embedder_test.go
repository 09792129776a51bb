package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/steer/pkg/resilience"
)

func fastRetry() resilience.RetryOptions {
	opts := resilience.NetworkPolicy()
	opts.BaseDelay = time.Millisecond
	opts.MaxDelay = time.Millisecond
	return opts
}

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-emb", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, "hello", req.Input)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL+"/", "sk-emb", "text-embedding-3-small", time.Second, nil)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1]}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "", "m", time.Second, nil).WithRetry(fastRetry())
	vec, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPEmbedderFailureWrapsErrEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker("embedding", resilience.BreakerOptions{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
	e := NewHTTPEmbedder(srv.URL, "", "m", time.Second, breaker).WithRetry(fastRetry())

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedding)
	code, ok := resilience.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, code)

	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
