package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/resilience"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", "text-embedding-3-small", WithBaseURL(srv.URL))
}

func TestEmbed_Success(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"alpha", "beta"}, req.Input)

		// Out-of-order results still land at the right index.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"index": 1, "embedding": [0.3, 0.4]},
				{"index": 0, "embedding": [0.1, 0.2]}
			],
			"usage": {"total_tokens": 7}
		}`))
	})

	resp, err := cli.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, resp.Vectors, 2)
	assert.Equal(t, []float64{0.1, 0.2}, resp.Vectors[0])
	assert.Equal(t, []float64{0.3, 0.4}, resp.Vectors[1])
	assert.Equal(t, 7, resp.Tokens)
}

func TestEmbed_EmptyInputSkipsRequest(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})

	resp, err := cli.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Vectors)
}

func TestEmbed_TransientStatusIsRetryable(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := cli.Embed(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestEmbed_PermanentStatusIsNot(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := cli.Embed(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestEmbed_IndexOutOfRange(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"index": 5, "embedding": [0.1]}], "usage": {"total_tokens": 1}}`))
	})

	_, err := cli.Embed(context.Background(), []string{"alpha"})
	assert.Error(t, err)
}
