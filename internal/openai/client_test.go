package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtwerk-labs/wissen/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClientWithConfig(Config{
		APIKey:              "sk-test",
		BaseURL:             server.URL + "/v1",
		EmbeddingDimensions: 4,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewClientWithConfig_EmbeddingModelOverride(t *testing.T) {
	client, err := NewClientWithConfig(Config{
		APIKey:         "sk-test",
		EmbeddingModel: "text-embedding-3-small",
	})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", string(client.embeddingModel))
}

func TestEmbed_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3,0.4],"index":0}]}`)
	})

	embedding, err := client.Embed(context.Background(), "meter read fails")
	require.NoError(t, err)
	assert.Len(t, embedding, 4)
}

func TestEmbed_EmptyText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty text")
	})

	_, err := client.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestEmbed_WrongDimensions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2],"index":0}]}`)
	})

	_, err := client.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrWrongDimensions)
}

func TestEmbed_AuthErrorTranslated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := client.Embed(context.Background(), "text")
	assert.Equal(t, domain.ErrCompletionAuthFailed, err)
}

func TestComplete_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "high", req["reasoning_effort"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Check EMMA logs."}}]}`)
	})

	text, err := client.Complete(context.Background(), CompletionRequest{
		System: "assistant",
		Prompt: "why does meter read fail",
		Effort: "high",
	})
	require.NoError(t, err)
	assert.Equal(t, "Check EMMA logs.", text)
}

func TestComplete_RateLimitTranslated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	assert.Equal(t, domain.ErrCompletionRateLimited, err)
}

func TestStreamComplete_AccumulatesDeltas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Check \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"EMMA.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	full, err := client.StreamComplete(context.Background(), CompletionRequest{Prompt: "q"}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Check EMMA.", full)
	assert.Equal(t, []string{"Check ", "EMMA."}, deltas)
}
