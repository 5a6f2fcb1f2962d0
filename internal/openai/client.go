// Package openai wraps the OpenAI API for embeddings and completions.
// Raw transport errors are translated into the domain error taxonomy at this
// boundary and never reach core logic.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stadtwerk-labs/wissen/internal/domain"
)

const (
	// DefaultEmbeddingModel is the model used for generating embeddings
	DefaultEmbeddingModel = openai.LargeEmbedding3
	// DefaultEmbeddingDimensions is the dimension of text-embedding-3-large vectors
	DefaultEmbeddingDimensions = 3072
	// DefaultCompletionModel is the model used for synthesis and answers
	DefaultCompletionModel = openai.GPT4o
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when the OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY not configured")
)

// Config holds client configuration.
type Config struct {
	APIKey              string
	BaseURL             string // override for tests and proxies
	EmbeddingModel      string
	EmbeddingDimensions int
	CompletionModel     string
}

// Client wraps the OpenAI API for embeddings and completions.
type Client struct {
	api             *openai.Client
	embeddingModel  openai.EmbeddingModel
	dimensions      int
	completionModel string
}

// NewClient creates a new client using defaults.
func NewClient(apiKey string) (*Client, error) {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new client with explicit configuration.
func NewClientWithConfig(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := openai.EmbeddingModel(cfg.EmbeddingModel)
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	completionModel := cfg.CompletionModel
	if completionModel == "" {
		completionModel = DefaultCompletionModel
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &Client{
		api:             openai.NewClientWithConfig(apiConfig),
		embeddingModel:  model,
		dimensions:      dimensions,
		completionModel: completionModel,
	}, nil
}

// Dimensions returns the embedding dimension this client expects.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// CompletionModel returns the configured completion model name.
func (c *Client) CompletionModel() string {
	return c.completionModel
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeExternalService, "embedding service returned no data")
	}

	embedding := resp.Data[0].Embedding
	if len(embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(embedding))
	}
	return embedding, nil
}

// CompletionRequest is a request for a single completion.
type CompletionRequest struct {
	System string
	Prompt string
	Effort string // reasoning effort descriptor, e.g. "high"
	JSON   bool   // request a JSON object response
}

// Complete sends a completion request and returns the generated text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return "", translateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewDomainError(domain.ErrCodeExternalService, "completion service returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamComplete sends a completion request and delivers incremental text
// through onDelta. It returns the full accumulated text.
func (c *Client) StreamComplete(ctx context.Context, req CompletionRequest, onDelta func(string)) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return "", translateError(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", translateError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return full.String(), nil
}

func (c *Client) buildRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:  c.completionModel,
		Stream: stream,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.Effort != "" {
		out.ReasoningEffort = req.Effort
	}
	return out
}

// translateError maps OpenAI transport errors onto the domain taxonomy with
// actionable messages.
func translateError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrCompletionTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.ErrCompletionAuthFailed
		case http.StatusTooManyRequests:
			return domain.ErrCompletionRateLimited
		}
		return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService,
			fmt.Sprintf("OpenAI error (status %d)", apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "OpenAI request failed", err)
	}

	return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "OpenAI connection error", err)
}
