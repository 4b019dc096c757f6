// Package llm wraps the embedding and completion providers behind narrow
// interfaces, and hosts the conversational pieces built on top of them: the
// context resolver and the answer generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lexhaus/briefcase/internal/models"
)

type ClientConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	// Timeout bounds every outbound provider call.
	Timeout time.Duration
	// RateLimit is requests per second across all outbound calls.
	RateLimit float64
	// MaxInFlight caps concurrent provider calls (the permit pool).
	MaxInFlight int64
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Model == "" {
		c.Model = "mistral"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "nomic-embed-text:latest"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 4
	}
	return c
}

// embeddingModel is the slice of the provider's surface the client needs for
// embeddings; ollama.LLM satisfies it.
type embeddingModel interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is the single gateway to the model provider. Every call passes
// through the permit pool, the rate limiter and the circuit breaker, in that
// order, and carries a bounded timeout.
type Client struct {
	config   ClientConfig
	chat     llms.Model
	embedder embeddingModel
	limiter  *rate.Limiter
	permits  *semaphore.Weighted
	breaker  *gobreaker.CircuitBreaker
}

func NewClient(config ClientConfig) (*Client, error) {
	config = config.withDefaults()

	chat, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}

	embedder, err := ollama.New(
		ollama.WithModel(config.EmbeddingModel),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return newClient(config, chat, embedder), nil
}

func newClient(config ClientConfig, chat llms.Model, embedder embeddingModel) *Client {
	config = config.withDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		config:   config,
		chat:     chat,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		permits:  semaphore.NewWeighted(config.MaxInFlight),
		breaker:  breaker,
	}
}

// CreateEmbedding returns one vector per input text, in order. Callers are
// responsible for batching; provider limits cap a single call at around 100
// texts.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.embedder.CreateEmbedding(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding call failed: %v", models.ErrProviderUnavailable, err)
	}
	vectors := out.([][]float32)
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			models.ErrProviderUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

// Complete generates a single completion for a system + user prompt pair.
func (c *Client) Complete(ctx context.Context, system, prompt string, temperature float64, maxTokens int) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	out, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.chat.GenerateContent(ctx, content,
			llms.WithTemperature(temperature),
			llms.WithMaxTokens(maxTokens),
		)
	})
	if err != nil {
		return "", fmt.Errorf("%w: completion call failed: %v", models.ErrProviderUnavailable, err)
	}

	response := out.(*llms.ContentResponse)
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: provider returned no choices", models.ErrProviderUnavailable)
	}
	return response.Choices[0].Content, nil
}

func (c *Client) call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := c.permits.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.permits.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("provider circuit open: %w", err)
	}
	return out, err
}
