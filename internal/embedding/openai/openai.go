// Package openai implements embedding.Provider for OpenAI-compatible
// embedding APIs (OpenAI, Ollama, vLLM, ...).
package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/kindred/internal/embedding"
	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

const defaultModel = "text-embedding-3-small"

// Config selects the endpoint and model.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Client embeds text through langchaingo's OpenAI client.
type Client struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	logger     *slog.Logger
}

// New creates a client. Local OpenAI-compatible services that need no
// authentication can leave APIKey empty.
func New(cfg Config) (*Client, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai: dimensions must be positive, got %d", cfg.Dimensions)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	opts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(model),
		lcopenai.WithEmbeddingDimensions(cfg.Dimensions),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	return &Client{
		embedder:   embedder,
		model:      model,
		dimensions: cfg.Dimensions,
		logger:     slog.Default().With("component", "openai-embedder"),
	}, nil
}

func (c *Client) Name() string    { return "openai" }
func (c *Client) Dimensions() int { return c.dimensions }

// Model returns the embedding model in use.
func (c *Client) Model() string { return c.model }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	c.logger.Debug("generating embedding", "model", c.model, "length", len(text))

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vec, nil
}

var _ embedding.Provider = (*Client)(nil)
