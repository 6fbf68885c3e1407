// Package openai provides the embedding adapter backed by the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/davidbz/librarian/internal/config"
)

const (
	// Embedding dimensions for the supported OpenAI models.
	embeddingDimensionStandard = 1536 // Ada v2 and Small v3
	embeddingDimensionLarge    = 3072 // Large v3
)

// Generator generates embeddings using OpenAI.
type Generator struct {
	client openai.Client
	model  string
}

// NewGenerator creates a new OpenAI embedding generator.
func NewGenerator(cfg *config.OpenAIConfig) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.Timeout)*time.Second))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := cfg.EmbedModel
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	return &Generator{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Generate creates a vector embedding from text.
func (g *Generator) Generate(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	//nolint:exhaustruct // OpenAI SDK struct has many optional fields
	resp, err := g.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: openai.EmbeddingModel(g.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embeddings returned")
	}

	return resp.Data[0].Embedding, nil
}

// Name returns the generator identifier.
func (g *Generator) Name() string {
	return "openai"
}

// Dimension returns the vector dimension.
func (g *Generator) Dimension() int {
	switch g.model {
	case string(openai.EmbeddingModelTextEmbeddingAda002),
		string(openai.EmbeddingModelTextEmbedding3Small):
		return embeddingDimensionStandard
	case string(openai.EmbeddingModelTextEmbedding3Large):
		return embeddingDimensionLarge
	default:
		return embeddingDimensionStandard
	}
}
