package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingCreator is the subset of the go-openai client used for embeddings
type EmbeddingCreator interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// EmbedderConfig configures an OpenAIEmbedder
type EmbedderConfig struct {
	Model string
	// Dimensions requests a specific vector length; 0 keeps the model's
	// native size. When set, responses of any other length are rejected.
	Dimensions int
	// QueryPrefix and DocumentPrefix are prepended to inputs for models
	// that encode the task in the text (nomic-embed-text, e5).
	QueryPrefix    string
	DocumentPrefix string
}

// OpenAIEmbedder implements Embedder over an OpenAI-compatible embeddings
// endpoint.
type OpenAIEmbedder struct {
	client EmbeddingCreator
	cfg    EmbedderConfig
}

// NewOpenAIEmbedder creates a new embedder
func NewOpenAIEmbedder(client EmbeddingCreator, cfg EmbedderConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, cfg: cfg}
}

// Embed generates the embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}
	vectors, err := e.EmbedBatch(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts, preserving input order
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts cannot be empty")
	}

	prefix := e.cfg.QueryPrefix
	if mode == EmbedDocument {
		prefix = e.cfg.DocumentPrefix
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = prefix + t
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: e.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s embeddings: %w", mode, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if e.cfg.Dimensions > 0 && len(d.Embedding) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(d.Embedding), e.cfg.Dimensions)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", d.Index)
		}
		if vectors[d.Index] != nil {
			return nil, fmt.Errorf("embedding index %d returned twice", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
