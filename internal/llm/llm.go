// Package llm defines the model capabilities the answering pipeline depends
// on and adapts OpenAI-compatible endpoints to them.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/liliang-cn/groundchat/internal/domain"
)

// ErrEmptyOutput is returned when the model finished without producing
// any content.
var ErrEmptyOutput = errors.New("model returned no content")

// ErrToolRoundsExceeded is returned when the model keeps calling tools past
// the configured limit.
var ErrToolRoundsExceeded = errors.New("model exceeded tool call rounds")

// Tool is a capability the model may invoke zero or more times before it
// produces its final answer.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema of the arguments object
	Parameters json.RawMessage
	Invoke     func(ctx context.Context, args json.RawMessage) (string, error)
}

// TextRequest asks for a free-text answer
type TextRequest struct {
	Instructions string
	Messages     []domain.Message
	Tools        []Tool
}

// StructuredRequest asks for an object matching Schema
type StructuredRequest struct {
	Instructions string
	Messages     []domain.Message
	SchemaName   string
	Schema       json.RawMessage
}

// Generator invokes a language model
type Generator interface {
	// GenerateText returns the model's final text answer, running any tool
	// calls the model makes along the way.
	GenerateText(ctx context.Context, req TextRequest) (string, error)

	// GenerateStructured decodes the model's schema-constrained output
	// into out.
	GenerateStructured(ctx context.Context, req StructuredRequest, out any) error
}

// EmbedMode selects how the embedding model should treat its input
type EmbedMode int

const (
	EmbedQuery EmbedMode = iota
	EmbedDocument
)

func (m EmbedMode) String() string {
	if m == EmbedDocument {
		return "document"
	}
	return "query"
}

// Embedder turns text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)
}
