// Package vectorstore provides the similarity search backend for knowledge
// retrieval.
package vectorstore

import "context"

// Hit is one scored search result
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Point is one vector with its payload, ready to be stored
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Index searches stored vectors by similarity
type Index interface {
	// Search returns at most topK hits scoring at least minScore, best first.
	Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]Hit, error)
}

// Writer stores vectors
type Writer interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, points []Point) error
}
