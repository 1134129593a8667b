package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/liliang-cn/groundchat/internal/llm"
	"github.com/liliang-cn/groundchat/internal/observability"
	"github.com/liliang-cn/groundchat/internal/vectorstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	// SearchToolName is the name the model uses to invoke retrieval
	SearchToolName = "search_knowledge_base"
	// NoResultsSentinel is returned when no chunk clears the score threshold
	NoResultsSentinel = "No relevant content found in the textbook for this question."
	// ChunkSeparator joins formatted chunks
	ChunkSeparator = "\n\n---\n\n"
	// TruncationMarker follows content cut at the snippet limit
	TruncationMarker = "..."
)

var searchToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query to find relevant textbook content"
		}
	},
	"required": ["query"],
	"additionalProperties": false
}`)

// KnowledgeToolConfig tunes retrieval
type KnowledgeToolConfig struct {
	TopK         int
	MinScore     float64
	SnippetChars int
	EmbedTimeout time.Duration
}

// KnowledgeTool embeds a query, searches the index and formats the matches
// into a single context string for the model.
type KnowledgeTool struct {
	embedder llm.Embedder
	index    vectorstore.Index
	cfg      KnowledgeToolConfig
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewKnowledgeTool creates a new knowledge tool
func NewKnowledgeTool(
	embedder llm.Embedder,
	index vectorstore.Index,
	cfg KnowledgeToolConfig,
	metrics *observability.Metrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) *KnowledgeTool {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SnippetChars <= 0 {
		cfg.SnippetChars = 300
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeTool{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}
}

// Retrieve returns the chunks scoring at least MinScore, best first
func (k *KnowledgeTool) Retrieve(ctx context.Context, query string) ([]domain.KnowledgeChunk, error) {
	ctx, span := k.tracer.Start(ctx, "knowledge.retrieve", trace.WithAttributes(
		attribute.Int("retrieval.top_k", k.cfg.TopK),
		attribute.Float64("retrieval.min_score", k.cfg.MinScore),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		k.metrics.StageDurationSeconds.WithLabelValues("retrieval").Observe(time.Since(start).Seconds())
	}()

	vector, err := k.embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, domain.NewEmbeddingError(err)
	}

	hits, err := k.index.Search(ctx, vector, k.cfg.TopK, k.cfg.MinScore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, domain.NewSearchError(err)
	}

	chunks := make([]domain.KnowledgeChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score < k.cfg.MinScore {
			continue
		}
		chunks = append(chunks, domain.ChunkFromPayload(h.Payload, h.Score))
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(chunks)))
	k.metrics.RetrievalHits.Observe(float64(len(chunks)))
	k.logger.Debug("knowledge search",
		zap.Int("hits", len(chunks)),
		zap.Duration("latency", time.Since(start)),
	)
	return chunks, nil
}

func (k *KnowledgeTool) embed(ctx context.Context, query string) ([]float32, error) {
	if k.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.cfg.EmbedTimeout)
		defer cancel()
	}
	return k.embedder.Embed(ctx, query, llm.EmbedQuery)
}

// Search runs a retrieval and formats it as model context. Finding nothing
// is not an error: the sentinel text is returned instead.
func (k *KnowledgeTool) Search(ctx context.Context, query string) (string, error) {
	chunks, err := k.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatChunks(chunks, k.cfg.SnippetChars), nil
}

// Tool exposes Search as a capability the model can call
func (k *KnowledgeTool) Tool() llm.Tool {
	return llm.Tool{
		Name:        SearchToolName,
		Description: "Search the robotics textbook for content relevant to the question. Returns passages with citation links.",
		Parameters:  searchToolSchema,
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("decode %s arguments: %w", SearchToolName, err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return NoResultsSentinel, nil
			}
			return k.Search(ctx, in.Query)
		},
	}
}

// FormatChunks renders chunks as truncated content followed by a source
// line, joined by ChunkSeparator. No chunks yields NoResultsSentinel.
func FormatChunks(chunks []domain.KnowledgeChunk, snippetChars int) string {
	if len(chunks) == 0 {
		return NoResultsSentinel
	}

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("%s\n\nSource: %s", truncateRunes(c.Content, snippetChars), c.Markup())
	}
	return strings.Join(parts, ChunkSeparator)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + TruncationMarker
}
