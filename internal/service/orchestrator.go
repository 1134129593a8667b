package service

import (
	"errors"
	"fmt"

	"github.com/liliang-cn/groundchat/internal/config"
	"github.com/liliang-cn/groundchat/internal/llm"
	"github.com/liliang-cn/groundchat/internal/observability"
	"github.com/liliang-cn/groundchat/internal/repository"
	"github.com/liliang-cn/groundchat/internal/vectorstore"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrchestratorService builds the collaborators from configuration and owns
// the resources they share.
type OrchestratorService struct {
	Store     *repository.SessionStore
	Knowledge *KnowledgeTool
	Guardrail *Guardrail
	Chat      *ChatService
	Ingest    *IngestService
	Sweeper   *Sweeper
	Metrics   *observability.Metrics

	// Transcripts is nil when archiving is disabled
	Transcripts *repository.TranscriptRepository

	vector *vectorstore.QdrantStore
	db     *repository.DB
}

// Collaborators lets callers replace the external services, mainly in
// tests. Nil fields are built from configuration.
type Collaborators struct {
	ChatGenerator      llm.Generator
	GuardrailGenerator llm.Generator
	Embedder           llm.Embedder
	Index              vectorstore.Index
	Writer             vectorstore.Writer
}

// NewOrchestratorService wires every service from cfg
func NewOrchestratorService(
	cfg *config.Config,
	collab Collaborators,
	metrics *observability.Metrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) (*OrchestratorService, error) {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &OrchestratorService{Metrics: metrics}

	if collab.ChatGenerator == nil || collab.GuardrailGenerator == nil || collab.Embedder == nil {
		client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		if collab.ChatGenerator == nil {
			collab.ChatGenerator = llm.NewOpenAIGenerator(client, llm.OpenAIConfig{
				Model:         cfg.LLM.ChatModel,
				Temperature:   cfg.LLM.Temperature,
				MaxToolRounds: cfg.LLM.MaxToolRounds,
			}, logger.Named("generator"))
		}
		if collab.GuardrailGenerator == nil {
			collab.GuardrailGenerator = llm.NewOpenAIGenerator(client, llm.OpenAIConfig{
				Model: cfg.LLM.GuardrailModelName(),
			}, logger.Named("guardrail"))
		}
		if collab.Embedder == nil {
			collab.Embedder = llm.NewOpenAIEmbedder(client, llm.EmbedderConfig{
				Model:          cfg.LLM.EmbeddingModel,
				Dimensions:     cfg.LLM.EmbeddingDimensions,
				QueryPrefix:    cfg.LLM.QueryPrefix,
				DocumentPrefix: cfg.LLM.DocumentPrefix,
			})
		}
	}

	if collab.Index == nil || collab.Writer == nil {
		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.Vector.Host,
			Port:       cfg.Vector.Port,
			APIKey:     cfg.Vector.APIKey,
			UseTLS:     cfg.Vector.UseTLS,
			Collection: cfg.Vector.Collection,
			Timeout:    cfg.Vector.Timeout,
		})
		if err != nil {
			return nil, err
		}
		o.vector = store
		if collab.Index == nil {
			collab.Index = store
		}
		if collab.Writer == nil {
			collab.Writer = store
		}
	}

	storeOpts := []repository.StoreOption{repository.WithTimeout(cfg.Session.Timeout)}
	if cfg.Database.Path != "" {
		db, err := repository.NewDB(cfg.Database.Path)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to open transcript archive: %w", err)
		}
		o.db = db
		o.Transcripts = repository.NewTranscriptRepository(db)
		storeOpts = append(storeOpts, repository.WithEvictHook(
			NewArchiveHook(o.Transcripts, cfg.Vector.Timeout, logger.Named("archive")),
		))
	}
	o.Store = repository.NewSessionStore(storeOpts...)

	o.Knowledge = NewKnowledgeTool(collab.Embedder, collab.Index, KnowledgeToolConfig{
		TopK:         cfg.Vector.TopK,
		MinScore:     cfg.Vector.MinScore,
		SnippetChars: cfg.Retrieval.SnippetChars,
		EmbedTimeout: cfg.Retrieval.EmbedTimeout,
	}, metrics, tracer, logger.Named("knowledge"))

	o.Guardrail = NewGuardrail(collab.GuardrailGenerator, cfg.LLM.Timeout, metrics, tracer, logger.Named("guardrail"))

	o.Chat = NewChatService(o.Store, o.Guardrail, collab.ChatGenerator, o.Knowledge, ChatConfig{
		MaxTokens:  cfg.Session.MaxTokens,
		LLMTimeout: cfg.LLM.Timeout,
	}, metrics, tracer, logger.Named("chat"))

	o.Ingest = NewIngestService(collab.Embedder, collab.Writer, IngestConfig{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		BatchSize:    cfg.Ingest.BatchSize,
		Dimensions:   cfg.LLM.EmbeddingDimensions,
	}, logger.Named("ingest"))

	o.Sweeper = NewSweeper(o.Store, cfg.Session.SweepInterval, metrics, logger.Named("sweeper"))

	return o, nil
}

// Close releases the vector store connection and the transcript archive
func (o *OrchestratorService) Close() error {
	var errs []error
	if o.vector != nil {
		errs = append(errs, o.vector.Close())
	}
	if o.db != nil {
		errs = append(errs, o.db.Close())
	}
	return errors.Join(errs...)
}
