package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/liliang-cn/groundchat/internal/llm"
	"github.com/liliang-cn/groundchat/internal/observability"
	"github.com/liliang-cn/groundchat/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// AnswerInstructions bind the main generation to retrieved content
const AnswerInstructions = `You are a helpful robotics tutor for the Physical AI and Humanoid Robotics course.

Rules:
1. Answer ONLY from textbook content returned by the search_knowledge_base tool.
2. Always keep the inline citations the tool provides, in the form [Chapter Title](/docs/path), next to the information they support.
3. If the tool finds no relevant content, say politely that the textbook does not cover it.
4. Never invent information or fall back on general knowledge.
5. Match the depth of the explanation to the student's level described in the system message.

Example:
"ROS 2 communicates over a DDS middleware layer [ROS 2 Architecture](/docs/module-1/ros2). Several implementations are supported, including Fast-DDS [DDS Middleware](/docs/module-1/dds)."

Be concise but thorough, and always cite sources.`

// ChatConfig tunes the answering pipeline
type ChatConfig struct {
	// MaxTokens bounds the context handed to the model; 0 sends everything
	MaxTokens int
	// LLMTimeout bounds the main generation call
	LLMTimeout time.Duration
}

// ChatService runs one guarded, retrieval-grounded turn per request
type ChatService struct {
	store     *repository.SessionStore
	guardrail *Guardrail
	generator llm.Generator
	tools     []llm.Tool
	cfg       ChatConfig
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(
	store *repository.SessionStore,
	guardrail *Guardrail,
	generator llm.Generator,
	knowledge *KnowledgeTool,
	cfg ChatConfig,
	metrics *observability.Metrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) *ChatService {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var tools []llm.Tool
	if knowledge != nil {
		tools = append(tools, knowledge.Tool())
	}
	return &ChatService{
		store:     store,
		guardrail: guardrail,
		generator: generator,
		tools:     tools,
		cfg:       cfg,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}
}

// Chat validates the request, resolves the session and runs the guarded
// generation. The user message stays on the session even when the turn is
// blocked or fails; an assistant message is only appended for a completed
// answer.
func (s *ChatService) Chat(ctx context.Context, req *domain.ChatRequest) (resp *domain.ChatResponse, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat.turn")
	defer span.End()
	defer func() { s.observe(span, start, err) }()

	if err := req.Normalize(); err != nil {
		return nil, err
	}

	sess := s.store.GetOrCreate(req.UserID, req.SessionID)
	span.SetAttributes(
		attribute.String("chat.session_id", sess.ID),
		attribute.String("chat.user_id", req.UserID),
	)

	if err := sess.AcquireTurn(ctx); err != nil {
		return nil, domain.NewAgentError(err)
	}
	defer sess.ReleaseTurn()

	if err := s.store.Append(sess, domain.RoleUser, req.Message); err != nil {
		return nil, domain.NewInternalError(err)
	}

	window := sess.ContextWindow(s.cfg.MaxTokens)
	if err := s.guardrail.Check(ctx, req.UserID, window); err != nil {
		return nil, err
	}

	answer, err := s.generate(ctx, window)
	if err != nil {
		return nil, err
	}
	// a caller that went away must not leave a stale answer behind
	if err := ctx.Err(); err != nil {
		return nil, domain.NewAgentError(err)
	}

	if err := s.store.Append(sess, domain.RoleAssistant, answer); err != nil {
		return nil, domain.NewInternalError(err)
	}

	citations := ExtractCitations(answer)
	s.metrics.CitationsPerAnswer.Observe(float64(len(citations)))

	resp = &domain.ChatResponse{
		Response:         answer,
		SessionID:        sess.ID,
		Citations:        citations,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		TokenCount:       sess.TokenCount(),
	}

	s.logger.Info("chat turn answered",
		zap.String("session_id", sess.ID),
		zap.String("user_id", req.UserID),
		zap.Int("citations", len(citations)),
		zap.Int("token_count", resp.TokenCount),
		zap.Int64("processing_time_ms", resp.ProcessingTimeMS),
	)
	return resp, nil
}

func (s *ChatService) generate(ctx context.Context, window []domain.Message) (string, error) {
	ctx, span := s.tracer.Start(ctx, "chat.generate")
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.StageDurationSeconds.WithLabelValues("generation").Observe(time.Since(start).Seconds())
	}()

	if s.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LLMTimeout)
		defer cancel()
	}

	answer, err := s.generator.GenerateText(ctx, llm.TextRequest{
		Instructions: AnswerInstructions,
		Messages:     window,
		Tools:        s.tools,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", classifyGenerationError(err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", domain.NewGenerationError(llm.ErrEmptyOutput)
	}
	return answer, nil
}

// classifyGenerationError keeps the code of a classified tool failure and
// maps everything else to an agent error.
func classifyGenerationError(err error) error {
	var ce *domain.ChatError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, llm.ErrEmptyOutput) {
		return domain.NewGenerationError(err)
	}
	return domain.NewAgentError(err)
}

func (s *ChatService) observe(span trace.Span, start time.Time, err error) {
	s.metrics.StageDurationSeconds.WithLabelValues("turn").Observe(time.Since(start).Seconds())
	s.metrics.ActiveSessions.Set(float64(s.store.Len()))

	if err == nil {
		s.metrics.RequestsTotal.WithLabelValues("answered").Inc()
		return
	}

	ce := domain.AsChatError(err)
	span.SetAttributes(attribute.String("chat.error_code", ce.Code))
	s.metrics.ErrorsTotal.WithLabelValues(ce.Code).Inc()
	switch ce.Kind {
	case domain.KindBlockedUnsafe, domain.KindBlockedIrrelevant:
		s.metrics.RequestsTotal.WithLabelValues("blocked").Inc()
	default:
		span.SetStatus(codes.Error, ce.Code)
		s.metrics.RequestsTotal.WithLabelValues("error").Inc()
	}
}

// EndSession ends a session owned by userID
func (s *ChatService) EndSession(sessionID, userID string) error {
	if _, err := s.owned(sessionID, userID); err != nil {
		return err
	}
	if !s.store.End(sessionID) {
		return domain.NewSessionNotFoundError()
	}
	s.metrics.ActiveSessions.Set(float64(s.store.Len()))
	s.logger.Info("session ended", zap.String("session_id", sessionID), zap.String("user_id", userID))
	return nil
}

// SessionSummary describes a session owned by userID
func (s *ChatService) SessionSummary(sessionID, userID string) (*domain.SessionSummary, error) {
	sess, err := s.owned(sessionID, userID)
	if err != nil {
		return nil, err
	}
	summary := sess.Summary()
	return &summary, nil
}

// owned returns the session when it is live and belongs to userID. Unknown
// and foreign sessions are reported the same way.
func (s *ChatService) owned(sessionID, userID string) (*repository.Session, error) {
	if !domain.ValidUserID(userID) {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, map[string]any{"field": "user_id"})
	}
	sess, ok := s.store.Get(sessionID)
	if !ok || sess.UserID != userID {
		return nil, domain.NewSessionNotFoundError()
	}
	return sess, nil
}

// Stats reports session store counters
func (s *ChatService) Stats() domain.Stats {
	return s.store.Stats()
}
