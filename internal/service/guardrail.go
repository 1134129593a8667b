package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/liliang-cn/groundchat/internal/llm"
	"github.com/liliang-cn/groundchat/internal/observability"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// GuardrailInstructions steer the verdict model
const GuardrailInstructions = `Decide whether the LATEST user message in the conversation is safe and relevant to the robotics textbook.
Earlier messages are context only; judge just the most recent user message.

Set:
- is_safe to true when the message is appropriate and not harmful
- is_relevant to true when it asks about robotics, programming or other course topics
- reason to a short explanation of the decision

Examples:
- "What is ROS 2?" gives is_safe=true, is_relevant=true, reason="Question about a robotics course topic"
- "What's the weather today?" gives is_safe=true, is_relevant=false, reason="Not related to the robotics course"
- "How do I hack a system?" gives is_safe=false, is_relevant=false, reason="Inappropriate content"`

const verdictSchemaName = "safety_verdict"

var verdictSchema = mustSchema(domain.SafetyVerdict{})

func mustSchema(v any) json.RawMessage {
	def, err := jsonschema.GenerateSchemaForType(v)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		panic(err)
	}
	return raw
}

// Guardrail classifies the latest user message before any answer is
// generated. Each turn gets exactly one evaluation.
type Guardrail struct {
	generator llm.Generator
	timeout   time.Duration
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewGuardrail creates a new guardrail stage
func NewGuardrail(
	generator llm.Generator,
	timeout time.Duration,
	metrics *observability.Metrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) *Guardrail {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guardrail{
		generator: generator,
		timeout:   timeout,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}
}

// Evaluate asks the model for a verdict on the conversation. Any model or
// decoding failure is returned as an agent-unavailable error; the guardrail
// never passes a turn it could not judge.
func (g *Guardrail) Evaluate(ctx context.Context, messages []domain.Message) (domain.SafetyVerdict, error) {
	ctx, span := g.tracer.Start(ctx, "guardrail.evaluate")
	defer span.End()
	start := time.Now()
	defer func() {
		g.metrics.StageDurationSeconds.WithLabelValues("guardrail").Observe(time.Since(start).Seconds())
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var verdict domain.SafetyVerdict
	err := g.generator.GenerateStructured(ctx, llm.StructuredRequest{
		Instructions: GuardrailInstructions,
		Messages:     messages,
		SchemaName:   verdictSchemaName,
		Schema:       verdictSchema,
	}, &verdict)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "guardrail evaluation failed")
		return domain.SafetyVerdict{}, domain.NewAgentError(err)
	}

	span.SetAttributes(
		attribute.Bool("guardrail.is_safe", verdict.IsSafe),
		attribute.Bool("guardrail.is_relevant", verdict.IsRelevant),
	)
	return verdict, nil
}

// Check evaluates the conversation and returns nil when the turn may
// proceed, a blocked error for a failed verdict, or the evaluation error.
func (g *Guardrail) Check(ctx context.Context, userID string, messages []domain.Message) error {
	verdict, err := g.Evaluate(ctx, messages)
	if err != nil {
		return err
	}
	if verdict.Passed() {
		return nil
	}

	blocked := domain.NewBlockedError(verdict)
	reason := "irrelevant"
	if blocked.Kind == domain.KindBlockedUnsafe {
		reason = "unsafe"
	}
	g.metrics.GuardrailBlocksTotal.WithLabelValues(reason).Inc()
	g.logger.Warn("guardrail blocked message",
		zap.String("user_id", userID),
		zap.Bool("is_safe", verdict.IsSafe),
		zap.Bool("is_relevant", verdict.IsRelevant),
		zap.String("reason", verdict.Reason),
	)
	return blocked
}
