package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatCompleter is the subset of the go-openai client used for generation
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures an OpenAIGenerator
type OpenAIConfig struct {
	Model         string
	Temperature   float32
	MaxToolRounds int
}

// OpenAIGenerator implements Generator against any OpenAI-compatible chat
// completions endpoint.
type OpenAIGenerator struct {
	client ChatCompleter
	cfg    OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIClient builds a go-openai client for baseURL. An empty baseURL
// keeps the OpenAI default.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewOpenAIGenerator creates a generator for cfg.Model
func NewOpenAIGenerator(client ChatCompleter, cfg OpenAIConfig, logger *zap.Logger) *OpenAIGenerator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{client: client, cfg: cfg, logger: logger}
}

// GenerateText runs the chat completion loop: whenever the model answers
// with tool calls, every call is executed in order and its result appended
// as a tool message before asking again.
func (g *OpenAIGenerator) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	messages := buildMessages(req.Instructions, req.Messages)
	tools, byName := buildTools(req.Tools)

	for round := 0; ; round++ {
		chatReq := openai.ChatCompletionRequest{
			Model:       g.cfg.Model,
			Messages:    messages,
			Temperature: g.cfg.Temperature,
		}
		// past the limit the model must answer with what it has
		if round < g.cfg.MaxToolRounds {
			chatReq.Tools = tools
		}

		resp, err := g.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyOutput
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				return "", ErrEmptyOutput
			}
			return content, nil
		}
		if round >= g.cfg.MaxToolRounds {
			return "", ErrToolRoundsExceeded
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result, err := g.invokeTool(ctx, byName, call)
			if err != nil {
				return "", err
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
}

func (g *OpenAIGenerator) invokeTool(ctx context.Context, byName map[string]Tool, call openai.ToolCall) (string, error) {
	tool, ok := byName[call.Function.Name]
	if !ok {
		// the model hallucinated a tool; let it recover on the next round
		g.logger.Warn("model called unknown tool", zap.String("tool", call.Function.Name))
		return fmt.Sprintf("Unknown tool %q.", call.Function.Name), nil
	}

	args := json.RawMessage(call.Function.Arguments)
	if len(strings.TrimSpace(call.Function.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}

	g.logger.Debug("invoking tool", zap.String("tool", tool.Name), zap.String("call_id", call.ID))
	result, err := tool.Invoke(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	return result, nil
}

// GenerateStructured asks for a json_schema constrained response and
// decodes it into out.
func (g *OpenAIGenerator) GenerateStructured(ctx context.Context, req StructuredRequest, out any) error {
	name := req.SchemaName
	if name == "" {
		name = "response"
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    buildMessages(req.Instructions, req.Messages),
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("structured completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyOutput
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if content == "" {
		return ErrEmptyOutput
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func buildMessages(instructions string, history []domain.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instructions,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return messages
}

func buildTools(tools []Tool) ([]openai.Tool, map[string]Tool) {
	if len(tools) == 0 {
		return nil, nil
	}
	defs := make([]openai.Tool, len(tools))
	byName := make(map[string]Tool, len(tools))
	for i, t := range tools {
		defs[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
		byName[t.Name] = t
	}
	return defs, byName
}

// stripCodeFence removes a ```json fence some OpenAI-compatible backends
// wrap around structured output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
