package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays canned responses and records every request.
type scriptedClient struct {
	responses []openai.ChatCompletionResponse
	err       error
	requests  []openai.ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	if len(c.responses) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no scripted response left")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
	}}}
}

func toolCallResponse(id, name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:   id,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      name,
					Arguments: args,
				},
			}},
		},
		FinishReason: openai.FinishReasonToolCalls,
	}}}
}

func echoTool(calls *[]string) Tool {
	return Tool{
		Name:        "search_knowledge_base",
		Description: "search",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
		Invoke: func(_ context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			*calls = append(*calls, in.Query)
			return "context for " + in.Query, nil
		},
	}
}

func TestGenerateTextWithoutTools(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{textResponse("  ROS 2 is middleware.  ")}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	out, err := gen.GenerateText(context.Background(), TextRequest{
		Instructions: "be helpful",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "seed"},
			{Role: domain.RoleUser, Content: "What is ROS 2?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ROS 2 is middleware.", out)

	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)
	assert.Equal(t, "seed", msgs[1].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[2].Role)
	assert.Empty(t, client.requests[0].Tools)
}

func TestGenerateTextRunsToolCalls(t *testing.T) {
	var calls []string
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", "search_knowledge_base", `{"query":"ros2"}`),
		textResponse("answer [ROS](/docs/ros)"),
	}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m", MaxToolRounds: 3}, nil)

	out, err := gen.GenerateText(context.Background(), TextRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}},
		Tools:    []Tool{echoTool(&calls)},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer [ROS](/docs/ros)", out)
	assert.Equal(t, []string{"ros2"}, calls)

	require.Len(t, client.requests, 2)
	require.Len(t, client.requests[0].Tools, 1)
	assert.Equal(t, "search_knowledge_base", client.requests[0].Tools[0].Function.Name)

	second := client.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, openai.ChatMessageRoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "context for ros2", last.Content)
}

func TestGenerateTextPropagatesToolError(t *testing.T) {
	boom := errors.New("qdrant down")
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", "search_knowledge_base", `{"query":"x"}`),
	}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	_, err := gen.GenerateText(context.Background(), TextRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}},
		Tools: []Tool{{
			Name:       "search_knowledge_base",
			Parameters: json.RawMessage(`{}`),
			Invoke: func(context.Context, json.RawMessage) (string, error) {
				return "", boom
			},
		}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestGenerateTextUnknownToolRecovers(t *testing.T) {
	var calls []string
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", "browse_web", `{}`),
		textResponse("done"),
	}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	out, err := gen.GenerateText(context.Background(), TextRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}},
		Tools:    []Tool{echoTool(&calls)},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Empty(t, calls)
}

func TestGenerateTextToolRoundLimit(t *testing.T) {
	var calls []string
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse("c1", "search_knowledge_base", `{"query":"a"}`),
		toolCallResponse("c2", "search_knowledge_base", `{"query":"b"}`),
	}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m", MaxToolRounds: 1}, nil)

	_, err := gen.GenerateText(context.Background(), TextRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}},
		Tools:    []Tool{echoTool(&calls)},
	})
	assert.ErrorIs(t, err, ErrToolRoundsExceeded)
	require.Len(t, client.requests, 2)
	assert.Empty(t, client.requests[1].Tools, "tools are withheld once the limit is reached")
}

func TestGenerateTextEmptyAnswer(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{textResponse("   ")}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	_, err := gen.GenerateText(context.Background(), TextRequest{})
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestGenerateStructured(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		textResponse("```json\n{\"is_safe\":true,\"is_relevant\":false,\"reason\":\"weather\"}\n```"),
	}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	var verdict domain.SafetyVerdict
	err := gen.GenerateStructured(context.Background(), StructuredRequest{
		Instructions: "classify",
		Messages:     []domain.Message{{Role: domain.RoleUser, Content: "What's the weather today?"}},
		SchemaName:   "safety_verdict",
		Schema:       json.RawMessage(`{"type":"object"}`),
	}, &verdict)
	require.NoError(t, err)
	assert.True(t, verdict.IsSafe)
	assert.False(t, verdict.IsRelevant)
	assert.Equal(t, "weather", verdict.Reason)

	format := client.requests[0].ResponseFormat
	require.NotNil(t, format)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONSchema, format.Type)
	require.NotNil(t, format.JSONSchema)
	assert.Equal(t, "safety_verdict", format.JSONSchema.Name)
}

func TestGenerateStructuredMalformed(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{textResponse("I think it is fine")}}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	var verdict domain.SafetyVerdict
	err := gen.GenerateStructured(context.Background(), StructuredRequest{Schema: json.RawMessage(`{}`)}, &verdict)
	assert.Error(t, err)
}

func TestGenerateStructuredTransportError(t *testing.T) {
	client := &scriptedClient{err: errors.New("503")}
	gen := NewOpenAIGenerator(client, OpenAIConfig{Model: "m"}, nil)

	var verdict domain.SafetyVerdict
	err := gen.GenerateStructured(context.Background(), StructuredRequest{}, &verdict)
	assert.ErrorContains(t, err, "503")
}
