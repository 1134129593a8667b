package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/liliang-cn/groundchat/internal/llm"
	"github.com/liliang-cn/groundchat/internal/vectorstore"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	err     error
	dims    int
	queries []string
	modes   []llm.EmbedMode
	batches [][]string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, mode llm.EmbedMode) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dimensions()), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string, _ llm.EmbedMode) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dimensions())
	}
	return out, nil
}

func (f *fakeEmbedder) dimensions() int {
	if f.dims == 0 {
		return 4
	}
	return f.dims
}

type fakeIndex struct {
	hits     []vectorstore.Hit
	err      error
	topK     int
	minScore float64
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int, minScore float64) ([]vectorstore.Hit, error) {
	f.topK, f.minScore = topK, minScore
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeWriter struct {
	dims   int
	points []vectorstore.Point
	err    error
}

func (f *fakeWriter) EnsureCollection(_ context.Context, dims int) error {
	f.dims = dims
	return f.err
}

func (f *fakeWriter) Upsert(_ context.Context, points []vectorstore.Point) error {
	f.points = append(f.points, points...)
	return f.err
}

func textbookHit(score float64, content, source, title string) vectorstore.Hit {
	return vectorstore.Hit{
		Score: score,
		Payload: map[string]any{
			domain.PayloadKeyContent:      content,
			domain.PayloadKeySourceFile:   source,
			domain.PayloadKeyChapterTitle: title,
		},
	}
}

// fakeGenerator answers structured requests with verdict and text requests
// with answer. When callTool is set it first invokes the named tool with
// the latest user message and hands the result to answer.
type fakeGenerator struct {
	mu sync.Mutex

	verdict       domain.SafetyVerdict
	structuredErr error

	callTool string
	answer   func(toolResult string) string
	textErr  error
	// block waits for ctx to end before returning
	block bool

	structuredCalls []llm.StructuredRequest
	textCalls       []llm.TextRequest
}

func (f *fakeGenerator) GenerateStructured(_ context.Context, req llm.StructuredRequest, out any) error {
	f.mu.Lock()
	f.structuredCalls = append(f.structuredCalls, req)
	f.mu.Unlock()
	if f.structuredErr != nil {
		return f.structuredErr
	}
	raw, err := json.Marshal(f.verdict)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeGenerator) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.textErr != nil {
		return "", f.textErr
	}

	var result string
	if f.callTool != "" {
		tool, ok := findTool(req.Tools, f.callTool)
		if !ok {
			return "", errors.New("tool not offered: " + f.callTool)
		}
		args, _ := json.Marshal(map[string]string{"query": latestUser(req.Messages)})
		out, err := tool.Invoke(ctx, args)
		if err != nil {
			return "", err
		}
		result = out
	}
	if f.answer == nil {
		return result, nil
	}
	return f.answer(result), nil
}

func (f *fakeGenerator) lastText() llm.TextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls[len(f.textCalls)-1]
}

func findTool(tools []llm.Tool, name string) (llm.Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return llm.Tool{}, false
}

func latestUser(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// citeSources answers with the source lines of a tool result
func citeSources(toolResult string) string {
	var b strings.Builder
	b.WriteString("Here is what the textbook says.")
	for _, line := range strings.Split(toolResult, "\n") {
		if src, ok := strings.CutPrefix(line, "Source: "); ok {
			b.WriteString(" See " + src + ".")
		}
	}
	return b.String()
}
