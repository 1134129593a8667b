package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name      string
		rel       string
		data      string
		wantTitle string
		wantBody  string
	}{
		{
			name:      "front matter title",
			rel:       "module-1/week-3/ros2.md",
			data:      "---\ntitle: \"ROS 2 Architecture\"\nsidebar_position: 2\n---\n# Heading\n\nBody text.",
			wantTitle: "ROS 2 Architecture",
			wantBody:  "# Heading\n\nBody text.",
		},
		{
			name:      "first heading",
			rel:       "module-2/gazebo.md",
			data:      "Intro line\n\n# Gazebo Simulation\n\nText.",
			wantTitle: "Gazebo Simulation",
			wantBody:  "Intro line\n\n# Gazebo Simulation\n\nText.",
		},
		{
			name:      "file name fallback",
			rel:       "appendix/hardware-setup.md",
			data:      "## Only second level\n",
			wantTitle: "hardware setup",
			wantBody:  "## Only second level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := ParseDocument(tt.rel, []byte(tt.data))
			assert.Equal(t, tt.wantTitle, doc.ChapterTitle)
			assert.Equal(t, tt.wantBody, doc.Body)
			assert.Equal(t, domain.DocsSourcePrefix+tt.rel, doc.SourceFile)
		})
	}
}

func TestParseDocumentModuleAndWeek(t *testing.T) {
	doc := ParseDocument("module-1/week-3/ros2.md", []byte("# ROS 2"))
	assert.Equal(t, "module-1", doc.Module)
	assert.Equal(t, "week-3", doc.Week)
	assert.Equal(t, "/docs/module-1/week-3/ros2", domain.DocURLFromSource(doc.SourceFile))

	doc = ParseDocument("intro.md", []byte("# Intro"))
	assert.Empty(t, doc.Module)
	assert.Empty(t, doc.Week)
}

func TestSplitText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello world"}, SplitText("  hello world  ", 100, 10))
	})

	t.Run("empty text", func(t *testing.T) {
		assert.Nil(t, SplitText(" \n ", 100, 10))
	})

	t.Run("windows overlap and respect size", func(t *testing.T) {
		words := make([]string, 200)
		for i := range words {
			words[i] = "word"
		}
		text := strings.Join(words, " ")

		chunks := SplitText(text, 100, 20)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), 100)
			assert.False(t, strings.HasPrefix(c, " "))
		}
		joined := strings.Join(chunks, " ")
		assert.GreaterOrEqual(t, len(joined), len(text), "overlap repeats content")
	})

	t.Run("prefers paragraph breaks", func(t *testing.T) {
		text := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 70)
		chunks := SplitText(text, 100, 0)
		require.Len(t, chunks, 2)
		assert.Equal(t, strings.Repeat("a", 70), chunks[0])
		assert.Equal(t, strings.Repeat("b", 70), chunks[1])
	})

	t.Run("unbreakable text is hard split", func(t *testing.T) {
		chunks := SplitText(strings.Repeat("x", 250), 100, 0)
		assert.Equal(t, []string{strings.Repeat("x", 100), strings.Repeat("x", 100), strings.Repeat("x", 50)}, chunks)
	})
}

func TestIngestDir(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	write("module-1/week-3/ros2.md", "---\ntitle: ROS 2\n---\n"+strings.Repeat("ROS 2 nodes talk over topics. ", 10))
	write("module-2/gazebo.md", "# Gazebo\n\nA simulator.")
	write("module-2/image.png", "binary")

	emb := &fakeEmbedder{dims: 8}
	writer := &fakeWriter{}
	svc := NewIngestService(emb, writer, IngestConfig{ChunkSize: 120, ChunkOverlap: 20, BatchSize: 2}, nil)

	result, err := svc.IngestDir(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Files)
	assert.Equal(t, len(writer.points), result.Chunks)
	assert.Greater(t, result.Chunks, 2)
	assert.Equal(t, 8, writer.dims, "dimensions are probed from the embedder")

	seen := make(map[string]bool)
	for _, p := range writer.points {
		assert.False(t, seen[p.ID], "point ids are unique")
		seen[p.ID] = true
		assert.Len(t, p.Vector, 8)
		source := p.Payload[domain.PayloadKeySourceFile].(string)
		assert.True(t, strings.HasPrefix(source, "content/docs/module-"))
	}

	for _, batch := range emb.batches {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

func TestChunkPointIDIsStable(t *testing.T) {
	a := chunkPointID("content/docs/a.md", 0)
	assert.Equal(t, a, chunkPointID("content/docs/a.md", 0))
	assert.NotEqual(t, a, chunkPointID("content/docs/a.md", 1))
}
