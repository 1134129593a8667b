package domain

import (
	"fmt"
	"strings"
)

// Payload keys stored with every indexed chunk
const (
	PayloadKeyContent      = "content"
	PayloadKeySourceFile   = "source_file"
	PayloadKeyChapterTitle = "chapter_title"
	PayloadKeyModule       = "module"
	PayloadKeyWeek         = "week"
	PayloadKeyChunkIndex   = "chunk_index"
)

const (
	// DocsSourcePrefix is the repository prefix of indexed markdown files
	DocsSourcePrefix = "content/docs/"
	// DocsURLPrefix is the site path the docs are served under
	DocsURLPrefix = "/docs/"
)

// KnowledgeChunk is one retrieved passage with its provenance
type KnowledgeChunk struct {
	Content        string  `json:"content"`
	SourceFile     string  `json:"source_file"`
	ChapterTitle   string  `json:"chapter_title"`
	Module         string  `json:"module,omitempty"`
	Week           string  `json:"week,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// DocURL returns the canonical site path for the chunk's source file
func (c KnowledgeChunk) DocURL() string {
	return DocURLFromSource(c.SourceFile)
}

// Citation converts the chunk to its API citation
func (c KnowledgeChunk) Citation() Citation {
	return Citation{
		ChapterTitle:   c.ChapterTitle,
		DocURL:         c.DocURL(),
		RelevanceScore: c.RelevanceScore,
	}
}

// Markup renders the chunk's citation as an inline markdown link
func (c KnowledgeChunk) Markup() string {
	return CitationMarkup(c.ChapterTitle, c.DocURL())
}

// DocURLFromSource rewrites content/docs/a/b.md to /docs/a/b.
func DocURLFromSource(sourceFile string) string {
	path := sourceFile
	if strings.HasPrefix(path, DocsSourcePrefix) {
		path = DocsURLPrefix + strings.TrimPrefix(path, DocsSourcePrefix)
	}
	return strings.TrimSuffix(path, ".md")
}

// CitationMarkup renders the inline citation form "[title](url)"
func CitationMarkup(title, url string) string {
	return fmt.Sprintf("[%s](%s)", title, url)
}

// ChunkFromPayload builds a KnowledgeChunk from an index payload and score
func ChunkFromPayload(payload map[string]any, score float64) KnowledgeChunk {
	str := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}
	return KnowledgeChunk{
		Content:        str(PayloadKeyContent),
		SourceFile:     str(PayloadKeySourceFile),
		ChapterTitle:   str(PayloadKeyChapterTitle),
		Module:         str(PayloadKeyModule),
		Week:           str(PayloadKeyWeek),
		RelevanceScore: score,
	}
}
