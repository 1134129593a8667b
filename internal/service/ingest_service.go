package service

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/liliang-cn/groundchat/internal/llm"
	"github.com/liliang-cn/groundchat/internal/vectorstore"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// IngestConfig tunes chunking and batching
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	// Dimensions is the vector size used when the collection is created
	Dimensions int
}

// IngestResult summarizes one ingestion run
type IngestResult struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// IngestService indexes markdown course content into the vector store
type IngestService struct {
	embedder llm.Embedder
	writer   vectorstore.Writer
	cfg      IngestConfig
	logger   *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(embedder llm.Embedder, writer vectorstore.Writer, cfg IngestConfig, logger *zap.Logger) *IngestService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{embedder: embedder, writer: writer, cfg: cfg, logger: logger}
}

// IsMarkdown reports whether filename is a markdown source
func IsMarkdown(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// IngestDir indexes every markdown file below root. Files are stored under
// the content/docs/ source prefix so their citations resolve to /docs/.
func (s *IngestService) IngestDir(ctx context.Context, root string) (*IngestResult, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsMarkdown(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, ParseDocument(filepath.ToSlash(rel), data))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	dims := s.cfg.Dimensions
	if dims <= 0 {
		probe, err := s.embedder.Embed(ctx, "dimension probe", llm.EmbedDocument)
		if err != nil {
			return nil, fmt.Errorf("failed to probe embedding dimensions: %w", err)
		}
		dims = len(probe)
	}
	if err := s.writer.EnsureCollection(ctx, dims); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	var pending []pendingChunk
	for _, doc := range docs {
		chunks := SplitText(doc.Body, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
		for i, text := range chunks {
			pending = append(pending, pendingChunk{doc: doc, index: i, text: text})
		}
		result.Files++
		result.Chunks += len(chunks)
		s.logger.Debug("parsed document",
			zap.String("source_file", doc.SourceFile),
			zap.String("chapter_title", doc.ChapterTitle),
			zap.Int("chunks", len(chunks)),
		)
	}

	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(pending))
		if err := s.upsertBatch(ctx, pending[start:end]); err != nil {
			return nil, err
		}
		s.logger.Info("indexed batch", zap.Int("done", end), zap.Int("total", len(pending)))
	}

	return result, nil
}

type pendingChunk struct {
	doc   Document
	index int
	text  string
}

func (s *IngestService) upsertBatch(ctx context.Context, batch []pendingChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts, llm.EmbedDocument)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}

	points := make([]vectorstore.Point, len(batch))
	for i, c := range batch {
		points[i] = vectorstore.Point{
			ID:      chunkPointID(c.doc.SourceFile, c.index),
			Vector:  vectors[i],
			Payload: c.doc.payload(c.index, c.text),
		}
	}
	return s.writer.Upsert(ctx, points)
}

// chunkPointID is stable per source file and chunk so re-ingesting a file
// overwrites its earlier points.
func chunkPointID(sourceFile string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "%s#%d", sourceFile, index)).String()
}

// Document is a parsed markdown source ready for chunking
type Document struct {
	SourceFile   string
	ChapterTitle string
	Module       string
	Week         string
	Body         string
}

func (d Document) payload(index int, text string) map[string]any {
	p := map[string]any{
		domain.PayloadKeyContent:      text,
		domain.PayloadKeySourceFile:   d.SourceFile,
		domain.PayloadKeyChapterTitle: d.ChapterTitle,
		domain.PayloadKeyChunkIndex:   index,
	}
	if d.Module != "" {
		p[domain.PayloadKeyModule] = d.Module
	}
	if d.Week != "" {
		p[domain.PayloadKeyWeek] = d.Week
	}
	return p
}

type frontMatter struct {
	Title string `yaml:"title"`
}

// ParseDocument extracts the title, module and week of a markdown file at
// rel (relative to the docs root, slash separated). The title comes from
// front matter, then the first level-one heading, then the file name.
func ParseDocument(rel string, data []byte) Document {
	body, meta := splitFrontMatter(data)

	doc := Document{
		SourceFile: domain.DocsSourcePrefix + strings.TrimPrefix(rel, "/"),
		Body:       strings.TrimSpace(string(body)),
	}

	doc.ChapterTitle = strings.TrimSpace(meta.Title)
	if doc.ChapterTitle == "" {
		doc.ChapterTitle = firstHeading(doc.Body)
	}
	if doc.ChapterTitle == "" {
		base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
		doc.ChapterTitle = strings.ReplaceAll(base, "-", " ")
	}

	for _, seg := range strings.Split(rel, "/") {
		switch {
		case strings.HasPrefix(seg, "module-") && doc.Module == "":
			doc.Module = seg
		case strings.HasPrefix(seg, "week-") && doc.Week == "":
			doc.Week = seg
		}
	}
	return doc
}

func splitFrontMatter(data []byte) ([]byte, frontMatter) {
	var meta frontMatter
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return data, meta
	}

	rest := data[bytes.IndexByte(data, '\n')+1:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return data, meta
	}
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		meta = frontMatter{}
	}

	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return body, meta
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// SplitText cuts text into windows of at most size runes that overlap by
// overlap runes, preferring to break at a paragraph, line or word boundary
// in the second half of each window.
func SplitText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 || len(runes) <= size {
		return []string{string(runes)}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			if c := strings.TrimSpace(string(runes[start:])); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		end = start + breakPoint(runes[start:end])
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint returns where to end window, just past the last preferred
// separator found in its second half, or len(window).
func breakPoint(window []rune) int {
	text := string(window)
	half := len(text) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(text, sep); i > half {
			return len([]rune(text[:i+len(sep)]))
		}
	}
	return len(window)
}
