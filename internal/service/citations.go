package service

import (
	"regexp"
	"strings"

	"github.com/liliang-cn/groundchat/internal/domain"
)

// ParsedCitationScore is assigned to citations recovered from free text,
// where the retrieval score is no longer known.
const ParsedCitationScore = 1.0

var citationPattern = regexp.MustCompile(`\[([^\]]+)\]\((/docs/[^)]+)\)`)

// ExtractCitations returns one citation per distinct "[title](/docs/...)"
// link in text, in order of first appearance. No match yields an empty,
// non-nil slice.
func ExtractCitations(text string) []domain.Citation {
	citations := []domain.Citation{}
	seen := make(map[[2]string]struct{})

	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		key := [2]string{m[1], m[2]}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, domain.Citation{
			ChapterTitle:   m[1],
			DocURL:         m[2],
			RelevanceScore: ParsedCitationScore,
		})
	}
	return citations
}

// RenderCitations writes citations back as inline markup, one per line
func RenderCitations(citations []domain.Citation) string {
	lines := make([]string, len(citations))
	for i, c := range citations {
		lines[i] = domain.CitationMarkup(c.ChapterTitle, c.DocURL)
	}
	return strings.Join(lines, "\n")
}
