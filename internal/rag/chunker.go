// Package rag is the Retrieval Engine: it chunks and embeds knowledge
// documents, keeps their vectors in sync with the Context Store, and
// retrieves the chunks most relevant to a query.
package rag

import (
	"strings"
	"unicode/utf8"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// ChunkerConfig configures the text chunker. Sizes are in runes.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultChunkerConfig returns the defaults used when a knowledge base
// leaves its chunk settings empty.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// ConfigFor resolves the chunker settings of a knowledge base.
func ConfigFor(kb *models.KnowledgeBase) ChunkerConfig {
	cfg := DefaultChunkerConfig()
	if kb == nil {
		return cfg
	}
	if kb.Config.ChunkSize > 0 {
		cfg.ChunkSize = kb.Config.ChunkSize
	}
	if kb.Config.ChunkOverlap > 0 {
		cfg.ChunkOverlap = kb.Config.ChunkOverlap
	}
	return cfg.normalize()
}

func (c ChunkerConfig) normalize() ChunkerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 4
	}
	return c
}

// Span is one chunk window. Start and End are rune offsets, End exclusive.
type Span struct {
	Text     string
	Start    int
	End      int
	Position int
}

// Split cuts text into fixed-size rune windows. Consecutive windows share
// ChunkOverlap runes. Empty text yields no spans.
func Split(text string, cfg ChunkerConfig) []Span {
	cfg = cfg.normalize()
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := cfg.ChunkSize - cfg.ChunkOverlap
	var spans []Span
	for start := 0; ; start += step {
		end := min(start+cfg.ChunkSize, n)
		spans = append(spans, Span{
			Text:     string(runes[start:end]),
			Start:    start,
			End:      end,
			Position: len(spans),
		})
		if end == n {
			break
		}
	}
	return spans
}

// Reconstruct joins spans back into the original text by dropping the part
// of each span that overlaps its predecessor.
func Reconstruct(spans []Span) string {
	var sb strings.Builder
	prevEnd := 0
	for _, s := range spans {
		skip := max(prevEnd-s.Start, 0)
		text := s.Text
		for ; skip > 0 && text != ""; skip-- {
			_, size := utf8.DecodeRuneInString(text)
			text = text[size:]
		}
		sb.WriteString(text)
		prevEnd = s.End
	}
	return sb.String()
}
