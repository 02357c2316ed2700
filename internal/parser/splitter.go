package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-rag/internal/config"
	"chat-rag/internal/helper"
	"chat-rag/internal/models"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"
)

// Splitter cuts documents into chunks bounded by a token budget.
type Splitter struct {
	splitter textsplitter.RecursiveCharacter
}

type SplitterOption func(*splitterOptions)

type splitterOptions struct {
	lenFunc func(string) int
}

// WithLenFunc overrides how chunk length is measured. The default counts
// tokens with the configured tiktoken encoding.
func WithLenFunc(fn func(string) int) SplitterOption {
	return func(o *splitterOptions) {
		o.lenFunc = fn
	}
}

func NewSplitter(cfg config.RAGConfig, opts ...SplitterOption) *Splitter {
	o := splitterOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lenFunc == nil {
		o.lenFunc = tokenCounter(cfg.Encoding)
	}

	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithLenFunc(o.lenFunc),
		),
	}
}

// SplitDocuments splits every document, dropping blank chunks. ChunkID is
// 1-based per document and ID is derived from source, position and content.
func (s *Splitter) SplitDocuments(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, doc := range docs {
		texts, err := s.splitter.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", doc.Source, err)
		}
		n := 0
		for _, t := range texts {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			n++
			chunks = append(chunks, models.Chunk{
				ID:      chunkID(doc.Source, n, t),
				Source:  doc.Source,
				Content: t,
				ChunkID: n,
			})
		}
		log.Debug().Str("source", doc.Source).Int("chunks", n).Msg("Split document")
	}
	return chunks, nil
}

func chunkID(source string, n int, content string) string {
	return helper.HashContent(fmt.Sprintf("%s\x00%d\x00%s", source, n, content))
}

// tokenCounter falls back to a rune based estimate when the encoding can't be
// loaded, e.g. offline with no tiktoken cache.
func tokenCounter(encoding string) func(string) int {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("Token encoding unavailable, estimating tokens from runes")
		return func(s string) int {
			return (utf8.RuneCountInString(s) + 3) / 4
		}
	}
	return func(s string) int {
		return len(tke.Encode(s, nil, nil))
	}
}
