package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat-rag/internal/config"
	"chat-rag/internal/history"
	"chat-rag/internal/llmservice"
	"chat-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrModelCall marks failures of the chat model. The turn is lost but the
	// session can go on with the previous history.
	ErrModelCall = errors.New("model call failed")
	ErrRetrieval = errors.New("retrieval failed")
)

// VectorIndex stores chunk embeddings and finds the nearest ones. Reset
// removes everything stored so far.
type VectorIndex interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, chunks []models.ChunkEmbedding) error
	Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error)
}

// Decision says how a question is turned into a retrieval query.
type Decision int

const (
	// NoHistory uses the question as is.
	NoHistory Decision = iota
	// HasHistory asks the model for a standalone rewrite.
	HasHistory
)

func (d Decision) String() string {
	switch d {
	case NoHistory:
		return "no-history"
	case HasHistory:
		return "has-history"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

func Decide(h history.History) Decision {
	if h.Empty() {
		return NoHistory
	}
	return HasHistory
}

type RAG struct {
	model    llmservice.ChatModel
	embedder embeddings.Embedder
	index    VectorIndex
	topK     int
	maxTurns int
}

func NewRAG(model llmservice.ChatModel, embedder embeddings.Embedder, index VectorIndex, cfg *config.Config) *RAG {
	return &RAG{
		model:    model,
		embedder: embedder,
		index:    index,
		topK:     cfg.RAG.TopK,
		maxTurns: cfg.History.MaxTurns,
	}
}

// Reformulate returns a standalone version of question for retrieval.
func (r *RAG) Reformulate(ctx context.Context, h history.History, question string) (string, error) {
	decision := Decide(h)
	log.Debug().Stringer("decision", decision).Msg("Reformulating question")

	switch decision {
	case NoHistory:
		return question, nil
	case HasHistory:
		msgs := make([]llms.MessageContent, 0, 2*h.Len()+2)
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, models.ReformulatePrompt))
		msgs = append(msgs, h.Window(r.maxTurns).Messages()...)
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, question))

		standalone, err := llmservice.GenerateContent(ctx, r.model, msgs)
		if err != nil {
			return "", fmt.Errorf("%w: reformulating question: %w", ErrModelCall, err)
		}
		if standalone == "" {
			return question, nil
		}
		return standalone, nil
	}
	return "", fmt.Errorf("unknown decision %v", decision)
}

// Retrieve returns the topK chunks closest to query.
func (r *RAG) Retrieve(ctx context.Context, query string) ([]models.SearchResult, error) {
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrRetrieval, err)
	}

	docs, err := r.index.Search(ctx, queryEmbedding, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return docs, nil
}

// FormatContext joins chunk contents with a blank line.
func FormatContext(docs []models.SearchResult) string {
	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.Content
	}
	return strings.Join(parts, models.ContextSeparator)
}

// Query answers question in the context of h. On success the returned history
// is h plus the new turn. h itself is never modified.
func (r *RAG) Query(ctx context.Context, h history.History, question string) (history.History, models.PromptResponse, error) {
	standalone, err := r.Reformulate(ctx, h, question)
	if err != nil {
		return h, models.PromptResponse{}, err
	}

	docs, err := r.Retrieve(ctx, standalone)
	if err != nil {
		return h, models.PromptResponse{}, err
	}
	if len(docs) == 0 {
		log.Warn().Str("query", standalone).Msg("No context retrieved, answering without it")
	}

	msgs := make([]llms.MessageContent, 0, 2*h.Len()+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(models.QAPrompt, FormatContext(docs))))
	msgs = append(msgs, h.Window(r.maxTurns).Messages()...)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, question))

	answer, err := llmservice.GenerateContent(ctx, r.model, msgs)
	if err != nil {
		return h, models.PromptResponse{}, fmt.Errorf("%w: generating answer: %w", ErrModelCall, err)
	}

	response := models.PromptResponse{
		Query:      question,
		Standalone: standalone,
		Sources:    sources(docs),
		Content:    answer,
	}
	return h.Append(models.Turn{Question: question, Answer: answer}), response, nil
}

// sources lists the distinct sources of docs in retrieval order.
func sources(docs []models.SearchResult) []string {
	seen := make(map[string]bool, len(docs))
	var out []string
	for _, d := range docs {
		if d.Source == "" || seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		out = append(out, d.Source)
	}
	return out
}
