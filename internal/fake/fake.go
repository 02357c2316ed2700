// Package fake holds deterministic stand-ins for the embedding and chat
// models so the pipeline can be exercised without a model server.
package fake

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

const Dimensions = 64

var words = regexp.MustCompile(`[a-z]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "be": true, "can": true,
	"what": true, "how": true, "do": true, "i": true, "it": true, "with": true,
	"of": true, "to": true, "and": true, "for": true,
}

// Embedder is a bag of words embedder. It counts every text it embeds.
type Embedder struct {
	mu    sync.Mutex
	Calls int
	Texts int
	Err   error
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}
	e.Texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// Vector hashes the non stop words of text into a fixed size count vector.
// A text without content words still gets a small constant component so the
// vector is never all zeros.
func Vector(text string) []float32 {
	v := make([]float32, Dimensions)
	v[0] = 0.01
	for _, w := range words.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[1+int(h.Sum32()%(Dimensions-1))]++
	}
	return v
}

// ChatModel answers with Respond, recording every request.
type ChatModel struct {
	mu       sync.Mutex
	Requests [][]llms.MessageContent
	Respond  func(messages []llms.MessageContent) (string, error)
}

var ErrNoResponder = errors.New("fake chat model has no responder")

func (m *ChatModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, messages)
	respond := m.Respond
	m.mu.Unlock()

	if respond == nil {
		return nil, ErrNoResponder
	}
	text, err := respond(messages)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (m *ChatModel) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Text returns the concatenated text parts of a message.
func Text(msg llms.MessageContent) string {
	var sb strings.Builder
	for _, p := range msg.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
