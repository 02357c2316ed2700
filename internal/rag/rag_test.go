package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"chat-rag/internal/chromemdb"
	"chat-rag/internal/config"
	"chat-rag/internal/embedding"
	"chat-rag/internal/fake"
	"chat-rag/internal/fetcher"
	"chat-rag/internal/history"
	"chat-rag/internal/models"
	"chat-rag/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const acneSentence = "Acne can be treated with benzoyl peroxide."

var skinDocs = []models.Document{
	{Source: "acne", Content: acneSentence},
	{Source: "ringworm", Content: "Ringworm is a fungal infection treated with antifungal cream."},
	{Source: "dandruff", Content: "Dandruff responds to medicated shampoo used twice a week."},
}

type stubFetcher struct {
	docs []models.Document
}

func (f stubFetcher) FetchAll(context.Context, []string, bool) ([]models.Document, error) {
	return f.docs, nil
}

// recordingIndex keeps what was added, for comparing ingest runs.
type recordingIndex struct {
	VectorIndex
	added []models.ChunkEmbedding
}

func (r *recordingIndex) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	r.added = append(r.added, chunks...)
	return r.VectorIndex.Add(ctx, chunks)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RAG.TopK = 1
	return cfg
}

func newIndex(t *testing.T) *chromemdb.VectorDBManager {
	t.Helper()
	idx, err := chromemdb.NewVectorDBManager(t.TempDir(), true, "", (&fake.Embedder{}).EmbedQuery)
	require.NoError(t, err)
	_, err = idx.GetOrCreateCollection("test")
	require.NoError(t, err)
	return idx
}

func newSplitter() *parser.Splitter {
	return parser.NewSplitter(config.RAGConfig{ChunkSize: 250}, parser.WithLenFunc(utf8.RuneCountInString))
}

// newPipeline indexes docs and returns a RAG around model.
func newPipeline(t *testing.T, model *fake.ChatModel, docs []models.Document) *RAG {
	t.Helper()
	embedder := &fake.Embedder{}
	idx := newIndex(t)
	_, err := Ingest(context.Background(), stubFetcher{docs}, newSplitter(), embedder, idx, nil, false)
	require.NoError(t, err)
	return NewRAG(model, embedder, idx, testConfig())
}

func isReformulation(msgs []llms.MessageContent) bool {
	return len(msgs) > 0 && msgs[0].Role == llms.ChatMessageTypeSystem && fake.Text(msgs[0]) == models.ReformulatePrompt
}

func TestDecide(t *testing.T) {
	assert.Equal(t, NoHistory, Decide(history.New()))
	assert.Equal(t, HasHistory, Decide(history.New(models.Turn{Question: "q", Answer: "a"})))
	assert.Equal(t, "no-history", NoHistory.String())
	assert.Equal(t, "has-history", HasHistory.String())
}

func TestReformulate_EmptyHistoryIsIdentity(t *testing.T) {
	model := &fake.ChatModel{}
	r := NewRAG(model, &fake.Embedder{}, newIndex(t), testConfig())

	for _, q := range []string{"What treats acne?", "  spaced  ", "", "How do I treat it?"} {
		got, err := r.Reformulate(context.Background(), history.New(), q)
		require.NoError(t, err)
		assert.Equal(t, q, got)
	}
	assert.Zero(t, model.Count(), "no model call without history")
}

func TestReformulate_WithHistory(t *testing.T) {
	model := &fake.ChatModel{Respond: func(msgs []llms.MessageContent) (string, error) {
		return "How do I treat acne?", nil
	}}
	r := NewRAG(model, &fake.Embedder{}, newIndex(t), testConfig())
	h := history.New(models.Turn{Question: "What is acne?", Answer: "Acne is a skin condition."})

	got, err := r.Reformulate(context.Background(), h, "How do I treat it?")
	require.NoError(t, err)
	assert.Equal(t, "How do I treat acne?", got)

	require.Equal(t, 1, model.Count())
	msgs := model.Requests[0]
	require.Len(t, msgs, 4)
	assert.True(t, isReformulation(msgs))
	assert.Equal(t, "What is acne?", fake.Text(msgs[1]))
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, "How do I treat it?", fake.Text(msgs[3]))
}

func TestReformulate_ModelError(t *testing.T) {
	boom := errors.New("ollama down")
	model := &fake.ChatModel{Respond: func([]llms.MessageContent) (string, error) { return "", boom }}
	r := NewRAG(model, &fake.Embedder{}, newIndex(t), testConfig())
	h := history.New(models.Turn{Question: "q", Answer: "a"})

	_, err := r.Reformulate(context.Background(), h, "follow up")
	assert.ErrorIs(t, err, ErrModelCall)
	assert.ErrorIs(t, err, boom)
}

func TestRetrieve_FindsAcneChunk(t *testing.T) {
	r := newPipeline(t, &fake.ChatModel{}, []models.Document{{Source: "acne", Content: acneSentence}})

	docs, err := r.Retrieve(context.Background(), "What treats acne?")
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Contains(t, docs[0].Content, acneSentence)
}

func TestQuery_FirstTurn(t *testing.T) {
	model := &fake.ChatModel{Respond: func([]llms.MessageContent) (string, error) {
		return "Benzoyl peroxide treats acne.", nil
	}}
	r := newPipeline(t, model, skinDocs)
	h := history.New()

	next, resp, err := r.Query(context.Background(), h, "What treats acne?")
	require.NoError(t, err)

	assert.Equal(t, 0, h.Len())
	require.Equal(t, 1, next.Len())
	assert.Equal(t, models.Turn{Question: "What treats acne?", Answer: "Benzoyl peroxide treats acne."}, next.Turns()[0])
	assert.Equal(t, "What treats acne?", resp.Standalone)
	assert.Equal(t, []string{"acne"}, resp.Sources)

	require.Equal(t, 1, model.Count(), "only the answer call, no reformulation")
	msgs := model.Requests[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.True(t, strings.HasSuffix(fake.Text(msgs[0]), "\n\n"+acneSentence))
	assert.Equal(t, "What treats acne?", fake.Text(msgs[1]))
}

func TestQuery_FollowUpIsReformulatedBeforeRetrieval(t *testing.T) {
	model := &fake.ChatModel{Respond: func(msgs []llms.MessageContent) (string, error) {
		if isReformulation(msgs) {
			return "How do I treat acne?", nil
		}
		return "Use benzoyl peroxide.", nil
	}}
	r := newPipeline(t, model, skinDocs)
	h := history.New(models.Turn{Question: "What is acne?", Answer: "Acne is a skin condition."})

	next, resp, err := r.Query(context.Background(), h, "How do I treat it?")
	require.NoError(t, err)

	assert.Contains(t, strings.ToLower(resp.Standalone), "acne")
	assert.Equal(t, []string{"acne"}, resp.Sources)
	require.Equal(t, 2, next.Len())
	assert.Equal(t, "How do I treat it?", next.Turns()[1].Question, "history keeps the question as asked")

	require.Equal(t, 2, model.Count())
	answer := model.Requests[1]
	require.Len(t, answer, 4)
	assert.Contains(t, fake.Text(answer[0]), acneSentence)
	assert.Equal(t, "What is acne?", fake.Text(answer[1]))
	assert.Equal(t, "How do I treat it?", fake.Text(answer[3]))
}

func TestQuery_ModelFailureKeepsHistory(t *testing.T) {
	boom := errors.New("timeout")
	model := &fake.ChatModel{Respond: func([]llms.MessageContent) (string, error) { return "", boom }}
	r := newPipeline(t, model, skinDocs)
	h := history.New(models.Turn{Question: "What is acne?", Answer: "Acne is a skin condition."})

	got, _, err := r.Query(context.Background(), h, "How do I treat it?")
	require.ErrorIs(t, err, ErrModelCall)
	assert.Equal(t, h.Turns(), got.Turns())
}

func TestQuery_EmptyIndexAnswersWithoutContext(t *testing.T) {
	model := &fake.ChatModel{Respond: func([]llms.MessageContent) (string, error) { return "I don't know.", nil }}
	r := NewRAG(model, &fake.Embedder{}, newIndex(t), testConfig())

	next, resp, err := r.Query(context.Background(), history.New(), "What treats acne?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", resp.Content)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 1, next.Len())
}

func TestQuery_RetrievalError(t *testing.T) {
	embedder := &fake.Embedder{Err: errors.New("embedder offline")}
	model := &fake.ChatModel{}
	r := NewRAG(model, embedder, newIndex(t), testConfig())

	_, _, err := r.Query(context.Background(), history.New(), "acne?")
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Zero(t, model.Count())
}

func TestQuery_HistoryWindow(t *testing.T) {
	model := &fake.ChatModel{Respond: func([]llms.MessageContent) (string, error) { return "ok", nil }}
	cfg := testConfig()
	cfg.History.MaxTurns = 1
	embedder := &fake.Embedder{}
	r := NewRAG(model, embedder, newIndex(t), cfg)

	h := history.New(
		models.Turn{Question: "old", Answer: "old answer"},
		models.Turn{Question: "recent", Answer: "recent answer"},
	)
	next, _, err := r.Query(context.Background(), h, "next")
	require.NoError(t, err)
	assert.Equal(t, 3, next.Len(), "the window bounds the prompt, not the stored history")

	for _, msgs := range model.Requests {
		require.Len(t, msgs, 4)
		assert.Equal(t, "recent", fake.Text(msgs[1]))
	}
}

func TestFormatContext(t *testing.T) {
	docs := []models.SearchResult{
		{Chunk: models.Chunk{Content: "one"}},
		{Chunk: models.Chunk{Content: "two"}},
	}
	assert.Equal(t, "one\n\ntwo", FormatContext(docs))
	assert.Equal(t, "", FormatContext(nil))
}

func TestIngest_WarmCacheIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "skin.txt")
	require.NoError(t, os.WriteFile(src, []byte(acneSentence+"\n\nRingworm is a fungal infection."), 0o644))
	cacheDir := filepath.Join(dir, "cache")

	run := func() ([]models.ChunkEmbedding, int) {
		store, err := embedding.NewFileStore(cacheDir)
		require.NoError(t, err)
		underlying := &fake.Embedder{}
		cached := embedding.NewCachedEmbedder(underlying, store, "fake-model")
		idx := &recordingIndex{VectorIndex: newIndex(t)}

		f := fetcher.New(config.RAGConfig{FetchTimeoutSecs: 1})
		splitter := parser.NewSplitter(config.RAGConfig{ChunkSize: 45}, parser.WithLenFunc(utf8.RuneCountInString))
		stats, err := Ingest(ctx, f, splitter, cached, idx, []string{src}, false)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Documents)
		assert.Equal(t, 2, stats.Chunks)
		return idx.added, underlying.Texts
	}

	first, coldTexts := run()
	second, warmTexts := run()

	assert.Equal(t, 2, coldTexts)
	assert.Zero(t, warmTexts, "warm cache answers every chunk")
	assert.Equal(t, first, second)
}

func TestIngest_FetchError(t *testing.T) {
	f := fetcher.New(config.RAGConfig{FetchTimeoutSecs: 1})
	_, err := Ingest(context.Background(), f, newSplitter(), &fake.Embedder{}, newIndex(t),
		[]string{filepath.Join(t.TempDir(), "missing.txt")}, false)

	var fe *fetcher.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestIngest_ReplacesEarlierRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	embedder := &fake.Embedder{}
	open := func() *chromemdb.VectorDBManager {
		idx, err := chromemdb.NewVectorDBManager(dir, false, "", embedder.EmbedQuery)
		require.NoError(t, err)
		_, err = idx.GetOrCreateCollection("test")
		require.NoError(t, err)
		return idx
	}

	old := []models.Document{{Source: "old", Content: "Ringworm is a fungal infection treated with antifungal cream."}}
	_, err := Ingest(ctx, stubFetcher{old}, newSplitter(), embedder, open(), nil, false)
	require.NoError(t, err)

	idx := open()
	updated := []models.Document{{Source: "new", Content: acneSentence}}
	_, err = Ingest(ctx, stubFetcher{updated}, newSplitter(), embedder, idx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Count())

	r := NewRAG(&fake.ChatModel{}, embedder, idx, testConfig())
	docs, err := r.Retrieve(ctx, "ringworm fungal")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "new", docs[0].Source)
}

// failingIndex counts resets and fails every call.
type failingIndex struct {
	VectorIndex
	resets int
}

func (f *failingIndex) Reset(context.Context) error {
	f.resets++
	return errors.New("disk full")
}

func TestIngest_ResetFailure(t *testing.T) {
	idx := &failingIndex{}
	_, err := Ingest(context.Background(), stubFetcher{skinDocs}, newSplitter(), &fake.Embedder{}, idx, nil, false)
	assert.ErrorContains(t, err, "failed to reset index")
	assert.Equal(t, 1, idx.resets)
}

func TestIngest_FetchErrorKeepsIndex(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	_, err := Ingest(ctx, stubFetcher{skinDocs}, newSplitter(), &fake.Embedder{}, idx, nil, false)
	require.NoError(t, err)

	f := fetcher.New(config.RAGConfig{FetchTimeoutSecs: 1})
	_, err = Ingest(ctx, f, newSplitter(), &fake.Embedder{}, idx, []string{filepath.Join(t.TempDir(), "missing.txt")}, false)
	require.Error(t, err)
	assert.Equal(t, 3, idx.Count())
}
