package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"chat-rag/internal/helper"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// ByteStore is a write-once key value store for serialized embeddings.
type ByteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetIfAbsent never replaces an existing value.
	SetIfAbsent(ctx context.Context, key string, value []byte) error
	Close() error
}

var _ embeddings.Embedder = (*CachedEmbedder)(nil)

// CachedEmbedder returns stored vectors for text it has already embedded
// under the same namespace and only calls the wrapped embedder for misses.
type CachedEmbedder struct {
	underlying   embeddings.Embedder
	store        ByteStore
	namespace    string
	cacheQueries bool
}

type CacheOption func(*CachedEmbedder)

// WithQueryCache also caches EmbedQuery results, under a separate namespace.
func WithQueryCache(enabled bool) CacheOption {
	return func(c *CachedEmbedder) {
		c.cacheQueries = enabled
	}
}

// NewCachedEmbedder wraps underlying. namespace should identify the model.
func NewCachedEmbedder(underlying embeddings.Embedder, store ByteStore, namespace string, opts ...CacheOption) *CachedEmbedder {
	c := &CachedEmbedder{underlying: underlying, store: store, namespace: namespace}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key is the store key of text: namespace followed by the content hash.
func (c *CachedEmbedder) Key(text string) string {
	return c.namespace + helper.HashContent(text)
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	// misses keyed by text so duplicates are embedded once
	pending := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		v, ok, err := c.lookup(ctx, c.Key(text))
		if err != nil {
			return nil, err
		}
		if ok {
			vectors[i] = v
			continue
		}
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}

	log.Debug().Int("hits", len(texts)-len(missing)).Int("misses", len(missing)).Msg("Embedding cache lookup")
	if len(missing) == 0 {
		return vectors, nil
	}

	computed, err := c.underlying.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(computed), len(missing))
	}

	for j, text := range missing {
		if err := c.save(ctx, c.Key(text), computed[j]); err != nil {
			return nil, err
		}
		for _, i := range pending[text] {
			vectors[i] = computed[j]
		}
	}
	return vectors, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if !c.cacheQueries {
		return c.underlying.EmbedQuery(ctx, text)
	}

	key := "query:" + c.Key(text)
	if v, ok, err := c.lookup(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	v, err := c.underlying.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.save(ctx, key, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read embedding cache: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		// unreadable entries count as misses
		log.Warn().Err(err).Str("key", key).Msg("Corrupt embedding cache entry")
		return nil, false, nil
	}
	return v, true, nil
}

func (c *CachedEmbedder) save(ctx context.Context, key string, v []float32) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.store.SetIfAbsent(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}
