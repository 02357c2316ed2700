package rag

import (
	"context"
	"fmt"

	"chat-rag/internal/embedding"
	"chat-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

type Fetcher interface {
	FetchAll(ctx context.Context, sources []string, skipFailed bool) ([]models.Document, error)
}

type Splitter interface {
	SplitDocuments(docs []models.Document) ([]models.Chunk, error)
}

type IngestStats struct {
	Documents int
	Chunks    int
}

// Ingest fetches sources, splits them, embeds the chunks and replaces the
// contents of index with them. It runs once at startup. The index is only
// reset once every chunk is embedded, so a failed run leaves it untouched.
func Ingest(ctx context.Context, fetcher Fetcher, splitter Splitter, embedder embeddings.Embedder, index VectorIndex, sources []string, skipFailed bool) (IngestStats, error) {
	docs, err := fetcher.FetchAll(ctx, sources, skipFailed)
	if err != nil {
		return IngestStats{}, err
	}

	chunks, err := splitter.SplitDocuments(docs)
	if err != nil {
		return IngestStats{}, err
	}

	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, embedder, chunks)
	if err != nil {
		return IngestStats{}, err
	}

	if err := index.Reset(ctx); err != nil {
		return IngestStats{}, fmt.Errorf("failed to reset index: %w", err)
	}
	if err := index.Add(ctx, chunkEmbeddings); err != nil {
		return IngestStats{}, fmt.Errorf("failed to index chunks: %w", err)
	}

	stats := IngestStats{Documents: len(docs), Chunks: len(chunks)}
	log.Info().Int("documents", stats.Documents).Int("chunks", stats.Chunks).Msg("Index built")
	return stats, nil
}
