package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"chat-rag/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	compress = true

	metaSource  = "source"
	metaChunkID = "chunk_id"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	encryptionKey string
}

// NewVectorDBManager initializes a new vector database manager. embed is only
// called for documents or queries that arrive without an embedding.
func NewVectorDBManager(dbPath string, inMemory bool, encryptionKey string, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		embed:         embed,
		dbPath:        dbPath,
		encryptionKey: encryptionKey,
	}, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Add stores chunks with their precomputed embeddings. Chunk IDs are content
// derived, so adding the same chunk again replaces it with itself.
func (m *VectorDBManager) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				metaSource:  c.Source,
				metaChunkID: strconv.Itoa(c.ChunkID),
			},
			Embedding: c.Embedding,
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns up to k chunks ordered by cosine similarity.
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	// chromem rejects nResults above the document count
	n := min(k, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		chunkID, _ := strconv.Atoi(r.Metadata[metaChunkID])
		out[i] = models.SearchResult{
			Chunk: models.Chunk{
				ID:      r.ID,
				Source:  r.Metadata[metaSource],
				Content: r.Content,
				ChunkID: chunkID,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if m.collection == nil {
		return nil
	}
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	return nil
}

// Reset drops every chunk of the current collection and recreates it empty
// under the same name. In a persistent database the files go too.
func (m *VectorDBManager) Reset(_ context.Context) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	name := m.collection.Name
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	if _, err := m.GetOrCreateCollection(name); err != nil {
		return err
	}
	log.Debug().Str("collection", name).Msg("Collection reset")
	return nil
}

// Export writes the current collection to filePath, encrypted when an
// encryption key is configured (chromem requires 32 bytes).
func (m *VectorDBManager) Export(filePath string) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", filePath).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting collection")

	err := m.db.ExportToFile(filePath, compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads collectionName from a snapshot written by Export and makes it
// the current collection.
func (m *VectorDBManager) Import(filePath, collectionName string) error {
	err := m.db.ImportFromFile(filePath, m.encryptionKey, collectionName)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(collectionName, m.embed)
	if c == nil {
		return fmt.Errorf("collection %s not found in %s", collectionName, filePath)
	}
	m.collection = c
	return nil
}
