package db

import (
	"context"
	"database/sql"
	"fmt"

	"chat-rag/internal/config"
	"chat-rag/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            string          `bun:"id,pk"`
	Source        string          `bun:"source,notnull"`
	ChunkID       int             `bun:"chunk_id,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull"`
	Distance      float64         `bun:"distance,scanonly"`
}

// Store is a pgvector backed vector index.
type Store struct {
	db         *bun.DB
	vectorSize int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.URL),
		pgdriver.WithPassword(cfg.Password),
	))
}

// Open connects to postgres and makes sure the chunks table exists.
func Open(ctx context.Context, cfg *config.DatabaseConfig, vectorSize int) (*Store, error) {
	s := &Store{db: NewDB(ConnectDB(cfg), cfg.Debug), vectorSize: vectorSize}
	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := s.Init(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
	id text PRIMARY KEY,
	source text NOT NULL,
	chunk_id integer NOT NULL,
	content text NOT NULL,
	embedding vector(%d) NOT NULL
)`, s.vectorSize))
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	return nil
}

// Add inserts chunks, skipping IDs that are already stored.
func (s *Store) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	rows, err := s.toRows(chunks)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// Search orders by cosine distance and reports 1 - distance as similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error) {
	if len(embedding) != s.vectorSize {
		return nil, fmt.Errorf("query embedding has %d dimensions, expected %d", len(embedding), s.vectorSize)
	}
	if k <= 0 {
		return nil, nil
	}

	query := pgvector.NewVector(embedding)
	var rows []Chunk
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "source", "chunk_id", "content").
		ColumnExpr("embedding <=> ? AS distance", query).
		OrderExpr("embedding <=> ?", query).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		results[i] = models.SearchResult{
			Chunk: models.Chunk{
				ID:      r.ID,
				Source:  r.Source,
				Content: r.Content,
				ChunkID: r.ChunkID,
			},
			Similarity: float32(1 - r.Distance),
		}
	}
	return results, nil
}

// drop table chunks
func (s *Store) Drop(ctx context.Context) error {
	if _, err := s.dropQuery().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop chunks table: %w", err)
	}
	return nil
}

func (s *Store) dropQuery() *bun.DropTableQuery {
	return s.db.NewDropTable().Model((*Chunk)(nil)).IfExists()
}

// Reset recreates an empty chunks table, so rows of an earlier index never
// outlive a change of sources or chunk settings.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.Init(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) toRows(chunks []models.ChunkEmbedding) ([]Chunk, error) {
	rows := make([]Chunk, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != s.vectorSize {
			return nil, fmt.Errorf("chunk %s has %d dimensions, expected %d", c.ID, len(c.Embedding), s.vectorSize)
		}
		rows[i] = Chunk{
			ID:        c.ID,
			Source:    c.Source,
			ChunkID:   c.ChunkID,
			Content:   c.Content,
			Embedding: pgvector.NewVector(c.Embedding),
		}
	}
	return rows, nil
}
