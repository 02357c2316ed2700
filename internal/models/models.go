package models

// Document is the raw text of one source
type Document struct {
	Source  string
	Content string
}

// Chunk represents a split piece of a document with metadata
type Chunk struct {
	ID      string
	Source  string
	Content string
	ChunkID int
}

type ChunkEmbedding struct {
	Chunk
	Embedding []float32
}

// SearchResult is a chunk returned by the vector index with its similarity
type SearchResult struct {
	Chunk
	Similarity float32
}

// Turn is one question/answer exchange.
type Turn struct {
	Question string
	Answer   string
}

type PromptResponse struct {
	Query      string
	Standalone string
	Sources    []string
	Content    string
}
