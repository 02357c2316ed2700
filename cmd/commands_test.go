package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"chat-rag/internal/chromemdb"
	"chat-rag/internal/config"
	"chat-rag/internal/models"
	"chat-rag/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	c := config.Default()
	c.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	c.VectorStore.InMemory = true
	return c
}

func TestNewPipeline_Chromem(t *testing.T) {
	p, err := newPipeline(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	_, ok := p.index.(*chromemdb.VectorDBManager)
	assert.True(t, ok)
	assert.NotNil(t, p.embedder)
}

func TestNewPipeline_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"vector store", func(c *config.Config) { c.VectorStore.Type = "faiss" }, "unknown vector store"},
		{"cache", func(c *config.Config) { c.Cache.Type = "s3" }, "unknown cache type"},
		{"embedder", func(c *config.Config) { c.EmbedLLM.Provider = "hf" }, "unknown embedding provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			tt.mutate(c)
			_, err := newPipeline(context.Background(), c)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"chat", "index", "ask"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))

	index, _, err := root.Find([]string{"index"})
	require.NoError(t, err)
	assert.NotNil(t, index.Flags().Lookup("dry-run"))
}

func TestPrintChunks(t *testing.T) {
	src := filepath.Join(t.TempDir(), "skin.md")
	require.NoError(t, os.WriteFile(src, []byte("# Acne\n\nAcne can be treated with benzoyl peroxide."), 0o644))

	ragCfg := testConfig(t).RAG
	ragCfg.Sources = []string{src}

	var out bytes.Buffer
	require.NoError(t, printChunks(context.Background(), &out, ragCfg, parser.WithLenFunc(utf8.RuneCountInString)))

	var chunks []models.Chunk
	require.NoError(t, json.Unmarshal(out.Bytes(), &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, src, chunks[0].Source)
	assert.Contains(t, chunks[0].Content, "benzoyl peroxide")
}
