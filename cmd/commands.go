package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chat-rag/internal/chromemdb"
	"chat-rag/internal/config"
	"chat-rag/internal/console"
	"chat-rag/internal/db"
	"chat-rag/internal/embedding"
	"chat-rag/internal/fetcher"
	"chat-rag/internal/helper"
	"chat-rag/internal/history"
	"chat-rag/internal/llmservice"
	"chat-rag/internal/parser"
	"chat-rag/internal/rag"
)

func newChatCmd() *cobra.Command {
	var snapshot string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Build the index and answer questions from the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), snapshot)
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "load the index from a chromem snapshot instead of fetching sources")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var (
		export string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Fetch, split and embed the sources, warming the embedding cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun {
				return printChunks(cmd.Context(), cmd.OutOrStdout(), cfg.RAG)
			}

			p, err := newPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			stats, err := p.ingest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d chunks from %d documents\n", stats.Chunks, stats.Documents)

			if export == "" {
				return nil
			}
			m, ok := p.index.(*chromemdb.VectorDBManager)
			if !ok {
				return fmt.Errorf("--export needs the chromem vector store")
			}
			return m.Export(export)
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "write the chromem collection to this snapshot file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the chunks as JSON without embedding or indexing them")
	return cmd
}

// printChunks fetches and splits the sources, then dumps the chunks to w.
func printChunks(ctx context.Context, w io.Writer, ragCfg config.RAGConfig, opts ...parser.SplitterOption) error {
	docs, err := fetcher.New(ragCfg).FetchAll(ctx, ragCfg.Sources, ragCfg.SkipFailedSources)
	if err != nil {
		return err
	}
	chunks, err := parser.NewSplitter(ragCfg, opts...).SplitDocuments(docs)
	if err != nil {
		return err
	}
	log.Info().Int("documents", len(docs)).Int("chunks", len(chunks)).Msg("Dry run, nothing indexed")
	return helper.PrettyPrint(w, chunks)
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a single question without history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := newPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			if _, err := p.ingest(ctx); err != nil {
				return err
			}
			r, err := p.rag()
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			_, response, err := r.Query(ctx, history.New(), query)
			if err != nil {
				return err
			}

			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", query)

			log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", strings.Join(response.Sources, "\n"))

			log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", response.Content)
			return nil
		},
	}
}

func runChat(ctx context.Context, snapshot string) error {
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if snapshot != "" {
		m, ok := p.index.(*chromemdb.VectorDBManager)
		if !ok {
			return fmt.Errorf("--snapshot needs the chromem vector store")
		}
		if err := m.Import(snapshot, cfg.VectorStore.Collection); err != nil {
			return err
		}
		log.Info().Int("chunks", m.Count()).Str("snapshot", snapshot).Msg("Loaded index snapshot")
	} else if _, err := p.ingest(ctx); err != nil {
		return err
	}

	r, err := p.rag()
	if err != nil {
		return err
	}
	return console.NewSession(r, os.Stdin, os.Stdout).Run(ctx)
}

// pipeline owns the long lived collaborators of a run.
type pipeline struct {
	cfg      *config.Config
	store    embedding.ByteStore
	embedder *embedding.CachedEmbedder
	index    rag.VectorIndex
	closers  []func() error
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	p := &pipeline{cfg: cfg}

	store, err := embedding.NewStore(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	p.store = store
	p.closers = append(p.closers, store.Close)

	base, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.embedder = embedding.NewCachedEmbedder(base, store, cfg.EmbedLLM.Model,
		embedding.WithQueryCache(cfg.Cache.CacheQueries))

	switch cfg.VectorStore.Type {
	case "chromem":
		m, err := chromemdb.NewVectorDBManager(cfg.VectorStore.Path, cfg.VectorStore.InMemory, cfg.RAG.EncryptionKey, p.embedder.EmbedQuery)
		if err != nil {
			p.Close()
			return nil, err
		}
		if _, err := m.GetOrCreateCollection(cfg.VectorStore.Collection); err != nil {
			p.Close()
			return nil, err
		}
		p.index = m
	case "pgvector":
		s, err := db.Open(ctx, &cfg.Database, cfg.VectorStore.VectorSize)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.index = s
		p.closers = append(p.closers, s.Close)
	default:
		p.Close()
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
	return p, nil
}

func (p *pipeline) ingest(ctx context.Context) (rag.IngestStats, error) {
	return rag.Ingest(ctx,
		fetcher.New(p.cfg.RAG),
		parser.NewSplitter(p.cfg.RAG),
		p.embedder,
		p.index,
		p.cfg.RAG.Sources,
		p.cfg.RAG.SkipFailedSources,
	)
}

func (p *pipeline) rag() (*rag.RAG, error) {
	model, err := llmservice.NewChatModel(&p.cfg.ChatLLM)
	if err != nil {
		return nil, err
	}
	return rag.NewRAG(model, p.embedder, p.index, p.cfg), nil
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}
