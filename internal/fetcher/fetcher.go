package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"chat-rag/internal/config"
	"chat-rag/internal/models"
	"chat-rag/internal/parser"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
)

var (
	blankLines = regexp.MustCompile(`\n\s*\n\s*`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
)

// FetchError reports which source could not be loaded.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher loads web pages and local files as documents.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func New(cfg config.RAGConfig) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSecs) * time.Second},
		userAgent: cfg.UserAgent,
	}
}

// Fetch loads one source. http(s) URLs are downloaded and stripped of markup,
// anything else is read from disk.
func (f *Fetcher) Fetch(ctx context.Context, source string) (models.Document, error) {
	var (
		doc models.Document
		err error
	)
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		doc, err = f.fetchURL(ctx, source)
	case !parser.Supported(source):
		err = fmt.Errorf("unsupported file format: %s", filepath.Ext(source))
	default:
		doc, err = parser.ParseFile(strings.TrimPrefix(source, "file://"))
		doc.Source = source
	}
	if err != nil {
		return models.Document{}, &FetchError{Source: source, Err: err}
	}
	log.Debug().Str("source", source).Int("chars", len(doc.Content)).Msg("Fetched source")
	return doc, nil
}

// FetchAll loads every source in order. With skipFailed a failing source is
// logged and dropped, otherwise the first failure is returned.
func (f *Fetcher) FetchAll(ctx context.Context, sources []string, skipFailed bool) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(sources))
	for _, source := range sources {
		doc, err := f.Fetch(ctx, source)
		if err != nil {
			if !skipFailed || errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn().Err(err).Str("source", source).Msg("Skipping source")
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 && len(sources) > 0 {
		return nil, fmt.Errorf("no sources could be loaded")
	}
	return docs, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) (models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Document{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return models.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Document{}, fmt.Errorf("request failed: %d, %s", resp.StatusCode, string(body))
	}

	pages, err := documentloaders.NewHTML(resp.Body).Load(ctx)
	if err != nil {
		return models.Document{}, err
	}

	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.PageContent)
		sb.WriteString("\n\n")
	}
	return models.Document{Source: url, Content: cleanText(sb.String())}, nil
}

func cleanText(s string) string {
	s = spaceRuns.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
