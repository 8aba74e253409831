package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"docrag/internal/domain"
)

// Path names the stage that produced a retrieval result.
type Path string

const (
	PathVector   Path = "vector"
	PathFallback Path = "fallback"
)

// Searcher runs a per-document nearest-neighbour query. *vectorstore.Index
// implements it.
type Searcher interface {
	Search(ctx context.Context, documentID, query string, topK int) ([]domain.SearchResult, error)
}

// ContentFunc loads the raw text of a document. It is only called when the
// lexical fallback runs.
type ContentFunc func(ctx context.Context) (string, error)

// Text returns a ContentFunc for text that is already in memory.
func Text(content string) ContentFunc {
	return func(context.Context) (string, error) { return content, nil }
}

type Config struct {
	TopK           int
	FallbackChunks int
	Logger         *slog.Logger
}

// Result is the outcome of a retrieval. Degraded is non-nil when the vector
// stage failed; it wraps domain.ErrRetrievalDegraded and the cause.
type Result struct {
	Path     Path
	Items    []domain.ContextItem
	Degraded error
}

// Retriever tries vector search first and falls back to lexical scoring of
// the raw document text when vector search fails for any reason.
type Retriever struct {
	searcher Searcher
	cfg      Config
	log      *slog.Logger
}

func NewRetriever(searcher Searcher, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.FallbackChunks <= 0 {
		cfg.FallbackChunks = cfg.TopK
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{searcher: searcher, cfg: cfg, log: log}
}

// Retrieve never fails. When both stages are unusable the result is an empty
// fallback with Degraded describing why.
func (r *Retriever) Retrieve(ctx context.Context, documentID, question string, content ContentFunc) Result {
	hits, err := r.searcher.Search(ctx, documentID, question, r.cfg.TopK)
	if err == nil {
		items := make([]domain.ContextItem, len(hits))
		for i, h := range hits {
			items[i] = h.ContextItem()
		}
		return Result{Path: PathVector, Items: items}
	}

	r.log.Warn("retrieval degraded", "document_id", documentID, "error", err)
	degraded := fmt.Errorf("%w: %w", domain.ErrRetrievalDegraded, err)
	if content == nil {
		return Result{Path: PathFallback, Degraded: degraded}
	}
	text, cerr := content(ctx)
	if cerr != nil {
		r.log.Warn("fallback content unavailable", "document_id", documentID, "error", cerr)
		return Result{Path: PathFallback, Degraded: fmt.Errorf("%w; load content: %w", degraded, cerr)}
	}
	return Result{
		Path:     PathFallback,
		Items:    FallbackScore(text, question, r.cfg.FallbackChunks),
		Degraded: degraded,
	}
}
