package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docrag/internal/domain"
)

// Config configures an Index.
type Config struct {
	Collection string
	// ReplaceOnReingest purges a document's earlier points once the new
	// points for it have been written.
	ReplaceOnReingest bool
	// EmbedConcurrency bounds parallel chunk embedding; <= 1 is sequential.
	EmbedConcurrency int
	Logger           *slog.Logger
}

// UpsertResult reports how many points an upsert wrote.
type UpsertResult struct {
	Upserted int
}

// Index stores chunk vectors of every document in one shared collection and
// isolates documents with a payload filter on documentId.
//
// The backend handle is built on first use and reused afterwards. A failed
// build is not cached, so the next call retries it.
type Index struct {
	embedder domain.Embedder
	connect  Connector
	cfg      Config
	log      *slog.Logger

	mu      sync.Mutex
	backend Backend
}

// NewIndex creates an index. No backend connection is made until the first
// operation needs one.
func NewIndex(embedder domain.Embedder, connect Connector, cfg Config) *Index {
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Index{embedder: embedder, connect: connect, cfg: cfg, log: log}
}

// Collection returns the name of the shared collection.
func (ix *Index) Collection() string { return ix.cfg.Collection }

func (ix *Index) client(ctx context.Context) (Backend, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.backend != nil {
		return ix.backend, nil
	}
	b, err := ix.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", domain.ErrVectorBackend, err)
	}
	ix.backend = b
	return b, nil
}

// EnsureCollection creates the collection with the given vector size and
// cosine distance unless it already exists. An existing collection with a
// different size is reported as domain.ErrDimensionMismatch.
func (ix *Index) EnsureCollection(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: invalid vector size %d", domain.ErrVectorBackend, size)
	}
	b, err := ix.client(ctx)
	if err != nil {
		return err
	}
	info, err := b.Collection(ctx, ix.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: collection %s: %w", domain.ErrVectorBackend, ix.cfg.Collection, err)
	}
	if !info.Exists {
		err := b.CreateCollection(ctx, ix.cfg.Collection, size, Cosine)
		switch {
		case err == nil:
			ix.log.Info("created collection", "collection", ix.cfg.Collection, "size", size)
			return nil
		case errors.Is(err, domain.ErrCollectionExists):
			// created concurrently; fall through to the size check
			info, err = b.Collection(ctx, ix.cfg.Collection)
			if err != nil {
				return fmt.Errorf("%w: collection %s: %w", domain.ErrVectorBackend, ix.cfg.Collection, err)
			}
		default:
			return fmt.Errorf("%w: create collection %s: %w", domain.ErrVectorBackend, ix.cfg.Collection, err)
		}
	}
	if info.VectorSize != 0 && info.VectorSize != size {
		return fmt.Errorf("%w: %w: collection %s has size %d, got %d",
			domain.ErrVectorBackend, domain.ErrDimensionMismatch, ix.cfg.Collection, info.VectorSize, size)
	}
	return nil
}

// Upsert embeds every chunk and writes one new point per chunk with payload
// {documentId, text, page, chunkIndex, ingestId} merged over metadata. Nothing
// is written unless every chunk embeds successfully, and with
// ReplaceOnReingest the earlier points of the document are only purged after
// the write succeeded.
func (ix *Index) Upsert(ctx context.Context, documentID string, chunks []domain.Chunk, metadata map[string]any) (UpsertResult, error) {
	if len(chunks) == 0 {
		return UpsertResult{}, nil
	}
	vectors := make([]domain.Vector, len(chunks))
	first, err := ix.embedder.Embed(ctx, chunks[0].Text)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("embed chunk %d: %w", chunks[0].Index, err)
	}
	vectors[0] = first
	if err := ix.EnsureCollection(ctx, len(first)); err != nil {
		return UpsertResult{}, err
	}
	if err := ix.embedRest(ctx, chunks, vectors); err != nil {
		return UpsertResult{}, err
	}

	ingestID := uuid.NewString()
	points := make([]domain.VectorPoint, len(chunks))
	for i, ch := range chunks {
		points[i] = domain.VectorPoint{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload(documentID, ingestID, ch, metadata),
		}
	}

	b, err := ix.client(ctx)
	if err != nil {
		return UpsertResult{}, err
	}
	if err := b.UpsertPoints(ctx, ix.cfg.Collection, points); err != nil {
		return UpsertResult{}, fmt.Errorf("%w: upsert %s: %w", domain.ErrVectorBackend, documentID, err)
	}
	if ix.cfg.ReplaceOnReingest {
		stale := Filter{DocumentID: documentID, ExceptIngestID: ingestID}
		if err := b.DeletePoints(ctx, ix.cfg.Collection, stale); err != nil {
			// the new points are in place; the next re-ingest purges the leftovers
			return UpsertResult{}, fmt.Errorf("%w: purge %s: %w", domain.ErrVectorBackend, documentID, err)
		}
	}
	ix.log.Info("upserted points", "document_id", documentID, "points", len(points), "collection", ix.cfg.Collection)
	return UpsertResult{Upserted: len(points)}, nil
}

// embedRest fills vectors[1:]. Each vector lands at its chunk's position
// regardless of completion order.
func (ix *Index) embedRest(ctx context.Context, chunks []domain.Chunk, vectors []domain.Vector) error {
	if ix.cfg.EmbedConcurrency <= 1 {
		for i := 1; i < len(chunks); i++ {
			v, err := ix.embedder.Embed(ctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunks[i].Index, err)
			}
			vectors[i] = v
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.EmbedConcurrency)
	for i := 1; i < len(chunks); i++ {
		i := i
		g.Go(func() error {
			v, err := ix.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunks[i].Index, err)
			}
			vectors[i] = v
			return nil
		})
	}
	return g.Wait()
}

// Search returns the topK points of documentID nearest to query.
func (ix *Index) Search(ctx context.Context, documentID, query string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := ix.EnsureCollection(ctx, len(vec)); err != nil {
		return nil, err
	}
	b, err := ix.client(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.SearchPoints(ctx, ix.cfg.Collection, vec, Filter{DocumentID: documentID}, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", domain.ErrVectorBackend, documentID, err)
	}
	return res, nil
}

// DeleteDocument removes every point stored for documentID.
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	b, err := ix.client(ctx)
	if err != nil {
		return err
	}
	info, err := b.Collection(ctx, ix.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: collection %s: %w", domain.ErrVectorBackend, ix.cfg.Collection, err)
	}
	if !info.Exists {
		return nil
	}
	if err := b.DeletePoints(ctx, ix.cfg.Collection, Filter{DocumentID: documentID}); err != nil {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrVectorBackend, documentID, err)
	}
	return nil
}

func payload(documentID, ingestID string, ch domain.Chunk, metadata map[string]any) map[string]any {
	p := make(map[string]any, len(metadata)+5)
	maps.Copy(p, metadata)
	p[domain.PayloadDocumentID] = documentID
	p[domain.PayloadIngestID] = ingestID
	p[domain.PayloadText] = ch.Text
	p[domain.PayloadChunkIndex] = ch.Index
	if ch.Page != nil {
		p[domain.PayloadPage] = *ch.Page
	} else {
		p[domain.PayloadPage] = nil
	}
	return p
}
