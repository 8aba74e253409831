package vectorstore

import (
	"context"

	"docrag/internal/domain"
)

// Distance is the similarity metric of a collection.
type Distance string

const Cosine Distance = "Cosine"

// CollectionInfo describes an existing (or missing) collection.
type CollectionInfo struct {
	Exists     bool
	VectorSize int
}

// Filter restricts points to a single document. A non-empty ExceptIngestID
// further excludes the points written by that ingest.
type Filter struct {
	DocumentID     string
	ExceptIngestID string
}

// Backend is a vector database holding named collections of points.
type Backend interface {
	Collection(ctx context.Context, name string) (CollectionInfo, error)
	// CreateCollection returns domain.ErrCollectionExists when another
	// caller created the collection first.
	CreateCollection(ctx context.Context, name string, size int, distance Distance) error
	UpsertPoints(ctx context.Context, name string, points []domain.VectorPoint) error
	SearchPoints(ctx context.Context, name string, vector domain.Vector, filter Filter, limit int) ([]domain.SearchResult, error)
	DeletePoints(ctx context.Context, name string, filter Filter) error
}

// Connector builds a backend handle. It is called lazily by Index.
type Connector func(ctx context.Context) (Backend, error)

// Static returns a connector that always yields b.
func Static(b Backend) Connector {
	return func(context.Context) (Backend, error) { return b, nil }
}
