package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

func point(id, doc string, v ...float32) domain.VectorPoint {
	return domain.VectorPoint{ID: id, Vector: v, Payload: map[string]any{domain.PayloadDocumentID: doc, domain.PayloadText: id}}
}

func TestStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()

	info, err := s.Collection(ctx, "c")
	require.NoError(t, err)
	assert.False(t, info.Exists)

	require.NoError(t, s.CreateCollection(ctx, "c", 2, vectorstore.Cosine))
	assert.ErrorIs(t, s.CreateCollection(ctx, "c", 2, vectorstore.Cosine), domain.ErrCollectionExists)

	info, err = s.Collection(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.CollectionInfo{Exists: true, VectorSize: 2}, info)

	require.NoError(t, s.UpsertPoints(ctx, "c", []domain.VectorPoint{
		point("a1", "A", 1, 0),
		point("a2", "A", 0.7, 0.7),
		point("b1", "B", 1, 0),
	}))
	assert.Equal(t, 3, s.Len("c"))

	res, err := s.SearchPoints(ctx, "c", []float32{1, 0}, vectorstore.Filter{DocumentID: "A"}, 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a1", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.Equal(t, "a2", res[1].ID)

	res, err = s.SearchPoints(ctx, "c", []float32{1, 0}, vectorstore.Filter{DocumentID: "A"}, 1)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	require.NoError(t, s.DeletePoints(ctx, "c", vectorstore.Filter{DocumentID: "A"}))
	assert.Equal(t, 1, s.Len("c"))
	res, err = s.SearchPoints(ctx, "c", []float32{1, 0}, vectorstore.Filter{DocumentID: "A"}, 10)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStorageUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.CreateCollection(ctx, "c", 2, vectorstore.Cosine))
	require.NoError(t, s.UpsertPoints(ctx, "c", []domain.VectorPoint{point("p", "A", 1, 0)}))
	require.NoError(t, s.UpsertPoints(ctx, "c", []domain.VectorPoint{point("p", "A", 0, 1)}))
	assert.Equal(t, 1, s.Len("c"))

	res, err := s.SearchPoints(ctx, "c", []float32{0, 1}, vectorstore.Filter{DocumentID: "A"}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
}

func TestStorageDeleteExceptIngest(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.CreateCollection(ctx, "c", 2, vectorstore.Cosine))

	tagged := func(id, doc, ingest string) domain.VectorPoint {
		p := point(id, doc, 1, 0)
		p.Payload[domain.PayloadIngestID] = ingest
		return p
	}
	require.NoError(t, s.UpsertPoints(ctx, "c", []domain.VectorPoint{
		point("legacy", "A", 1, 0),
		tagged("old", "A", "run-1"),
		tagged("new", "A", "run-2"),
		tagged("other", "B", "run-1"),
	}))

	require.NoError(t, s.DeletePoints(ctx, "c", vectorstore.Filter{DocumentID: "A", ExceptIngestID: "run-2"}))
	assert.Equal(t, 2, s.Len("c"))

	res, err := s.SearchPoints(ctx, "c", []float32{1, 0}, vectorstore.Filter{DocumentID: "A"}, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "new", res[0].Text())
}

func TestStorageDimensionChecks(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.CreateCollection(ctx, "c", 3, vectorstore.Cosine))

	err := s.UpsertPoints(ctx, "c", []domain.VectorPoint{point("p", "A", 1, 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 0, s.Len("c"))

	_, err = s.SearchPoints(ctx, "c", []float32{1, 0}, vectorstore.Filter{DocumentID: "A"}, 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	assert.Error(t, s.CreateCollection(ctx, "z", 0, vectorstore.Cosine))
}

func TestCosineZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 0}))
}
