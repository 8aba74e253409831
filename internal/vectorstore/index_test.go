package vectorstore_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
)

var vocabulary = []string{"apple", "banana", "cherry", "date"}

// keywordEmbedder maps text onto counts of a tiny vocabulary, plus a bias
// dimension so no vector is all zero.
type keywordEmbedder struct {
	failOn string
	calls  atomic.Int32
}

func (e *keywordEmbedder) Name() string { return "keyword" }

func (e *keywordEmbedder) Embed(_ context.Context, text string) (domain.Vector, error) {
	e.calls.Add(1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, domain.ErrEmbedding
	}
	v := make(domain.Vector, len(vocabulary)+1)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(text, w))
	}
	v[len(vocabulary)] = 0.1
	return v, nil
}

type countingConnector struct {
	backend vectorstore.Backend
	calls   atomic.Int32
	fail    atomic.Bool
}

func (c *countingConnector) connect(context.Context) (vectorstore.Backend, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("unreachable")
	}
	return c.backend, nil
}

func chunks(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{Index: i, Text: t}
	}
	return out
}

func newIndex(t *testing.T, emb domain.Embedder, cfg vectorstore.Config) (*vectorstore.Index, *memory.Storage, *countingConnector) {
	t.Helper()
	store := memory.NewStorage()
	conn := &countingConnector{backend: store}
	if cfg.Collection == "" {
		cfg.Collection = "docs"
	}
	return vectorstore.NewIndex(emb, conn.connect, cfg), store, conn
}

func TestUpsertEmptyChunksSkipsBackend(t *testing.T) {
	emb := &keywordEmbedder{}
	ix, _, conn := newIndex(t, emb, vectorstore.Config{})

	res, err := ix.Upsert(context.Background(), "doc", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Upserted)
	assert.Equal(t, int32(0), conn.calls.Load())
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestSearchIsolatesDocuments(t *testing.T) {
	ctx := context.Background()
	ix, _, _ := newIndex(t, &keywordEmbedder{}, vectorstore.Config{})

	_, err := ix.Upsert(ctx, "A", chunks("apple pie", "banana bread", "cherry tart"), nil)
	require.NoError(t, err)
	_, err = ix.Upsert(ctx, "B", chunks("apple apple apple", "banana split"), nil)
	require.NoError(t, err)

	for _, q := range []string{"apple", "banana", "cherry", "date"} {
		res, err := ix.Search(ctx, "A", q, 10)
		require.NoError(t, err)
		require.NotEmpty(t, res)
		for _, r := range res {
			assert.Equal(t, "A", r.DocumentID(), "query %q", q)
		}
	}

	res, err := ix.Search(ctx, "A", "apple", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "apple pie", res[0].Text())
	assert.Equal(t, 0, res[0].ChunkIndex())
}

func TestUpsertPayloadReservedKeysWin(t *testing.T) {
	ctx := context.Background()
	ix, _, _ := newIndex(t, &keywordEmbedder{}, vectorstore.Config{})

	page := 4
	in := []domain.Chunk{{Index: 0, Text: "apple", Page: &page}}
	meta := map[string]any{"documentId": "B", "title": "Fruit", "text": "forged", "ingestId": "forged"}
	res, err := ix.Upsert(ctx, "A", in, meta)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)

	found, err := ix.Search(ctx, "A", "apple", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "A", found[0].DocumentID())
	assert.Equal(t, "apple", found[0].Text())
	assert.Equal(t, "Fruit", found[0].Payload["title"])
	assert.Equal(t, 4, *found[0].Page())
	assert.NotEmpty(t, found[0].ID)
	assert.NotEqual(t, "forged", found[0].Payload["ingestId"])

	none, err := ix.Search(ctx, "B", "apple", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsertEmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	ix, store, _ := newIndex(t, emb, vectorstore.Config{})

	_, err := ix.Upsert(ctx, "A", chunks("apple"), nil)
	require.NoError(t, err)

	emb.failOn = "poison"
	_, err = ix.Upsert(ctx, "B", chunks("banana", "poison cherry", "date"), nil)
	require.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, 1, store.Len("docs"), "earlier upserts stay, failed call writes nothing")
}

func TestUpsertFirstChunkFailureNeverConnects(t *testing.T) {
	emb := &keywordEmbedder{failOn: "apple"}
	ix, _, conn := newIndex(t, emb, vectorstore.Config{})

	_, err := ix.Upsert(context.Background(), "A", chunks("apple", "banana"), nil)
	require.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, int32(0), conn.calls.Load())
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestReingestReplacesOrAccumulates(t *testing.T) {
	ctx := context.Background()
	for _, replace := range []bool{true, false} {
		ix, store, _ := newIndex(t, &keywordEmbedder{}, vectorstore.Config{ReplaceOnReingest: replace})
		for i := 0; i < 2; i++ {
			_, err := ix.Upsert(ctx, "A", chunks("apple", "banana"), nil)
			require.NoError(t, err)
		}
		_, err := ix.Upsert(ctx, "B", chunks("cherry"), nil)
		require.NoError(t, err)

		if replace {
			assert.Equal(t, 3, store.Len("docs"))
		} else {
			assert.Equal(t, 5, store.Len("docs"))
		}
	}
}

// flakyUpsert fails every UpsertPoints call after the first.
type flakyUpsert struct {
	vectorstore.Backend
	calls atomic.Int32
}

func (f *flakyUpsert) UpsertPoints(ctx context.Context, name string, points []domain.VectorPoint) error {
	if f.calls.Add(1) > 1 {
		return errors.New("write timeout")
	}
	return f.Backend.UpsertPoints(ctx, name, points)
}

func TestFailedReingestKeepsEarlierPoints(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	ix := vectorstore.NewIndex(&keywordEmbedder{}, vectorstore.Static(&flakyUpsert{Backend: store}),
		vectorstore.Config{Collection: "docs", ReplaceOnReingest: true})

	_, err := ix.Upsert(ctx, "A", chunks("apple", "banana"), nil)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len("docs"))

	_, err = ix.Upsert(ctx, "A", chunks("cherry", "date", "apple"), nil)
	require.ErrorIs(t, err, domain.ErrVectorBackend)
	assert.Equal(t, 2, store.Len("docs"))

	res, err := ix.Search(ctx, "A", "banana", 5)
	require.NoError(t, err)
	texts := make([]string, len(res))
	for i, r := range res {
		texts[i] = r.Text()
	}
	assert.ElementsMatch(t, []string{"apple", "banana"}, texts)
}

// failingPurge writes points but cannot delete them.
type failingPurge struct{ vectorstore.Backend }

func (failingPurge) DeletePoints(context.Context, string, vectorstore.Filter) error {
	return errors.New("delete refused")
}

func TestReingestPurgeFailureKeepsNewPoints(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	ix := vectorstore.NewIndex(&keywordEmbedder{}, vectorstore.Static(failingPurge{store}),
		vectorstore.Config{Collection: "docs", ReplaceOnReingest: true})

	_, err := ix.Upsert(ctx, "A", chunks("apple"), nil)
	require.ErrorIs(t, err, domain.ErrVectorBackend)
	assert.Equal(t, 1, store.Len("docs"), "points are written before the purge runs")
}

func TestConcurrentEmbeddingKeepsChunkOrder(t *testing.T) {
	ctx := context.Background()
	ix, _, _ := newIndex(t, &keywordEmbedder{}, vectorstore.Config{EmbedConcurrency: 4})

	texts := []string{"apple", "banana", "cherry", "date", "apple banana", "cherry date", "banana banana"}
	res, err := ix.Upsert(ctx, "A", chunks(texts...), nil)
	require.NoError(t, err)
	assert.Equal(t, len(texts), res.Upserted)

	found, err := ix.Search(ctx, "A", "cherry date", len(texts))
	require.NoError(t, err)
	require.Len(t, found, len(texts))
	for _, r := range found {
		assert.Equal(t, texts[r.ChunkIndex()], r.Text())
	}
	assert.Equal(t, "cherry date", found[0].Text())
}

func TestEnsureCollectionIdempotentAndConcurrent(t *testing.T) {
	ctx := context.Background()
	ix, _, conn := newIndex(t, &keywordEmbedder{}, vectorstore.Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ix.EnsureCollection(ctx, 5)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), conn.calls.Load(), "backend handle is built once")

	err := ix.EnsureCollection(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.ErrorIs(t, err, domain.ErrVectorBackend)
}

// racingBackend reports the collection as missing once, then behaves as if
// another process created it first.
type racingBackend struct {
	vectorstore.Backend
	checked atomic.Int32
}

func (r *racingBackend) Collection(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	if r.checked.Add(1) == 1 {
		_ = r.Backend.CreateCollection(ctx, name, 5, vectorstore.Cosine)
		return vectorstore.CollectionInfo{}, nil
	}
	return r.Backend.Collection(ctx, name)
}

func TestEnsureCollectionToleratesAlreadyExists(t *testing.T) {
	b := &racingBackend{Backend: memory.NewStorage()}
	ix := vectorstore.NewIndex(&keywordEmbedder{}, vectorstore.Static(b), vectorstore.Config{Collection: "docs"})
	assert.NoError(t, ix.EnsureCollection(context.Background(), 5))
}

func TestFailedConnectIsRetried(t *testing.T) {
	ctx := context.Background()
	ix, _, conn := newIndex(t, &keywordEmbedder{}, vectorstore.Config{})

	conn.fail.Store(true)
	_, err := ix.Search(ctx, "A", "apple", 3)
	require.ErrorIs(t, err, domain.ErrVectorBackend)

	conn.fail.Store(false)
	_, err = ix.Search(ctx, "A", "apple", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), conn.calls.Load())
}

type failingSearch struct{ vectorstore.Backend }

func (failingSearch) SearchPoints(context.Context, string, domain.Vector, vectorstore.Filter, int) ([]domain.SearchResult, error) {
	return nil, errors.New("connection refused")
}

func TestSearchBackendFailure(t *testing.T) {
	ix := vectorstore.NewIndex(&keywordEmbedder{}, vectorstore.Static(failingSearch{memory.NewStorage()}), vectorstore.Config{})
	_, err := ix.Search(context.Background(), "A", "apple", 3)
	assert.ErrorIs(t, err, domain.ErrVectorBackend)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	ix, store, _ := newIndex(t, &keywordEmbedder{}, vectorstore.Config{})

	require.NoError(t, ix.DeleteDocument(ctx, "A"), "missing collection is not an error")

	_, err := ix.Upsert(ctx, "A", chunks("apple", "banana"), nil)
	require.NoError(t, err)
	_, err = ix.Upsert(ctx, "B", chunks("cherry"), nil)
	require.NoError(t, err)

	require.NoError(t, ix.DeleteDocument(ctx, "A"))
	assert.Equal(t, 1, store.Len("docs"))
}
