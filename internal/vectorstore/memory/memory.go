package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

type collection struct {
	size   int
	points []domain.VectorPoint
}

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ vectorstore.Backend = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{collections: make(map[string]*collection)}
}

func (s *Storage) Collection(_ context.Context, name string) (vectorstore.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return vectorstore.CollectionInfo{}, nil
	}
	return vectorstore.CollectionInfo{Exists: true, VectorSize: c.size}, nil
}

func (s *Storage) CreateCollection(_ context.Context, name string, size int, _ vectorstore.Distance) error {
	if size <= 0 {
		return fmt.Errorf("invalid dimension %d", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return domain.ErrCollectionExists
	}
	s.collections[name] = &collection{size: size}
	return nil
}

func (s *Storage) UpsertPoints(_ context.Context, name string, points []domain.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %s not found", name)
	}
	for _, p := range points {
		if len(p.Vector) != c.size {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, c.size, len(p.Vector))
		}
	}
	for _, p := range points {
		replaced := false
		for i := range c.points {
			if c.points[i].ID == p.ID {
				c.points[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			c.points = append(c.points, p)
		}
	}
	return nil
}

func (s *Storage) SearchPoints(_ context.Context, name string, vector domain.Vector, filter vectorstore.Filter, limit int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", name)
	}
	if len(vector) != c.size {
		return nil, fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, c.size, len(vector))
	}
	var results []domain.SearchResult
	for _, p := range c.points {
		if !matches(p, filter) {
			continue
		}
		results = append(results, domain.SearchResult{
			ID:      p.ID,
			Score:   cosine(p.Vector, vector),
			Payload: p.Payload,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func (s *Storage) DeletePoints(_ context.Context, name string, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	kept := c.points[:0]
	for _, p := range c.points {
		if !matches(p, filter) {
			kept = append(kept, p)
		}
	}
	clear(c.points[len(kept):])
	c.points = kept
	return nil
}

// Len reports the number of points in a collection.
func (s *Storage) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

func matches(p domain.VectorPoint, f vectorstore.Filter) bool {
	id, _ := p.Payload[domain.PayloadDocumentID].(string)
	if id != f.DocumentID {
		return false
	}
	if f.ExceptIngestID == "" {
		return true
	}
	ingest, _ := p.Payload[domain.PayloadIngestID].(string)
	return ingest != f.ExceptIngestID
}

func cosine(a, b domain.Vector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
