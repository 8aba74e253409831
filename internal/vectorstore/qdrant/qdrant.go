package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
}

var _ vectorstore.Backend = (*Storage)(nil)

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	u := cfg.URL
	if u == "" {
		u = "http://localhost:6333"
	}
	return &Storage{
		url:    strings.TrimRight(u, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	method, path string
	code         int
	status, body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s: %s", e.method, e.path, e.status, e.body)
}

func (s *Storage) Collection(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionPath(name), nil, &resp)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return vectorstore.CollectionInfo{}, nil
	}
	if err != nil {
		return vectorstore.CollectionInfo{}, err
	}
	// Unnamed vector configs are {"size":N,...}; named ones leave size unknown.
	var params struct {
		Size int `json:"size"`
	}
	_ = json.Unmarshal(resp.Result.Config.Params.Vectors, &params)
	return vectorstore.CollectionInfo{Exists: true, VectorSize: params.Size}, nil
}

func (s *Storage) CreateCollection(ctx context.Context, name string, size int, distance vectorstore.Distance) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     size,
			"distance": string(distance),
		},
	}
	err := s.do(ctx, http.MethodPut, s.collectionPath(name), body, nil)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusConflict || strings.Contains(se.body, "already exists")) {
		return domain.ErrCollectionExists
	}
	if err != nil {
		return err
	}
	// Keyword index so the documentId filter does not scan the whole collection.
	index := map[string]any{
		"field_name":   domain.PayloadDocumentID,
		"field_schema": "keyword",
	}
	return s.do(ctx, http.MethodPut, s.collectionPath(name)+"/index?wait=true", index, nil)
}

func (s *Storage) UpsertPoints(ctx context.Context, name string, points []domain.VectorPoint) error {
	out := make([]map[string]any, len(points))
	for i, p := range points {
		out[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	body := map[string]any{"points": out}
	return s.do(ctx, http.MethodPut, s.collectionPath(name)+"/points?wait=true", body, nil)
}

func (s *Storage) SearchPoints(ctx context.Context, name string, vector domain.Vector, filter vectorstore.Filter, limit int) ([]domain.SearchResult, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter":       documentFilter(filter),
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath(name)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{
			ID:      fmt.Sprint(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return results, nil
}

func (s *Storage) DeletePoints(ctx context.Context, name string, filter vectorstore.Filter) error {
	body := map[string]any{"filter": documentFilter(filter)}
	return s.do(ctx, http.MethodPost, s.collectionPath(name)+"/points/delete?wait=true", body, nil)
}

func documentFilter(f vectorstore.Filter) map[string]any {
	out := map[string]any{
		"must": []any{
			map[string]any{
				"key":   domain.PayloadDocumentID,
				"match": map[string]any{"value": f.DocumentID},
			},
		},
	}
	if f.ExceptIngestID != "" {
		out["must_not"] = []any{
			map[string]any{
				"key":   domain.PayloadIngestID,
				"match": map[string]any{"value": f.ExceptIngestID},
			},
		}
	}
	return out
}

func (s *Storage) collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (s *Storage) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{method: method, path: path, code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
