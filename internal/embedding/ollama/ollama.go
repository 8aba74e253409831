package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docrag/internal/domain"
)

const (
	defaultBaseURL     = "http://localhost:11434"
	defaultModel       = "nomic-embed-text"
	defaultPrimaryPath = "/api/embed"
	defaultLegacyPath  = "/api/embeddings"
	defaultTimeout     = 120 * time.Second
)

// Config configures the embedding client.
type Config struct {
	BaseURL     string
	Model       string
	Token       string // bearer token, empty for a local server
	PrimaryPath string
	LegacyPath  string
	Timeout     time.Duration
}

// Client talks to an Ollama-style embedding server. It issues one request
// to the primary endpoint and, when that yields no vector, a single retry
// against the legacy endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ domain.Embedder = (*Client)(nil)

// NewClient creates a client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.PrimaryPath == "" {
		cfg.PrimaryPath = defaultPrimaryPath
	}
	if cfg.LegacyPath == "" {
		cfg.LegacyPath = defaultLegacyPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "ollama" }

// Embed returns the embedding of a single text.
func (c *Client) Embed(ctx context.Context, text string) (domain.Vector, error) {
	return c.EmbedInputs(ctx, []string{text})
}

// EmbedInputs embeds inputs with one request and returns the first vector.
// The legacy endpoint only accepts one prompt, so it receives inputs[0].
func (c *Client) EmbedInputs(ctx context.Context, inputs []string) (domain.Vector, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no input", domain.ErrEmbedding)
	}
	vec, primaryErr := c.request(ctx, c.cfg.PrimaryPath, map[string]any{
		"model": c.cfg.Model,
		"input": inputs,
	})
	if primaryErr == nil {
		return vec, nil
	}
	vec, legacyErr := c.request(ctx, c.cfg.LegacyPath, map[string]any{
		"model":  c.cfg.Model,
		"prompt": inputs[0],
	})
	if legacyErr == nil {
		return vec, nil
	}
	return nil, fmt.Errorf("%w: primary: %v; legacy: %w", domain.ErrEmbedding, primaryErr, legacyErr)
}

func (c *Client) request(ctx context.Context, path string, payload any) (domain.Vector, error) {
	body, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	res := probe(body)
	if res.shape == shapeNone {
		return nil, errNoShape
	}
	return res.vector, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

var errNoShape = errors.New("response carries no known embedding shape")

type responseShape int

const (
	shapeNone responseShape = iota
	shapeEmbedding
	shapeEmbeddings
	shapeDataEmbeddings
)

func (s responseShape) String() string {
	switch s {
	case shapeEmbedding:
		return "embedding"
	case shapeEmbeddings:
		return "embeddings"
	case shapeDataEmbeddings:
		return "data.embeddings"
	}
	return "none"
}

type probeResult struct {
	shape  responseShape
	vector domain.Vector
}

// probe checks the known response shapes in priority order; the first one
// that decodes to a non-empty vector wins. Members are decoded independently
// so a member of an unexpected type does not hide the others.
func probe(body []byte) probeResult {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return probeResult{}
	}
	if raw, ok := fields["embedding"]; ok {
		var v domain.Vector
		if json.Unmarshal(raw, &v) == nil && len(v) > 0 {
			return probeResult{shape: shapeEmbedding, vector: v}
		}
	}
	if raw, ok := fields["embeddings"]; ok {
		if v := firstRow(raw); len(v) > 0 {
			return probeResult{shape: shapeEmbeddings, vector: v}
		}
	}
	if raw, ok := fields["data"]; ok {
		var data struct {
			Embeddings json.RawMessage `json:"embeddings"`
		}
		if json.Unmarshal(raw, &data) == nil && data.Embeddings != nil {
			if v := firstRow(data.Embeddings); len(v) > 0 {
				return probeResult{shape: shapeDataEmbeddings, vector: v}
			}
		}
	}
	return probeResult{}
}

func firstRow(raw json.RawMessage) domain.Vector {
	var rows []domain.Vector
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return nil
	}
	return rows[0]
}
