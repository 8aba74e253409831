package domain

import (
	"context"
	"time"
)

// Payload keys written for every stored point. They always take precedence
// over caller supplied metadata.
const (
	PayloadDocumentID = "documentId"
	PayloadText       = "text"
	PayloadPage       = "page"
	PayloadChunkIndex = "chunkIndex"
	// PayloadIngestID tags every point written by one Upsert call.
	PayloadIngestID = "ingestId"
)

// Document is a catalogued source text that can be chunked and indexed.
type Document struct {
	ID         string
	Title      string
	Path       string
	Content    string
	PageCount  int
	Status     DocumentStatus
	ChunkCount int
	IndexedAt  *time.Time
	LastError  string
	CreatedAt  time.Time
}

// DocumentStatus tracks where a document is in the ingestion lifecycle.
type DocumentStatus string

const (
	StatusPending DocumentStatus = "pending"
	StatusIndexed DocumentStatus = "indexed"
	StatusFailed  DocumentStatus = "failed"
)

// Chunk is a bounded token window of document text used as the unit of retrieval.
type Chunk struct {
	Index int
	Text  string
	Page  *int
}

// Vector is an embedding produced by the configured backend.
type Vector = []float32

// VectorPoint is one stored vector plus its payload.
type VectorPoint struct {
	ID      string
	Vector  Vector
	Payload map[string]any
}

// SearchResult is a scored point returned by a nearest-neighbour query.
type SearchResult struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// DocumentID returns the documentId payload field.
func (r SearchResult) DocumentID() string {
	s, _ := r.Payload[PayloadDocumentID].(string)
	return s
}

// Text returns the chunk text stored with the point.
func (r SearchResult) Text() string {
	s, _ := r.Payload[PayloadText].(string)
	return s
}

// ChunkIndex returns the stored chunk index, or -1 when absent.
func (r SearchResult) ChunkIndex() int {
	if n, ok := intValue(r.Payload[PayloadChunkIndex]); ok {
		return n
	}
	return -1
}

// Page returns the stored page number, if any.
func (r SearchResult) Page() *int {
	if n, ok := intValue(r.Payload[PayloadPage]); ok {
		return &n
	}
	return nil
}

// ContextItem converts the result into a retrieval context entry.
func (r SearchResult) ContextItem() ContextItem {
	return ContextItem{Text: r.Text(), Page: r.Page(), Score: r.Score}
}

// ContextItem is a retrieved passage handed to the context assembler.
type ContextItem struct {
	Text  string  `json:"text"`
	Page  *int    `json:"page"`
	Score float64 `json:"score"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a chat session about a document.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Sources   []ContextItem
}

// Embedder turns text into a vector using an external backend.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
}

// Tokenizer encodes text into token ids and back.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}
