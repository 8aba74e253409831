package domain

import "errors"

// Sentinel errors shared by the pipeline components.
var (
	ErrChunking          = errors.New("chunking failed")
	ErrEmbedding         = errors.New("embedding failed")
	ErrVectorBackend     = errors.New("vector backend error")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCollectionExists  = errors.New("collection already exists")
	ErrRetrievalDegraded = errors.New("retrieval degraded to lexical fallback")
	ErrContextOverflow   = errors.New("context budget exceeded")
	ErrGeneration        = errors.New("generation failed")
	ErrDocumentNotFound  = errors.New("document not found")
)
