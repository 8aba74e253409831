package chunker

import (
	"fmt"

	"docrag/internal/domain"
)

// Options configures a single chunking call.
type Options struct {
	ChunkTokens   int
	OverlapTokens int
	Encoding      string
}

// TokenizerFunc resolves the tokenizer for a named encoding or model.
type TokenizerFunc func(encoding string) (domain.Tokenizer, error)

// TokenChunker splits text into overlapping token windows.
type TokenChunker struct {
	tokenizer TokenizerFunc
}

// NewTokenChunker creates a chunker that resolves tokenizers through fn.
// A nil fn uses the tiktoken registry.
func NewTokenChunker(fn TokenizerFunc) *TokenChunker {
	if fn == nil {
		fn = Tiktoken
	}
	return &TokenChunker{tokenizer: fn}
}

// Chunk encodes text and emits windows of opts.ChunkTokens tokens that
// advance by ChunkTokens-OverlapTokens (at least one token) per step.
func (c *TokenChunker) Chunk(text string, opts Options) ([]domain.Chunk, error) {
	if opts.ChunkTokens <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrChunking, opts.ChunkTokens)
	}
	if text == "" {
		return nil, nil
	}
	tok, err := c.tokenizer(opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer %q: %w", domain.ErrChunking, opts.Encoding, err)
	}
	tokens, err := tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", domain.ErrChunking, err)
	}
	return c.window(tok, tokens, nil, opts)
}

// ChunkPages chunks a sequence of pages as one token stream. Each chunk is
// tagged with the 1-based page that holds its first token.
func (c *TokenChunker) ChunkPages(pages []string, opts Options) ([]domain.Chunk, error) {
	if opts.ChunkTokens <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrChunking, opts.ChunkTokens)
	}
	tok, err := c.tokenizer(opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer %q: %w", domain.ErrChunking, opts.Encoding, err)
	}
	var tokens []int
	// pageEnds[i] is the exclusive token offset where page i+1 ends.
	pageEnds := make([]int, 0, len(pages))
	for i, p := range pages {
		if p != "" {
			enc, err := tok.Encode(p)
			if err != nil {
				return nil, fmt.Errorf("%w: encode page %d: %w", domain.ErrChunking, i+1, err)
			}
			tokens = append(tokens, enc...)
		}
		pageEnds = append(pageEnds, len(tokens))
	}
	return c.window(tok, tokens, pageEnds, opts)
}

func (c *TokenChunker) window(tok domain.Tokenizer, tokens []int, pageEnds []int, opts Options) ([]domain.Chunk, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	overlap := opts.OverlapTokens
	if overlap < 0 {
		overlap = 0
	}
	step := opts.ChunkTokens - overlap
	if step < 1 {
		step = 1
	}
	var chunks []domain.Chunk
	for start := 0; ; start += step {
		end := start + opts.ChunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		text, err := tok.Decode(tokens[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: decode window %d: %w", domain.ErrChunking, len(chunks), err)
		}
		chunk := domain.Chunk{Index: len(chunks), Text: text}
		if pageEnds != nil {
			chunk.Page = domain.IntPtr(pageOf(pageEnds, start))
		}
		chunks = append(chunks, chunk)
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

func pageOf(pageEnds []int, offset int) int {
	for i, end := range pageEnds {
		if offset < end {
			return i + 1
		}
	}
	return len(pageEnds)
}
