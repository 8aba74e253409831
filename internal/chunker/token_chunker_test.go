package chunker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

// wordTokenizer maps every whitespace separated word "wN" to token N.
type wordTokenizer struct {
	encodeErr error
	decodeErr error
}

func (w wordTokenizer) Encode(text string) ([]int, error) {
	if w.encodeErr != nil {
		return nil, w.encodeErr
	}
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimPrefix(f, "w"))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (w wordTokenizer) Decode(tokens []int) (string, error) {
	if w.decodeErr != nil {
		return "", w.decodeErr
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = "w" + strconv.Itoa(t)
	}
	return strings.Join(parts, " "), nil
}

func words(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, "w"+strconv.Itoa(i))
	}
	return strings.Join(parts, " ")
}

func newTestChunker(tok domain.Tokenizer) *TokenChunker {
	return NewTokenChunker(func(string) (domain.Tokenizer, error) { return tok, nil })
}

func TestChunkWindowsFiveThousandTokens(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	chunks, err := c.Chunk(words(0, 5000), Options{ChunkTokens: 2000, OverlapTokens: 200})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, words(0, 2000), chunks[0].Text)
	assert.Equal(t, words(1800, 3800), chunks[1].Text)
	assert.Equal(t, words(3600, 5000), chunks[2].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Nil(t, ch.Page)
	}
}

func TestChunkCountMatchesWindowFormula(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	cases := []struct{ n, size, overlap int }{
		{1, 10, 2},
		{10, 10, 2},
		{11, 10, 2},
		{18, 10, 2},
		{19, 10, 2},
		{100, 10, 0},
		{101, 10, 9},
		{7, 3, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d/c=%d/o=%d", tc.n, tc.size, tc.overlap), func(t *testing.T) {
			chunks, err := c.Chunk(words(0, tc.n), Options{ChunkTokens: tc.size, OverlapTokens: tc.overlap})
			require.NoError(t, err)

			step := tc.size - tc.overlap
			want := (tc.n - tc.overlap + step - 1) / step
			if tc.n <= tc.size {
				want = 1
			}
			assert.Len(t, chunks, want)
		})
	}
}

func TestChunkAdjacentWindowsShareOverlap(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	chunks, err := c.Chunk(words(0, 95), Options{ChunkTokens: 20, OverlapTokens: 5})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i := 0; i+2 < len(chunks); i++ {
		cur := strings.Fields(chunks[i].Text)
		next := strings.Fields(chunks[i+1].Text)
		assert.Equal(t, cur[len(cur)-5:], next[:5], "chunk %d", i)
	}
}

func TestChunkEmptyTextYieldsNothing(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	chunks, err := c.Chunk("", Options{ChunkTokens: 10, OverlapTokens: 3})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkOverlapNotSmallerThanSizeStillTerminates(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	chunks, err := c.Chunk(words(0, 6), Options{ChunkTokens: 3, OverlapTokens: 5})
	require.NoError(t, err)
	// step clamps to one token: windows start at 0,1,2,3
	require.Len(t, chunks, 4)
	assert.Equal(t, words(3, 6), chunks[3].Text)
}

func TestChunkRejectsNonPositiveSize(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	for _, size := range []int{0, -4} {
		_, err := c.Chunk("w1 w2", Options{ChunkTokens: size})
		assert.ErrorIs(t, err, domain.ErrChunking)
	}
}

func TestChunkWrapsTokenizerFailures(t *testing.T) {
	boom := errors.New("boom")

	_, err := newTestChunker(wordTokenizer{encodeErr: boom}).Chunk("w1", Options{ChunkTokens: 2})
	assert.ErrorIs(t, err, domain.ErrChunking)
	assert.ErrorIs(t, err, boom)

	_, err = newTestChunker(wordTokenizer{decodeErr: boom}).Chunk("w1", Options{ChunkTokens: 2})
	assert.ErrorIs(t, err, domain.ErrChunking)
	assert.ErrorIs(t, err, boom)

	lookup := NewTokenChunker(func(string) (domain.Tokenizer, error) { return nil, boom })
	_, err = lookup.Chunk("w1", Options{ChunkTokens: 2, Encoding: "nope"})
	assert.ErrorIs(t, err, domain.ErrChunking)
}

func TestChunkPagesTagsFirstTokenPage(t *testing.T) {
	c := newTestChunker(wordTokenizer{})
	pages := []string{words(0, 4), "", words(4, 10)}
	chunks, err := c.ChunkPages(pages, Options{ChunkTokens: 4, OverlapTokens: 1})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// windows start at tokens 0, 3 and 6
	assert.Equal(t, 1, *chunks[0].Page)
	assert.Equal(t, 1, *chunks[1].Page)
	assert.Equal(t, 3, *chunks[2].Page)
	assert.Equal(t, words(6, 10), chunks[2].Text)
}
