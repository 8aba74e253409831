// Package assembler bounds retrieved passages and conversation history into
// the package handed to a generation backend.
package assembler

import (
	"fmt"
	"strings"

	"docrag/internal/domain"
)

// Config caps the size of an assembled package. Zero chunk and preview caps
// fall back to the defaults below; a zero HistoryMessages keeps no history.
type Config struct {
	MaxContextChunks int
	CharsPerChunk    int
	HistoryMessages  int
	PreviewChars     int
}

const (
	DefaultMaxContextChunks = 5
	DefaultCharsPerChunk    = 1200
	DefaultHistoryMessages  = 6
	DefaultPreviewChars     = 200
)

func (c Config) withDefaults() Config {
	if c.MaxContextChunks <= 0 {
		c.MaxContextChunks = DefaultMaxContextChunks
	}
	if c.CharsPerChunk <= 0 {
		c.CharsPerChunk = DefaultCharsPerChunk
	}
	if c.HistoryMessages < 0 {
		c.HistoryMessages = 0
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = DefaultPreviewChars
	}
	return c
}

// Message is a history turn reduced to what a generation backend needs.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Package is the bounded input for generation.
type Package struct {
	ContextTexts    []string  `json:"contextTexts"`
	HistoryMessages []Message `json:"historyMessages"`
	// Used holds, per context text, the index of the input item it came from.
	Used []int `json:"-"`
}

// UsedItems returns the input items that made it into the context, in
// context order.
func (p Package) UsedItems(items []domain.ContextItem) []domain.ContextItem {
	out := make([]domain.ContextItem, 0, len(p.Used))
	for _, i := range p.Used {
		if i >= 0 && i < len(items) {
			out = append(out, items[i])
		}
	}
	return out
}

// Source is a short excerpt of a retrieved passage shown back to the user.
type Source struct {
	Preview string  `json:"preview"`
	Page    *int    `json:"page"`
	Score   float64 `json:"score"`
}

// Assemble keeps the first MaxContextChunks items in order, hard-cuts each to
// CharsPerChunk runes and drops entries left blank. History is reduced to its
// last HistoryMessages turns.
func Assemble(items []domain.ContextItem, history []domain.Turn, cfg Config) (Package, error) {
	cfg = cfg.withDefaults()

	if len(items) > cfg.MaxContextChunks {
		items = items[:cfg.MaxContextChunks]
	}
	texts := make([]string, 0, len(items))
	used := make([]int, 0, len(items))
	for i, it := range items {
		t := truncate(it.Text, cfg.CharsPerChunk)
		if strings.TrimSpace(t) == "" {
			continue
		}
		texts = append(texts, t)
		used = append(used, i)
	}

	if len(history) > cfg.HistoryMessages {
		history = history[len(history)-cfg.HistoryMessages:]
	}
	msgs := make([]Message, len(history))
	for i, h := range history {
		msgs[i] = Message{Role: h.Role, Content: h.Content}
	}

	pkg := Package{ContextTexts: texts, HistoryMessages: msgs, Used: used}
	if err := check(pkg, cfg); err != nil {
		return Package{}, err
	}
	return pkg, nil
}

func check(pkg Package, cfg Config) error {
	if len(pkg.ContextTexts) > cfg.MaxContextChunks {
		return fmt.Errorf("%w: %d context chunks, cap %d", domain.ErrContextOverflow, len(pkg.ContextTexts), cfg.MaxContextChunks)
	}
	for i, t := range pkg.ContextTexts {
		if n := len([]rune(t)); n > cfg.CharsPerChunk {
			return fmt.Errorf("%w: chunk %d has %d chars, cap %d", domain.ErrContextOverflow, i, n, cfg.CharsPerChunk)
		}
	}
	if len(pkg.HistoryMessages) > cfg.HistoryMessages {
		return fmt.Errorf("%w: %d history messages, cap %d", domain.ErrContextOverflow, len(pkg.HistoryMessages), cfg.HistoryMessages)
	}
	return nil
}

// Sources derives preview excerpts of at most previewChars runes, marking
// cut text with "...". It is independent of the generation context caps.
func Sources(items []domain.ContextItem, previewChars int) []Source {
	if previewChars <= 0 {
		previewChars = DefaultPreviewChars
	}
	out := make([]Source, len(items))
	for i, it := range items {
		p := truncate(it.Text, previewChars)
		if len(p) < len(it.Text) {
			p += "..."
		}
		out[i] = Source{Preview: p, Page: it.Page, Score: it.Score}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
