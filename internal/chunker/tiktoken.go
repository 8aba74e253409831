package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"docrag/internal/domain"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "cl100k_base"

var encodings sync.Map

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// Tiktoken resolves a tiktoken encoding by encoding name, or by model name
// when no encoding with that name exists. Encodings are cached per name.
func Tiktoken(name string) (domain.Tokenizer, error) {
	if name == "" {
		name = DefaultEncoding
	}
	if t, ok := encodings.Load(name); ok {
		return t.(*tiktokenTokenizer), nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		var modelErr error
		enc, modelErr = tiktoken.EncodingForModel(name)
		if modelErr != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
		}
	}
	t, _ := encodings.LoadOrStore(name, &tiktokenTokenizer{enc: enc})
	return t.(*tiktokenTokenizer), nil
}

func (t *tiktokenTokenizer) Encode(text string) ([]int, error) {
	return t.enc.Encode(text, nil, nil), nil
}

func (t *tiktokenTokenizer) Decode(tokens []int) (string, error) {
	return t.enc.Decode(tokens), nil
}
