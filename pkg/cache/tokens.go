package cache

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter estimates token_count deterministically. The cl100k_base BPE
// encoder is loaded once and reused; if it cannot be loaded (no network on
// first run, air-gapped environment — the encoder's vocabulary file is
// fetched lazily from a remote CDN) every call falls back to a pure
// word-split heuristic so storage never blocks on tokenizer availability.
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	return &tokenCounter{}
}

func (t *tokenCounter) load() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		t.enc = enc
	}
}

// Count returns the deterministic token estimate for text.
func (t *tokenCounter) Count(text string) int {
	t.once.Do(t.load)
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return wordSplitCount(text)
}

// wordSplitCount is the fallback heuristic: whitespace-delimited word count.
// Deterministic and independent of any network resource.
func wordSplitCount(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}
