// Package tokens counts tokens for budget enforcement, compression
// triggers and re-tokenization after a model change.
package tokens

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

// Token counts are tokenizer-specific; counts produced for one model
// must never be copied to another.
const charsPerTokenEstimate = 4

// Counter counts tokens for a set of models, caching one encoding per
// model. Safe for concurrent use.
type Counter struct {
	mu        sync.Mutex
	encodings *lru.Cache[string, *tiktoken.Tiktoken]
}

// NewCounter creates a Counter with an encoding cache of the given size.
func NewCounter(cacheSize int) *Counter {
	if cacheSize <= 0 {
		cacheSize = 8
	}
	cache, _ := lru.New[string, *tiktoken.Tiktoken](cacheSize)
	return &Counter{encodings: cache}
}

// Count returns the token count of text for model. When no encoding is
// available for the model, falls back to a chars/4 estimate.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := c.encodingFor(model)
	if enc == nil {
		return estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *Counter) encodingFor(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings.Get(model); ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model: try the common base encoding before giving up.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Debug("no tokenizer for model, using estimate", "model", model)
			return nil
		}
	}
	c.encodings.Add(model, enc)
	return enc
}

func estimate(text string) int {
	n := len(text) / charsPerTokenEstimate
	if n == 0 {
		n = 1
	}
	return n
}

// Fits reports whether text stays within budget tokens for model.
func (c *Counter) Fits(model, text string, budget int) bool {
	return c.Count(model, text) <= budget
}

// Truncate returns the longest prefix of text that fits within budget
// tokens for model. Binary search over rune prefixes keeps this cheap
// without decoding token IDs back to text.
func (c *Counter) Truncate(model, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if c.Count(model, text) <= budget {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.Count(model, string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
