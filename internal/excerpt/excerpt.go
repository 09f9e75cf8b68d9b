// Package excerpt cuts long-form content down to a token budget.
package excerpt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Budget truncates text to at most maxTokens tokens.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// New creates a budget using the tokenizer for model.
// Unknown models fall back to cl100k_base.
func New(model string, maxTokens int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}, nil
}

// Approximate creates a budget that estimates four characters per token.
// Used when the tokenizer tables cannot be loaded.
func Approximate(maxTokens int) *Budget {
	return &Budget{maxTokens: maxTokens}
}

// MaxTokens returns the configured budget.
func (b *Budget) MaxTokens() int { return b.maxTokens }

// Count returns the token count for text.
func (b *Budget) Count(text string) int {
	if b.tokenizer == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text that fits the budget, cut
// back to the last paragraph or sentence break when one is close.
func (b *Budget) Truncate(text string) string {
	text = strings.TrimSpace(text)
	if b.maxTokens <= 0 || b.Count(text) <= b.maxTokens {
		return text
	}

	var cut string
	if b.tokenizer == nil {
		runes := []rune(text)
		cut = string(runes[:b.maxTokens*4])
	} else {
		tokens := b.tokenizer.Encode(text, nil, nil)
		cut = b.tokenizer.Decode(tokens[:b.maxTokens])
	}
	return trimToBreak(cut)
}

// trimToBreak drops a trailing partial sentence if a break exists in the
// last third of s.
func trimToBreak(s string) string {
	floor := len(s) * 2 / 3
	if i := strings.LastIndex(s, "\n\n"); i >= floor {
		return strings.TrimSpace(s[:i])
	}
	if i := strings.LastIndexAny(s, ".!?"); i >= floor {
		return strings.TrimSpace(s[:i+1])
	}
	return strings.TrimSpace(s)
}
