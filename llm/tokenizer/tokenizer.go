package tokenizer

import "strings"

// Tokenizer counts tokens and trims text to a token limit.
type Tokenizer interface {
	// CountTokens returns the token count of text.
	CountTokens(text string) (int, error)

	// Truncate returns the longest prefix of text that fits in maxTokens.
	Truncate(text string, maxTokens int) (string, error)

	// MaxTokens returns the model context size.
	MaxTokens() int

	Name() string
}

// New returns a tokenizer for model. When exact is false, or the model has
// no known tiktoken encoding, the estimator is returned.
func New(model string, exact bool) Tokenizer {
	info, known := lookupEncoding(model)
	if !exact || !known {
		return NewEstimatorTokenizer(model, info.maxTokens)
	}
	return newTiktoken(model, info)
}

// CountOrEstimate counts with t and falls back to the estimator when t fails
// (for example when encoding data cannot be loaded).
func CountOrEstimate(t Tokenizer, text string) int {
	if t != nil {
		if n, err := t.CountTokens(text); err == nil {
			return n
		}
	}
	n, _ := fallback.CountTokens(text)
	return n
}

var fallback = NewEstimatorTokenizer("fallback", 0)

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
