package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("test", 0)

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.CountTokens("ab")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "short non-empty text counts as one token")

	n, err = e.CountTokens(strings.Repeat("a", 400))
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = e.CountTokens("高血压高血压")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, 4096, e.MaxTokens())
	assert.Equal(t, "estimator", e.Name())
}

func TestEstimator_Truncate(t *testing.T) {
	e := NewEstimatorTokenizer("test", 0)
	text := strings.Repeat("word ", 100)

	out, err := e.Truncate(text, 10)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, out))
	n, _ := e.CountTokens(out)
	assert.LessOrEqual(t, n, 10)

	out, err = e.Truncate("short", 10)
	require.NoError(t, err)
	assert.Equal(t, "short", out)

	out, err = e.Truncate(text, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEstimator_TruncateNeverExceedsLimit(t *testing.T) {
	e := NewEstimatorTokenizer("test", 0)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		limit := rapid.IntRange(1, 50).Draw(t, "limit")

		out, err := e.Truncate(text, limit)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		if !strings.HasPrefix(text, out) {
			t.Fatalf("result %q is not a prefix of %q", out, text)
		}
		if n, _ := e.CountTokens(out); n > limit {
			t.Fatalf("truncated text has %d tokens, limit %d", n, limit)
		}
	})
}

func TestLookupEncoding(t *testing.T) {
	info, ok := lookupEncoding("gpt-4o-mini")
	assert.True(t, ok)
	assert.Equal(t, "o200k_base", info.encoding)

	info, ok = lookupEncoding("gpt-4o-2024-08-06")
	assert.True(t, ok)
	assert.Equal(t, "o200k_base", info.encoding, "longest prefix wins over gpt-4")

	info, ok = lookupEncoding("llama-3")
	assert.False(t, ok)
	assert.Equal(t, "cl100k_base", info.encoding)
}

func TestNew_SelectsImplementation(t *testing.T) {
	assert.Equal(t, "estimator", New("gpt-4o", false).Name())
	assert.Equal(t, "estimator", New("unknown-model", true).Name())
	assert.Equal(t, "tiktoken[o200k_base]", New("gpt-4o", true).Name())
	assert.Equal(t, 128000, New("gpt-4o", false).MaxTokens())
}

type failingTokenizer struct{ *EstimatorTokenizer }

func (failingTokenizer) CountTokens(string) (int, error) { return 0, assert.AnError }

func TestCountOrEstimate_FallsBack(t *testing.T) {
	text := strings.Repeat("a", 40)
	assert.Equal(t, 10, CountOrEstimate(failingTokenizer{NewEstimatorTokenizer("x", 0)}, text))
	assert.Equal(t, 10, CountOrEstimate(nil, text))
}
