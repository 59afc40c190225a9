package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryNormalizer_Clean(t *testing.T) {
	t.Parallel()

	n := NewQueryNormalizer()
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "drops stop words and punctuation", query: "What is the max dose of Lisinopril?", want: "max dose lisinopril"},
		{name: "hyphen becomes space", query: "beta-blocker side-effects", want: "beta blocker side effects"},
		{name: "collapses whitespace", query: "  chest    pain \t at night ", want: "chest pain night"},
		{name: "keeps digits", query: "metformin 500mg twice", want: "metformin 500mg twice"},
		{name: "all stop words keeps original words", query: "What is it?", want: "what is it"},
		{name: "empty", query: "", want: ""},
		{name: "punctuation only", query: "?!...", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Clean(tt.query))
		})
	}
}

func TestQueryNormalizer_NeedsHybridSearch(t *testing.T) {
	t.Parallel()

	n := NewQueryNormalizer()
	tests := []struct {
		query string
		want  bool
	}{
		{query: "Is 500 mg of metformin too much?", want: true},
		{query: "dose 2.5mg", want: true},
		{query: "what does ACE inhibitor mean", want: true},
		{query: "ICD code I21.4 meaning", want: true},
		{query: "can I take aspirin daily", want: true},
		{query: "how do I sleep better", want: false},
		{query: "what is a healthy breakfast", want: false},
		{query: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, n.NeedsHybridSearch(tt.query))
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"heart", "rate", "120", "bpm"}, tokenize("Heart-rate: 120 BPM!"))
	assert.Empty(t, tokenize("  ,.; "))
}
