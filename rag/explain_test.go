package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func termsOfType(e RetrievalExplanation, typ MatchType) []string {
	var out []string
	for _, m := range e.MatchedTerms {
		if m.Type == typ {
			out = append(out, m.Term)
		}
	}
	return out
}

func TestExplainableRetrieval_Explain(t *testing.T) {
	t.Parallel()

	e := NewExplainableRetrieval()
	docs := []RetrievedDocument{
		{
			ID:            "d1",
			Content:       "Aspirin adverse effects include bleeding after myocardial infarction treatment.",
			CombinedScore: 0.8,
			Source:        SourceVector,
			Metadata:      map[string]any{MetaSource: "nih.gov", MetaURL: "https://nih.gov/aspirin", MetaTitle: "Aspirin"},
		},
		{ID: "d2", Content: "Unrelated gardening advice.", Score: 0.2},
	}

	out := e.Explain("heart attack side effects of aspirin", docs)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, "d1", first.DocumentID)
	assert.Contains(t, termsOfType(first, MatchExact), "aspirin")
	assert.Contains(t, termsOfType(first, MatchSemantic), "myocardial infarction")
	assert.Contains(t, termsOfType(first, MatchSemantic), "adverse effects")
	assert.NotContains(t, termsOfType(first, MatchSemantic), "mi")
	assert.Contains(t, termsOfType(first, MatchRelated), "treatment")
	assert.Equal(t, CitationInfo{Rank: 1, URL: "https://nih.gov/aspirin", Title: "Aspirin", Source: "nih.gov"}, first.Citation)
	assert.Contains(t, first.ReasoningTrace[0], "vector")

	second := out[1]
	assert.Empty(t, second.MatchedTerms)
	assert.Equal(t, 2, second.Citation.Rank)
	assert.Equal(t, "d2", second.Citation.Source)
	assert.Contains(t, second.ReasoningTrace[0], "unknown")
	assert.Greater(t, first.Confidence, second.Confidence)
	for _, x := range out {
		assert.GreaterOrEqual(t, x.Confidence, 0.0)
		assert.LessOrEqual(t, x.Confidence, 1.0)
	}
}

func TestExplainableRetrieval_EmptyInputs(t *testing.T) {
	t.Parallel()

	e := NewExplainableRetrieval()
	assert.Empty(t, e.Explain("anything", nil))

	out := e.Explain("", []RetrievedDocument{{ID: "a", Content: "text"}})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].ReasoningTrace, "0 of 0 query terms matched exactly")
}

func TestContainsPhrase(t *testing.T) {
	t.Parallel()

	assert.True(t, containsPhrase("risk of mi after surgery", "mi"))
	assert.False(t, containsPhrase("minimal risk", "mi"))
	assert.True(t, containsPhrase("ldl", "ldl"))
	assert.False(t, containsPhrase("side effects", "side effect"))
	assert.True(t, containsPhrase("side effect, side effects", "side effect"))
}
