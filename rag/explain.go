package rag

import (
	"fmt"
	"sort"
	"strings"
)

// defaultMedicalSynonyms maps lay and clinical phrasings onto each other.
var defaultMedicalSynonyms = map[string][]string{
	"heart attack":        {"myocardial infarction", "mi"},
	"high blood pressure": {"hypertension"},
	"hypertension":        {"high blood pressure"},
	"side effects":        {"adverse effects", "adverse reactions", "adverse events"},
	"side effect":         {"adverse effect", "adverse reaction"},
	"stroke":              {"cerebrovascular accident", "cva"},
	"heart failure":       {"cardiac failure", "chf"},
	"irregular heartbeat": {"arrhythmia"},
	"arrhythmia":          {"irregular heartbeat"},
	"afib":                {"atrial fibrillation"},
	"cholesterol":         {"lipid", "ldl", "hdl"},
	"blood thinner":       {"anticoagulant"},
	"chest pain":          {"angina"},
	"dose":                {"dosage", "dosing"},
	"dosage":              {"dose", "dosing"},
	"kidney":              {"renal"},
	"liver":               {"hepatic"},
}

// ExplainableRetrieval builds per-document audit trails.
type ExplainableRetrieval struct {
	normalizer *QueryNormalizer
	synonyms   map[string][]string
	keywords   []string
}

// NewExplainableRetrieval creates an explainer with the built-in synonym map.
func NewExplainableRetrieval() *ExplainableRetrieval {
	return &ExplainableRetrieval{
		normalizer: NewQueryNormalizer(),
		synonyms:   defaultMedicalSynonyms,
		keywords:   defaultDomainKeywords,
	}
}

// Explain returns one explanation per document, in document order.
func (e *ExplainableRetrieval) Explain(query string, docs []RetrievedDocument) []RetrievalExplanation {
	terms := uniqueStrings(tokenize(e.normalizer.Clean(query)))
	lowerQuery := strings.ToLower(query)
	out := make([]RetrievalExplanation, 0, len(docs))
	for i, d := range docs {
		out = append(out, e.explainOne(lowerQuery, terms, i+1, d))
	}
	return out
}

func (e *ExplainableRetrieval) explainOne(lowerQuery string, terms []string, rank int, d RetrievedDocument) RetrievalExplanation {
	content := strings.ToLower(d.Content)
	words := toSet(tokenize(content))

	var matched []MatchedTerm
	exact := 0
	for _, t := range terms {
		if _, ok := words[t]; ok {
			matched = append(matched, MatchedTerm{Term: t, Type: MatchExact})
			exact++
		}
	}

	semantic := 0
	phrases := make([]string, 0, len(e.synonyms))
	for p := range e.synonyms {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)
	seen := make(map[string]bool)
	for _, phrase := range phrases {
		if !containsPhrase(lowerQuery, phrase) {
			continue
		}
		for _, syn := range e.synonyms[phrase] {
			if seen[syn] || !containsPhrase(content, syn) {
				continue
			}
			seen[syn] = true
			matched = append(matched, MatchedTerm{Term: syn, Type: MatchSemantic})
			semantic++
		}
	}

	related := 0
	for _, kw := range e.keywords {
		if containsPhrase(lowerQuery, kw) || !containsPhrase(content, kw) {
			continue
		}
		matched = append(matched, MatchedTerm{Term: kw, Type: MatchRelated})
		related++
	}

	coverage := 0.0
	if len(terms) > 0 {
		coverage = float64(exact) / float64(len(terms))
	}
	score := d.CombinedScore
	if score == 0 {
		score = d.Score
	}
	confidence := clamp01(0.5*coverage +
		minFloat(0.15*float64(semantic), 0.3) +
		minFloat(0.05*float64(related), 0.1) +
		0.1*clamp01(score))

	trace := []string{
		fmt.Sprintf("ranked #%d from %s source", rank, sourceLabel(d.Source)),
		fmt.Sprintf("%d of %d query terms matched exactly", exact, len(terms)),
	}
	if semantic > 0 {
		trace = append(trace, fmt.Sprintf("%d synonym matches", semantic))
	}
	if related > 0 {
		trace = append(trace, fmt.Sprintf("%d related domain terms", related))
	}
	trace = append(trace, fmt.Sprintf("retrieval score %.3f", score))

	return RetrievalExplanation{
		DocumentID:     d.ID,
		MatchedTerms:   matched,
		ReasoningTrace: trace,
		Confidence:     confidence,
		Citation: CitationInfo{
			Rank:   rank,
			URL:    d.MetaString(MetaURL),
			Title:  d.MetaString(MetaTitle),
			Source: d.Citation(),
		},
	}
}

func sourceLabel(s Source) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// containsPhrase matches phrase in lowercased text on word boundaries.
func containsPhrase(text, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
