package rag

import (
	"strings"
)

// DefaultCredibility is returned for sources that match no rule.
const DefaultCredibility = 0.5

// CredibilityRule maps a source substring to a trust score. Rules are checked
// in order and the first match wins, so more specific entries go first.
type CredibilityRule struct {
	Pattern string  `yaml:"pattern" json:"pattern"`
	Score   float64 `yaml:"score" json:"score"`
}

// DefaultCredibilityRules returns the built-in tiered trust table.
func DefaultCredibilityRules() []CredibilityRule {
	return []CredibilityRule{
		// Tier 1: governmental and academic.
		{Pattern: "pubmed.ncbi.nlm.nih.gov", Score: 0.98},
		{Pattern: "ncbi.nlm.nih.gov", Score: 0.97},
		{Pattern: "medlineplus.gov", Score: 0.95},
		{Pattern: "nih.gov", Score: 0.96},
		{Pattern: "cdc.gov", Score: 0.96},
		{Pattern: "fda.gov", Score: 0.95},
		{Pattern: "who.int", Score: 0.95},
		{Pattern: "cochranelibrary.com", Score: 0.94},
		{Pattern: "nice.org.uk", Score: 0.93},
		{Pattern: ".gov", Score: 0.90},
		{Pattern: ".edu", Score: 0.90},
		// Tier 2: major institutions and journals.
		{Pattern: "nejm.org", Score: 0.93},
		{Pattern: "thelancet.com", Score: 0.93},
		{Pattern: "jamanetwork.com", Score: 0.92},
		{Pattern: "bmj.com", Score: 0.92},
		{Pattern: "mayoclinic.org", Score: 0.92},
		{Pattern: "heart.org", Score: 0.91},
		{Pattern: "acc.org", Score: 0.91},
		{Pattern: "escardio.org", Score: 0.90},
		{Pattern: "hopkinsmedicine.org", Score: 0.90},
		{Pattern: "clevelandclinic.org", Score: 0.89},
		{Pattern: "uptodate.com", Score: 0.88},
		{Pattern: "ahajournals.org", Score: 0.87},
		{Pattern: "nhs.uk", Score: 0.86},
		// Tier 3: general medical references.
		{Pattern: "medscape.com", Score: 0.85},
		{Pattern: "merckmanuals.com", Score: 0.84},
		{Pattern: "drugs.com", Score: 0.82},
		{Pattern: "rxlist.com", Score: 0.81},
		{Pattern: "webmd.com", Score: 0.80},
		{Pattern: "healthline.com", Score: 0.79},
		{Pattern: "medicalnewstoday.com", Score: 0.78},
	}
}

var defaultDomainKeywords = []string{
	"heart", "cardiac", "cardiovascular", "blood pressure", "hypertension",
	"cholesterol", "artery", "arrhythmia", "atrial", "coronary", "stroke",
	"diabetes", "dose", "dosage", "treatment", "therapy", "symptom",
	"diagnosis", "patient", "clinical", "trial", "guideline", "risk",
	"medication", "drug", "side effect", "adverse", "contraindicated",
	"disease", "chronic", "acute", "prevention", "mortality", "study",
}

// SourceScorer assigns credibility to sources and relevance to content.
// Its tables are immutable after construction.
type SourceScorer struct {
	rules          []CredibilityRule
	domainKeywords []string
	normalizer     *QueryNormalizer
}

// NewSourceScorer builds a scorer. Nil rules fall back to the defaults.
func NewSourceScorer(rules []CredibilityRule) *SourceScorer {
	if rules == nil {
		rules = DefaultCredibilityRules()
	}
	normalized := make([]CredibilityRule, 0, len(rules))
	for _, r := range rules {
		p := strings.ToLower(strings.TrimSpace(r.Pattern))
		if p == "" {
			continue
		}
		normalized = append(normalized, CredibilityRule{Pattern: p, Score: clamp01(r.Score)})
	}
	return &SourceScorer{
		rules:          normalized,
		domainKeywords: defaultDomainKeywords,
		normalizer:     NewQueryNormalizer(),
	}
}

// Credibility returns the score of the first rule whose pattern is a
// substring of the source identifier, or DefaultCredibility.
func (s *SourceScorer) Credibility(source string) float64 {
	id := strings.ToLower(strings.TrimSpace(source))
	if id == "" {
		return DefaultCredibility
	}
	for _, r := range s.rules {
		if strings.Contains(id, r.Pattern) {
			return r.Score
		}
	}
	return DefaultCredibility
}

// ContentRelevance scores content against the query in [0,1]:
// up to 0.4 for query-term coverage, 0.3 for domain keyword density,
// 0.2 for length and 0.1 for an exact phrase match.
func (s *SourceScorer) ContentRelevance(content, query string) float64 {
	if strings.TrimSpace(content) == "" {
		return 0
	}
	lowered := strings.ToLower(content)
	contentTokens := toSet(tokenize(content))

	score := 0.0

	terms := tokenize(s.normalizer.Clean(query))
	if len(terms) > 0 {
		hits := 0
		for _, t := range terms {
			if _, ok := contentTokens[t]; ok {
				hits++
			}
		}
		score += 0.4 * float64(hits) / float64(len(terms))
	}

	keywordHits := 0
	for _, kw := range s.domainKeywords {
		if strings.Contains(lowered, kw) {
			keywordHits++
		}
	}
	score += 0.3 * minFloat(float64(keywordHits)/5.0, 1.0)

	switch n := len(content); {
	case n >= 1000:
		score += 0.2
	case n >= 500:
		score += 0.15
	case n >= 200:
		score += 0.1
	case n >= 50:
		score += 0.05
	}

	phrase := strings.ToLower(strings.TrimSpace(query))
	if phrase != "" && strings.Contains(lowered, phrase) {
		score += 0.1
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
