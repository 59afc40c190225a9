package rag

import (
	"regexp"
	"strings"
)

// QueryIntent is the coarse purpose of a query, used to steer tier escalation.
type QueryIntent string

const (
	IntentGuideline  QueryIntent = "GUIDELINE"
	IntentDiagnosis  QueryIntent = "DIAGNOSIS"
	IntentResearch   QueryIntent = "RESEARCH"
	IntentDefinition QueryIntent = "DEFINITION"
	IntentComparison QueryIntent = "COMPARISON"
	IntentValidation QueryIntent = "VALIDATION"
	IntentUnknown    QueryIntent = "UNKNOWN"
)

// NeedsFreshEvidence reports whether the intent benefits from the recall tier.
func (i QueryIntent) NeedsFreshEvidence() bool {
	return i == IntentResearch || i == IntentValidation
}

type intentRule struct {
	intent   QueryIntent
	patterns []*regexp.Regexp
}

func mustCompileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// intentRules are evaluated in order; the first matching group wins.
var intentRules = []intentRule{
	{IntentResearch, mustCompileAll(
		`\b(latest|recent|new|emerging|current) (research|studies|study|evidence|findings|trials?)\b`,
		`\b(clinical trials?|meta[- ]analysis|systematic review|rct|randomi[sz]ed)\b`,
		`\bresearch (on|about|into)\b`,
		`\bwhat does the (research|evidence|literature) say\b`,
		`\b(20[12][0-9])\b.*\b(study|trial|research)\b`,
	)},
	{IntentValidation, mustCompileAll(
		`\b(is it true|true or false|fact[- ]check|verify|confirm|myth)\b`,
		`\b(is there evidence|evidence that|proven|debunk)\b`,
		`\bdoes .+ really\b`,
	)},
	{IntentComparison, mustCompileAll(
		`\b(vs\.?|versus|compared (to|with)|comparison|difference between)\b`,
		`\b(better|worse|safer) than\b`,
		`\bwhich is (better|safer|more effective)\b`,
	)},
	{IntentGuideline, mustCompileAll(
		`\b(guidelines?|recommendations?|recommended|protocol|standard of care|first[- ]line)\b`,
		`\b(aha|acc|esc|nice|who|uspstf)\b`,
		`\bhow (should|to) (treat|manage)\b`,
	)},
	{IntentDiagnosis, mustCompileAll(
		`\b(symptoms?|signs? of|diagnos(e|is|ed)|could (i|it) (have|be))\b`,
		`\b(why (do|does|am) (i|my))\b`,
		`\b(pain|ache|dizzy|dizziness|short(ness)? of breath|palpitations)\b`,
	)},
	{IntentDefinition, mustCompileAll(
		`^(what is|what are|what's|define|definition of|meaning of|explain)\b`,
		`\bwhat does .+ mean\b`,
	)},
}

// IntentDetector classifies query intent with ordered pattern groups and
// memoizes results per normalized query.
type IntentDetector struct {
	cache *lruCache[QueryIntent]
}

// NewIntentDetector builds a detector with a bounded memo cache.
func NewIntentDetector(cacheSize int) *IntentDetector {
	return &IntentDetector{cache: newLRUCache[QueryIntent](cacheSize)}
}

// Detect returns the first matching intent group, or IntentUnknown.
func (d *IntentDetector) Detect(query string) QueryIntent {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return IntentUnknown
	}
	key := memoKey(q)
	if v, ok := d.cache.Get(key); ok {
		return v
	}
	intent := classifyIntent(q)
	d.cache.Set(key, intent)
	return intent
}

func classifyIntent(q string) QueryIntent {
	for _, rule := range intentRules {
		for _, p := range rule.patterns {
			if p.MatchString(q) {
				return rule.intent
			}
		}
	}
	return IntentUnknown
}
