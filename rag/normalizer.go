package rag

import (
	"regexp"
	"strings"
	"unicode"
)

// QueryNormalizer prepares raw queries for keyword search and decides whether
// a query's surface form warrants the keyword leg at all.
type QueryNormalizer struct {
	stopWords map[string]struct{}
	drugNames map[string]struct{}
}

var (
	dosagePattern  = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:mg|mcg|µg|μg|ng|ml|g|kg|iu|units?|mmol|meq)\b`)
	acronymPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	icdPattern     = regexp.MustCompile(`\b[A-TV-Z][0-9]{2}(?:\.[0-9A-Z]{1,4})?\b`)
)

var defaultStopWords = []string{
	"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
	"what", "which", "who", "whom", "whose", "when", "where", "why", "how",
	"do", "does", "did", "can", "could", "should", "would", "will", "shall",
	"may", "might", "must", "i", "me", "my", "we", "our", "you", "your",
	"he", "she", "it", "its", "they", "them", "their", "this", "that",
	"these", "those", "of", "in", "on", "at", "to", "for", "with", "about",
	"from", "by", "and", "or", "but", "if", "then", "so", "than", "too",
	"very", "just", "there", "here", "any", "some", "tell", "please",
}

var defaultDrugNames = []string{
	"aspirin", "metformin", "lisinopril", "atorvastatin", "simvastatin",
	"rosuvastatin", "warfarin", "apixaban", "rivaroxaban", "dabigatran",
	"clopidogrel", "metoprolol", "carvedilol", "bisoprolol", "atenolol",
	"amlodipine", "losartan", "valsartan", "hydrochlorothiazide", "furosemide",
	"spironolactone", "digoxin", "amiodarone", "nitroglycerin", "insulin",
	"ibuprofen", "acetaminophen", "paracetamol", "naproxen", "heparin",
	"enalapril", "ramipril", "diltiazem", "verapamil", "entresto",
	"sacubitril", "ticagrelor", "prasugrel", "ezetimibe", "glipizide",
}

// NewQueryNormalizer builds a normalizer with the built-in stop-word and
// drug-name vocabularies.
func NewQueryNormalizer() *QueryNormalizer {
	return &QueryNormalizer{
		stopWords: toSet(defaultStopWords),
		drugNames: toSet(defaultDrugNames),
	}
}

// Clean lowercases the query, turns hyphens into spaces, strips everything but
// letters, digits and spaces, drops stop words and collapses whitespace. When
// stop-word removal would leave nothing, the pre-filter text is returned.
func (n *QueryNormalizer) Clean(query string) string {
	lowered := strings.ToLower(strings.ReplaceAll(query, "-", " "))

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	words := strings.Fields(b.String())
	cleaned := strings.Join(words, " ")

	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := n.stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return cleaned
	}
	return strings.Join(kept, " ")
}

// NeedsHybridSearch reports whether the raw query contains a dosage, an
// all-caps acronym, a known drug name or an ICD-style code.
func (n *QueryNormalizer) NeedsHybridSearch(query string) bool {
	if dosagePattern.MatchString(query) || acronymPattern.MatchString(query) || icdPattern.MatchString(query) {
		return true
	}
	for _, w := range tokenize(query) {
		if _, ok := n.drugNames[w]; ok {
			return true
		}
	}
	return false
}

// tokenize splits text into lowercase alphanumeric tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
