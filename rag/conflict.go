package rag

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// termPair is an opposing pair of phrases. The second phrase is removed
// before the first is matched, so "should not" never counts as "should".
type termPair struct {
	first, second     string
	firstRe, secondRe *regexp.Regexp
}

func newTermPair(first, second string) termPair {
	return termPair{
		first:    first,
		second:   second,
		firstRe:  phraseRegexp(first),
		secondRe: phraseRegexp(second),
	}
}

// phraseRegexp matches phrase case-insensitively on word boundaries,
// accepting a hyphen or whitespace between words.
func phraseRegexp(phrase string) *regexp.Regexp {
	words := strings.FieldsFunc(phrase, func(r rune) bool { return r == ' ' || r == '-' })
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `[\s-]+`) + `\b`)
}

func (p termPair) presence(text string) (hasFirst, hasSecond bool) {
	hasSecond = p.secondRe.MatchString(text)
	hasFirst = p.firstRe.MatchString(p.secondRe.ReplaceAllString(text, " "))
	return hasFirst, hasSecond
}

// statementFor returns the first sentence of text holding the phrase.
func (p termPair) statementFor(text string, first bool) string {
	for _, s := range splitSentences(text) {
		f, sec := p.presence(s)
		if (first && f) || (!first && sec) {
			return s
		}
	}
	return truncateStr(text, 200)
}

var defaultContradictionPairs = [][2]string{
	{"should", "should not"},
	{"safe", "dangerous"},
	{"safe", "unsafe"},
	{"recommended", "not recommended"},
	{"effective", "ineffective"},
	{"indicated", "contraindicated"},
	{"increases", "decreases"},
	{"beneficial", "harmful"},
}

var defaultRecommendationPairs = [][2]string{
	{"first-line", "second-line"},
	{"preferred", "alternative"},
	{"always", "never"},
	{"must", "must not"},
}

var defaultCriticalKeywords = []string{
	"contraindicated", "fatal", "death", "emergency", "life-threatening",
	"overdose", "toxic", "toxicity", "anaphylaxis", "black box",
}

type evidenceIndicator struct {
	re    *regexp.Regexp
	label string
	level int
}

var defaultEvidenceIndicators = []struct {
	phrase string
	level  int
}{
	{"randomized controlled trial", 5},
	{"meta-analysis", 5},
	{"systematic review", 5},
	{"rct", 5},
	{"cohort study", 4},
	{"prospective study", 4},
	{"case-control", 3},
	{"observational study", 3},
	{"case series", 2},
	{"case report", 2},
	{"expert opinion", 1},
	{"anecdotal", 1},
}

var dosageAmountPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mcg|μg|µg|ug|mg|ng|g|ml|iu|units?)\b`)

// dosageScale maps a unit onto a canonical unit and multiplier. Mass units
// normalize to mg so that "0.5 g" and "500 mg" compare equal.
var dosageScale = map[string]struct {
	canonical string
	factor    float64
}{
	"g":     {"mg", 1000},
	"mg":    {"mg", 1},
	"mcg":   {"mg", 0.001},
	"μg":    {"mg", 0.001},
	"µg":    {"mg", 0.001},
	"ug":    {"mg", 0.001},
	"ng":    {"mg", 0.000001},
	"ml":    {"ml", 1},
	"iu":    {"iu", 1},
	"unit":  {"unit", 1},
	"units": {"unit", 1},
}

// ConflictConfig tunes ConflictDetector thresholds.
type ConflictConfig struct {
	DosageRatio      float64 `yaml:"dosage_ratio" json:"dosage_ratio"`
	EvidenceLevelGap int     `yaml:"evidence_level_gap" json:"evidence_level_gap"`
}

// DefaultConflictConfig returns ratio 1.5 and gap 3.
func DefaultConflictConfig() ConflictConfig {
	return ConflictConfig{DosageRatio: 1.5, EvidenceLevelGap: 3}
}

// ConflictDetector compares documents pairwise for contradictory claims.
// Its tables are read-only after construction.
type ConflictDetector struct {
	config          ConflictConfig
	contradictions  []termPair
	recommendations []termPair
	critical        []*regexp.Regexp
	evidence        []evidenceIndicator
	logger          *zap.Logger
}

// NewConflictDetector creates a detector with the built-in medical tables.
func NewConflictDetector(config ConflictConfig, logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConflictConfig()
	if config.DosageRatio <= 1 {
		config.DosageRatio = def.DosageRatio
	}
	if config.EvidenceLevelGap <= 0 {
		config.EvidenceLevelGap = def.EvidenceLevelGap
	}
	d := &ConflictDetector{
		config: config,
		logger: logger.With(zap.String("component", "conflict_detector")),
	}
	for _, p := range defaultContradictionPairs {
		d.contradictions = append(d.contradictions, newTermPair(p[0], p[1]))
	}
	for _, p := range defaultRecommendationPairs {
		d.recommendations = append(d.recommendations, newTermPair(p[0], p[1]))
	}
	for _, k := range defaultCriticalKeywords {
		d.critical = append(d.critical, phraseRegexp(k))
	}
	for _, e := range defaultEvidenceIndicators {
		d.evidence = append(d.evidence, evidenceIndicator{re: phraseRegexp(e.phrase), label: e.phrase, level: e.level})
	}
	return d
}

// DetectConflicts checks every pair of documents and returns the conflicts
// ordered by severity, most severe first.
func (d *ConflictDetector) DetectConflicts(docs []RetrievedDocument) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(docs); i++ {
		for j := i + 1; j < len(docs); j++ {
			conflicts = append(conflicts, d.comparePair(docs[i], docs[j])...)
		}
	}
	sort.SliceStable(conflicts, func(a, b int) bool {
		return conflicts[a].Severity.Rank() > conflicts[b].Severity.Rank()
	})
	if len(conflicts) > 0 {
		d.logger.Debug("conflicts detected",
			zap.Int("documents", len(docs)),
			zap.Int("conflicts", len(conflicts)))
	}
	return conflicts
}

// HasCritical reports whether any conflict is critical.
func HasCritical(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func (d *ConflictDetector) comparePair(a, b RetrievedDocument) []Conflict {
	var out []Conflict
	if c, ok := d.contradiction(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.evidenceConflict(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.dosageConflict(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.recommendationConflict(a, b); ok {
		out = append(out, c)
	}
	return out
}

// opposed finds the first pair where one document holds one side and the
// other document the opposite side.
func opposed(pairs []termPair, a, b string) (termPair, bool, bool) {
	for _, p := range pairs {
		aFirst, aSecond := p.presence(a)
		bFirst, bSecond := p.presence(b)
		if aFirst && bSecond {
			return p, true, true
		}
		if aSecond && bFirst {
			return p, false, true
		}
	}
	return termPair{}, false, false
}

func (d *ConflictDetector) contradiction(a, b RetrievedDocument) (Conflict, bool) {
	p, aHoldsFirst, ok := opposed(d.contradictions, a.Content, b.Content)
	if !ok {
		return Conflict{}, false
	}
	critA, critB := d.hasCritical(a.Content), d.hasCritical(b.Content)
	severity := SeverityMedium
	switch {
	case critA && critB:
		severity = SeverityCritical
	case critA || critB:
		severity = SeverityHigh
	}
	return Conflict{
		DocumentID1: a.ID,
		DocumentID2: b.ID,
		Severity:    severity,
		Type:        ConflictContradiction,
		Statement1:  p.statementFor(a.Content, aHoldsFirst),
		Statement2:  p.statementFor(b.Content, !aHoldsFirst),
		Explanation: fmt.Sprintf("sources disagree: %q versus %q", p.first, p.second),
		Resolution:  "Defer to the more authoritative source and consult a clinician.",
	}, true
}

func (d *ConflictDetector) hasCritical(text string) bool {
	for _, re := range d.critical {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// evidenceLevel returns the strongest evidence indicator in text, or 0.
func (d *ConflictDetector) evidenceLevel(text string) (int, string) {
	best, label := 0, ""
	for _, e := range d.evidence {
		if e.level > best && e.re.MatchString(text) {
			best, label = e.level, e.label
		}
	}
	return best, label
}

func (d *ConflictDetector) evidenceConflict(a, b RetrievedDocument) (Conflict, bool) {
	la, labelA := d.evidenceLevel(a.Content)
	lb, labelB := d.evidenceLevel(b.Content)
	if la == 0 || lb == 0 {
		return Conflict{}, false
	}
	gap := la - lb
	if gap < 0 {
		gap = -gap
	}
	if gap < d.config.EvidenceLevelGap {
		return Conflict{}, false
	}
	stronger := a.ID
	if lb > la {
		stronger = b.ID
	}
	return Conflict{
		DocumentID1: a.ID,
		DocumentID2: b.ID,
		Severity:    SeverityMedium,
		Type:        ConflictEvidenceLevel,
		Statement1:  labelA,
		Statement2:  labelB,
		Explanation: fmt.Sprintf("evidence quality differs by %d levels", gap),
		Resolution:  fmt.Sprintf("Prefer %s, which reports stronger evidence.", stronger),
	}, true
}

type dosage struct {
	value float64
	unit  string
	text  string
}

// maxDosages returns the largest dosage per canonical unit in text.
func maxDosages(text string) map[string]dosage {
	out := make(map[string]dosage)
	for _, m := range dosageAmountPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			continue
		}
		scale, ok := dosageScale[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		v *= scale.factor
		if cur, seen := out[scale.canonical]; !seen || v > cur.value {
			out[scale.canonical] = dosage{value: v, unit: scale.canonical, text: m[0]}
		}
	}
	return out
}

func (d *ConflictDetector) dosageConflict(a, b RetrievedDocument) (Conflict, bool) {
	da, db := maxDosages(a.Content), maxDosages(b.Content)
	units := make([]string, 0, len(da))
	for u := range da {
		if _, ok := db[u]; ok {
			units = append(units, u)
		}
	}
	sort.Strings(units)
	for _, u := range units {
		x, y := da[u], db[u]
		hi, lo := x.value, y.value
		if lo > hi {
			hi, lo = lo, hi
		}
		ratio := hi / lo
		if ratio <= d.config.DosageRatio {
			continue
		}
		return Conflict{
			DocumentID1: a.ID,
			DocumentID2: b.ID,
			Severity:    SeverityCritical,
			Type:        ConflictDosage,
			Statement1:  x.text,
			Statement2:  y.text,
			Explanation: fmt.Sprintf("dosages differ by a factor of %.2f", ratio),
			Resolution:  "Verify dosing against current prescribing information.",
		}, true
	}
	return Conflict{}, false
}

func (d *ConflictDetector) recommendationConflict(a, b RetrievedDocument) (Conflict, bool) {
	p, aHoldsFirst, ok := opposed(d.recommendations, a.Content, b.Content)
	if !ok {
		return Conflict{}, false
	}
	return Conflict{
		DocumentID1: a.ID,
		DocumentID2: b.ID,
		Severity:    SeverityHigh,
		Type:        ConflictRecommendation,
		Statement1:  p.statementFor(a.Content, aHoldsFirst),
		Statement2:  p.statementFor(b.Content, !aHoldsFirst),
		Explanation: fmt.Sprintf("recommendation strength differs: %q versus %q", p.first, p.second),
		Resolution:  "Follow the most recent guideline from the highest-credibility source.",
	}, true
}
