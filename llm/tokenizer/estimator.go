package tokenizer

// EstimatorTokenizer estimates tokens from rune counts, treating CJK runes
// as denser than Latin text.
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer creates an estimator. maxTokens defaults to 4096.
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

// Costs are in twelfths of a token: a CJK rune is about 1.5 runes per
// token, anything else about 4.
const (
	unitsPerToken  = 12
	cjkRuneUnits   = 8
	otherRuneUnits = 3
)

func runeUnits(r rune) int {
	if isCJK(r) {
		return cjkRuneUnits
	}
	return otherRuneUnits
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	units := 0
	for _, r := range text {
		units += runeUnits(r)
	}
	if n := units / unitsPerToken; n > 0 {
		return n, nil
	}
	return 1, nil
}

// Truncate cuts text at the rune where the estimated count would exceed
// maxTokens.
func (e *EstimatorTokenizer) Truncate(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	limit := (maxTokens + 1) * unitsPerToken
	units := 0
	for i, r := range text {
		units += runeUnits(r)
		if units >= limit {
			return text[:i], nil
		}
	}
	return text, nil
}

func (e *EstimatorTokenizer) MaxTokens() int {
	return e.maxTokens
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
