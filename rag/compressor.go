package rag

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var sentenceBoundary = regexp.MustCompile(`[.!?。！？]+(\s+|$)|\n+`)

// splitSentences splits text on terminal punctuation and line breaks,
// keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// DocumentCompressor shrinks documents to a token budget by keeping their
// most query-relevant sentences in original order.
type DocumentCompressor struct {
	budget     *TokenBudgetManager
	normalizer *QueryNormalizer
	keywords   []string
	logger     *zap.Logger
}

// NewDocumentCompressor creates a compressor that counts with budget.
func NewDocumentCompressor(budget *TokenBudgetManager, logger *zap.Logger) *DocumentCompressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget == nil {
		budget = NewTokenBudgetManager(nil, DefaultBudgetConfig(), logger)
	}
	return &DocumentCompressor{
		budget:     budget,
		normalizer: NewQueryNormalizer(),
		keywords:   defaultDomainKeywords,
		logger:     logger.With(zap.String("component", "compressor")),
	}
}

type scoredSentence struct {
	index  int
	text   string
	tokens int
	score  float64
}

// Compress returns docs whose combined content fits tokenBudget. Documents
// already within budget are returned unchanged. Each document receives a
// share proportional to its size; compressed documents carry metadata
// "compressed" and "original_tokens".
func (c *DocumentCompressor) Compress(query string, docs []RetrievedDocument, tokenBudget int) []RetrievedDocument {
	out := make([]RetrievedDocument, len(docs))
	counts := make([]int, len(docs))
	total := 0
	for i, d := range docs {
		out[i] = d
		counts[i] = c.budget.CountTokens(d.Content)
		total += counts[i]
	}
	if total <= tokenBudget || tokenBudget <= 0 || len(docs) == 0 {
		return out
	}

	terms := toSet(tokenize(c.normalizer.Clean(query)))
	for i, d := range docs {
		share := tokenBudget * counts[i] / total
		if counts[i] <= share {
			continue
		}
		compressed := c.compressOne(d.Content, terms, share)
		d = d.clone()
		d.Content = compressed
		d.setMeta("compressed", true)
		d.setMeta("original_tokens", counts[i])
		out[i] = d
	}
	c.logger.Debug("documents compressed",
		zap.Int("original_tokens", total),
		zap.Int("budget", tokenBudget))
	return out
}

func (c *DocumentCompressor) compressOne(content string, terms map[string]struct{}, share int) string {
	sentences := splitSentences(content)
	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		scored[i] = scoredSentence{
			index:  i,
			text:   s,
			tokens: c.budget.CountTokens(s),
			score:  c.salience(s, i, terms),
		}
	}
	ranked := make([]scoredSentence, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	used := 0
	keep := make(map[int]bool)
	for _, s := range ranked {
		if used+s.tokens > share {
			continue
		}
		keep[s.index] = true
		used += s.tokens
	}

	if len(keep) == 0 && len(ranked) > 0 {
		// No whole sentence fits: cut the best one.
		cut, err := c.budget.tok.Truncate(ranked[0].text, max(share, 1))
		if err != nil {
			return truncateStr(ranked[0].text, max(share, 1)*4)
		}
		return strings.TrimSpace(cut)
	}

	parts := make([]string, 0, len(keep))
	for _, s := range scored {
		if keep[s.index] {
			parts = append(parts, s.text)
		}
	}
	return strings.Join(parts, " ")
}

// salience weighs query-term overlap 0.6, domain vocabulary 0.3 and a lead
// sentence bonus 0.1.
func (c *DocumentCompressor) salience(sentence string, position int, terms map[string]struct{}) float64 {
	words := tokenize(sentence)
	score := 0.0
	if len(terms) > 0 {
		hit := 0
		seen := make(map[string]struct{})
		for _, w := range words {
			if _, ok := terms[w]; ok {
				if _, dup := seen[w]; !dup {
					hit++
					seen[w] = struct{}{}
				}
			}
		}
		score += 0.6 * float64(hit) / float64(len(terms))
	}
	lower := strings.ToLower(sentence)
	kw := 0
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			kw++
		}
	}
	score += 0.3 * minFloat(float64(kw)/3, 1)
	if position == 0 {
		score += 0.1
	}
	return score
}
