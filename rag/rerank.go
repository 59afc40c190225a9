package rag

import (
	"context"
	"sort"
	"strings"
)

// MetaRerankScore holds the score assigned by OverlapReranker.
const MetaRerankScore = "rerank_score"

// OverlapReranker blends the normalized retrieval score with query-token
// overlap and a title hit. It needs no model and never fails.
type OverlapReranker struct {
	scoreWeight   float64
	overlapWeight float64
	titleWeight   float64
}

// NewOverlapReranker returns weights 0.6 score, 0.3 overlap, 0.1 title.
func NewOverlapReranker() *OverlapReranker {
	return &OverlapReranker{scoreWeight: 0.6, overlapWeight: 0.3, titleWeight: 0.1}
}

// Rerank returns a reordered copy of docs. CombinedScore is left untouched;
// the blended score is stored under MetaRerankScore.
func (r *OverlapReranker) Rerank(ctx context.Context, query string, docs []RetrievedDocument) ([]RetrievedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]RetrievedDocument, len(docs))
	if len(docs) == 0 {
		return out, nil
	}

	base := make([]float64, len(docs))
	lo, hi := 0.0, 0.0
	for i, d := range docs {
		base[i] = d.CombinedScore
		if base[i] == 0 {
			base[i] = d.Score
		}
		if i == 0 || base[i] < lo {
			lo = base[i]
		}
		if i == 0 || base[i] > hi {
			hi = base[i]
		}
	}
	normalize := func(v float64) float64 {
		if hi-lo <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - lo) / (hi - lo)
	}

	queryTokens := toSet(tokenize(query))
	scores := make([]float64, len(docs))
	for i, d := range docs {
		overlap := tokenOverlap(queryTokens, toSet(tokenize(d.Content)))
		title := titleHit(queryTokens, d.MetaString(MetaTitle))
		scores[i] = r.scoreWeight*normalize(base[i]) + r.overlapWeight*overlap + r.titleWeight*title
		d = d.clone()
		d.setMeta(MetaRerankScore, scores[i])
		out[i] = d
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	ranked := make([]RetrievedDocument, len(out))
	for i, j := range idx {
		ranked[i] = out[j]
	}
	return ranked, nil
}

func tokenOverlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func titleHit(query map[string]struct{}, title string) float64 {
	if title == "" {
		return 0
	}
	title = strings.ToLower(title)
	for t := range query {
		if len(t) > 2 && strings.Contains(title, t) {
			return 1
		}
	}
	return 0
}
