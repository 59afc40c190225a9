package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// HybridSearcher runs the vector leg and, when the query's surface form
// calls for it, the keyword leg, then fuses both with RRF.
type HybridSearcher struct {
	vector     Retriever
	keyword    Retriever
	fuser      *RankFuser
	normalizer *QueryNormalizer
	// overfetch multiplies topK for each leg before fusion.
	overfetch int
	logger    *zap.Logger
}

// NewHybridSearcher builds a searcher. keyword may be nil, in which case it
// degrades to vector-only search.
func NewHybridSearcher(vector, keyword Retriever, fuser *RankFuser, logger *zap.Logger) *HybridSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fuser == nil {
		fuser = NewRankFuser(DefaultRRFK)
	}
	return &HybridSearcher{
		vector:     vector,
		keyword:    keyword,
		fuser:      fuser,
		normalizer: NewQueryNormalizer(),
		overfetch:  2,
		logger:     logger.With(zap.String("component", "hybrid_search")),
	}
}

// Retrieve returns up to topK fused documents. A failing leg is logged and
// skipped; the call fails only when every attempted leg fails.
func (h *HybridSearcher) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error) {
	if topK <= 0 {
		topK = 5
	}
	useKeyword := h.keyword != nil && h.normalizer.NeedsHybridSearch(query)
	legK := topK * h.overfetch

	var (
		wg                      sync.WaitGroup
		vectorDocs, keywordDocs []RetrievedDocument
		vectorErr, keywordErr   error
	)
	if h.vector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectorDocs, vectorErr = h.vector.Retrieve(ctx, query, legK)
		}()
	}
	if useKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keywordDocs, keywordErr = h.keyword.Retrieve(ctx, query, legK)
		}()
	}
	wg.Wait()

	if vectorErr != nil {
		h.logger.Warn("vector leg failed", zap.Error(vectorErr))
	}
	if keywordErr != nil {
		h.logger.Warn("keyword leg failed", zap.Error(keywordErr))
	}
	if (h.vector == nil || vectorErr != nil) && (!useKeyword || keywordErr != nil) {
		if vectorErr == nil {
			vectorErr = keywordErr
		}
		if vectorErr == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("hybrid search: %w", vectorErr)
	}

	fused := h.fuser.FuseResults(
		toSearchResults(vectorDocs, OriginVector),
		toSearchResults(keywordDocs, OriginKeyword),
	)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	h.logger.Debug("hybrid search completed",
		zap.Bool("keyword_leg", useKeyword),
		zap.Int("vector_hits", len(vectorDocs)),
		zap.Int("keyword_hits", len(keywordDocs)),
		zap.Int("fused", len(fused)))
	return fused, nil
}

func toSearchResults(docs []RetrievedDocument, origin SearchOrigin) []SearchResult {
	out := make([]SearchResult, len(docs))
	for i, d := range docs {
		out[i] = SearchResult{Document: d, Origin: origin}
	}
	return out
}
