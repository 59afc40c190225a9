package rag

import (
	"context"
	"fmt"
)

// StrategyKind names a retrieval strategy.
type StrategyKind string

const (
	StrategyAssembled StrategyKind = "assembled"
	StrategyTiered    StrategyKind = "tiered"
	StrategyHybrid    StrategyKind = "hybrid"
)

// RetrievalStrategy is the closed set of ways the orchestrator gathers
// documents. Only this package can add variants.
type RetrievalStrategy interface {
	Kind() StrategyKind
	retrieve(ctx context.Context, query, userID string, topK int) ([]RetrievedDocument, map[string]any, error)
}

// AssembledStrategy fans out to the vector, graph and memory sources.
type AssembledStrategy struct {
	Assembler *ParallelContextAssembler
	// Weights overrides the assembler weights when non-nil.
	Weights *SourceWeights
}

func (s AssembledStrategy) Kind() StrategyKind { return StrategyAssembled }

func (s AssembledStrategy) retrieve(ctx context.Context, query, userID string, topK int) ([]RetrievedDocument, map[string]any, error) {
	if s.Assembler == nil {
		return nil, nil, fmt.Errorf("assembled strategy: no assembler")
	}
	ac := s.Assembler.Assemble(ctx, AssembleRequest{Query: query, UserID: userID, TopK: topK, Weights: s.Weights})
	meta := map[string]any{
		"vector_count":      len(ac.VectorResults),
		"graph_count":       len(ac.GraphResults),
		"memory_count":      len(ac.MemoryResults),
		"retrieval_time_ms": ac.RetrievalTimeMs,
		"from_cache":        ac.FromCache,
	}
	return ac.CombinedRanked, meta, nil
}

// TieredStrategy searches the precision tier first and escalates on low
// confidence.
type TieredStrategy struct {
	Retriever  *TieredRetriever
	ForceTier2 bool
}

func (s TieredStrategy) Kind() StrategyKind { return StrategyTiered }

func (s TieredStrategy) retrieve(ctx context.Context, query, _ string, topK int) ([]RetrievedDocument, map[string]any, error) {
	if s.Retriever == nil {
		return nil, nil, fmt.Errorf("tiered strategy: no retriever")
	}
	res := s.Retriever.Retrieve(ctx, query, topK, s.ForceTier2)
	meta := map[string]any{
		"intent":           string(res.Intent),
		"escalated":        res.Escalated,
		"tier1_confidence": res.Tier1Confidence,
		"tier1_count":      res.Tier1Count,
		"tier2_count":      res.Tier2Count,
	}
	return res.Documents, meta, nil
}

// HybridStrategy fuses vector and keyword search.
type HybridStrategy struct {
	Searcher *HybridSearcher
}

func (s HybridStrategy) Kind() StrategyKind { return StrategyHybrid }

func (s HybridStrategy) retrieve(ctx context.Context, query, _ string, topK int) ([]RetrievedDocument, map[string]any, error) {
	if s.Searcher == nil {
		return nil, nil, fmt.Errorf("hybrid strategy: no searcher")
	}
	docs, err := s.Searcher.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, nil, err
	}
	return docs, map[string]any{"fused_count": len(docs)}, nil
}
