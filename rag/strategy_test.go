package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategies_Kinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StrategyAssembled, AssembledStrategy{}.Kind())
	assert.Equal(t, StrategyTiered, TieredStrategy{}.Kind())
	assert.Equal(t, StrategyHybrid, HybridStrategy{}.Kind())
}

func TestStrategies_MissingComponent(t *testing.T) {
	t.Parallel()

	for _, s := range []RetrievalStrategy{AssembledStrategy{}, TieredStrategy{}, HybridStrategy{}} {
		_, _, err := s.retrieve(context.Background(), "q", "", 5)
		assert.Error(t, err, string(s.Kind()))
	}
}

func TestAssembledStrategy_Metadata(t *testing.T) {
	t.Parallel()

	a := NewParallelContextAssembler(
		staticRetriever(RetrievedDocument{ID: "v1", Content: "a", Score: 0.9}),
		StubGraphSource{},
		staticMemory(RetrievedDocument{ID: "m1", Content: "b", Score: 0.9}),
		DefaultAssemblerConfig(), nil,
	)
	docs, meta, err := AssembledStrategy{Assembler: a}.retrieve(context.Background(), "q", "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "m1"}, docIDs(docs))
	assert.Equal(t, 1, meta["vector_count"])
	assert.Equal(t, 0, meta["graph_count"])
	assert.Equal(t, 1, meta["memory_count"])
	assert.Equal(t, false, meta["from_cache"])
	assert.Contains(t, meta, "retrieval_time_ms")
}

func TestTieredStrategy_Metadata(t *testing.T) {
	t.Parallel()

	tier1, _ := countingTier(scoredDocs("t1", 0.5), nil)
	tier2, _ := countingTier(scoredDocs("t2", 0.4), nil)
	s := TieredStrategy{Retriever: NewTieredRetriever(tier1, tier2, DefaultTieredConfig(), nil)}

	docs, meta, err := s.retrieve(context.Background(), "metformin dosing", "", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, string(IntentUnknown), meta["intent"])
	assert.Equal(t, true, meta["escalated"])
	assert.Equal(t, 1, meta["tier1_count"])
	assert.Equal(t, 1, meta["tier2_count"])
}

func TestHybridStrategy_PropagatesError(t *testing.T) {
	t.Parallel()

	failing := &legStub{err: errors.New("down")}
	s := HybridStrategy{Searcher: NewHybridSearcher(failing, nil, nil, nil)}
	_, _, err := s.retrieve(context.Background(), "q", "", 5)
	assert.Error(t, err)

	ok := HybridStrategy{Searcher: NewHybridSearcher(&legStub{docs: idDocs("A")}, nil, nil, nil)}
	docs, meta, err := ok.retrieve(context.Background(), "q", "", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, meta["fused_count"])
}
