package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagEmbedder hashes tokens into a fixed-width bag-of-words vector.
func bagEmbedder(dim int) Embedder {
	return EmbedderFunc(func(_ context.Context, text string) ([]float64, error) {
		vec := make([]float64, dim)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%uint32(dim)]++
		}
		return vec, nil
	})
}

func TestInMemoryVectorStore_SearchOrdersByCosine(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []VectorDocument{
		{ID: "x", Embedding: []float64{1, 0}},
		{ID: "diag", Embedding: []float64{1, 1}},
		{ID: "y", Embedding: []float64{0, 1}},
		{ID: "neg", Embedding: []float64{-1, 0}},
	}))

	hits, err := s.Search(ctx, []float64{1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, "x", hits[0].Document.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "diag", hits[1].Document.ID)
	assert.InDelta(t, 0.7071, hits[1].Score, 1e-4)
	assert.Zero(t, hits[3].Score, "negative similarity clamps to zero")

	top, err := s.Search(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestInMemoryVectorStore_UpsertDeleteCount(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	assert.Error(t, s.Upsert(ctx, []VectorDocument{{Embedding: []float64{1}}}))
	assert.Error(t, s.Upsert(ctx, []VectorDocument{{ID: "a"}}))

	require.NoError(t, s.Upsert(ctx, []VectorDocument{
		{ID: "a", Content: "old", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
	}))
	require.NoError(t, s.Upsert(ctx, []VectorDocument{{ID: "a", Content: "new", Embedding: []float64{1, 0}}}))
	n, _ := s.Count(ctx)
	assert.Equal(t, 2, n)

	hits, _ := s.Search(ctx, []float64{1, 0}, 1)
	assert.Equal(t, "new", hits[0].Document.Content)

	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))
	n, _ = s.Count(ctx)
	assert.Equal(t, 1, n)
	hits, _ = s.Search(ctx, []float64{1, 0}, 5)
	assert.Equal(t, "b", hits[0].Document.ID)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosineSimilarity([]float64{2, 2}, []float64{1, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestVectorRetriever_Retrieve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	embedder := bagEmbedder(64)
	store := NewInMemoryVectorStore(nil)
	keywords, err := NewKeywordIndex(nil)
	require.NoError(t, err)
	defer keywords.Close()

	corpus := []RetrievedDocument{
		{ID: "bp", Content: "lisinopril lowers blood pressure", Metadata: map[string]any{MetaSource: "nih.gov"}},
		{ID: "lipids", Content: "atorvastatin lowers ldl cholesterol"},
		{ID: "garden", Content: "tomatoes need full sun"},
	}
	require.NoError(t, IndexDocuments(ctx, embedder, store, keywords, corpus))
	assert.Equal(t, 3, keywords.Count())

	docs, err := NewVectorRetriever(embedder, store).Retrieve(ctx, "lisinopril blood pressure", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "bp", docs[0].ID)
	assert.Equal(t, SourceVector, docs[0].Source)
	assert.Equal(t, "nih.gov", docs[0].MetaString(MetaSource))
	assert.Equal(t, string(OriginVector), docs[0].MetaString(MetaSearchOrigin))
	assert.Zero(t, docs[0].CombinedScore)
	assert.Nil(t, corpus[0].Metadata[MetaSearchOrigin], "source metadata is copied")
}

func TestVectorRetriever_EmbedFailure(t *testing.T) {
	t.Parallel()

	failing := EmbedderFunc(func(context.Context, string) ([]float64, error) {
		return nil, errors.New("embedding service down")
	})
	_, err := NewVectorRetriever(failing, NewInMemoryVectorStore(nil)).Retrieve(context.Background(), "q", 3)
	assert.ErrorContains(t, err, "embedding service down")

	err = IndexDocuments(context.Background(), failing, NewInMemoryVectorStore(nil), nil, []RetrievedDocument{{ID: "a", Content: "x"}})
	assert.Error(t, err)
}
