package rag

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type legStub struct {
	docs  []RetrievedDocument
	err   error
	calls atomic.Int32
	topK  atomic.Int32
}

func (l *legStub) Retrieve(_ context.Context, _ string, topK int) ([]RetrievedDocument, error) {
	l.calls.Add(1)
	l.topK.Store(int32(topK))
	return l.docs, l.err
}

func TestHybridSearcher_FusesBothLegs(t *testing.T) {
	t.Parallel()

	vector := &legStub{docs: idDocs("A", "B", "C")}
	keyword := &legStub{docs: idDocs("B", "D")}
	h := NewHybridSearcher(vector, keyword, nil, zap.NewNop())

	docs, err := h.Retrieve(context.Background(), "metformin 500 mg with food", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "D"}, docIDs(docs))
	assert.Equal(t, "vector,keyword", docs[0].MetaString("fusion_origins"))
	assert.Equal(t, "keyword", docs[2].MetaString("fusion_origins"))
	assert.Equal(t, int32(6), vector.topK.Load(), "each leg over-fetches")
	assert.Equal(t, int32(6), keyword.topK.Load())
}

func TestHybridSearcher_SkipsKeywordLegForPlainQueries(t *testing.T) {
	t.Parallel()

	vector := &legStub{docs: idDocs("A", "B")}
	keyword := &legStub{docs: idDocs("Z")}
	h := NewHybridSearcher(vector, keyword, nil, nil)

	docs, err := h.Retrieve(context.Background(), "how can I sleep better", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, docIDs(docs))
	assert.Zero(t, keyword.calls.Load())
}

func TestHybridSearcher_OneLegFailing(t *testing.T) {
	t.Parallel()

	vector := &legStub{err: errors.New("vector store down")}
	keyword := &legStub{docs: idDocs("K1", "K2")}
	h := NewHybridSearcher(vector, keyword, nil, nil)

	docs, err := h.Retrieve(context.Background(), "aspirin interactions", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"K1", "K2"}, docIDs(docs))
}

func TestHybridSearcher_AllLegsFailing(t *testing.T) {
	t.Parallel()

	vector := &legStub{err: errors.New("vector store down")}
	keyword := &legStub{err: errors.New("index closed")}
	h := NewHybridSearcher(vector, keyword, nil, nil)

	_, err := h.Retrieve(context.Background(), "aspirin interactions", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector store down")

	// A plain query only attempts the vector leg.
	_, err = h.Retrieve(context.Background(), "sleep tips", 5)
	assert.Error(t, err)
}

func TestHybridSearcher_NoLegs(t *testing.T) {
	t.Parallel()

	h := NewHybridSearcher(nil, nil, nil, nil)
	docs, err := h.Retrieve(context.Background(), "anything", 5)
	assert.NoError(t, err)
	assert.Nil(t, docs)
}
