package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGraph struct {
	rows   []map[string]any
	err    error
	cypher string
	params map[string]any
	calls  int
}

func (f *fakeGraph) Query(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.calls++
	f.cypher = cypher
	f.params = params
	return f.rows, f.err
}

func TestGraphSource_Retrieve(t *testing.T) {
	t.Parallel()

	g := &fakeGraph{rows: []map[string]any{
		{
			"id":          "4:abc:1",
			"name":        "Lisinopril",
			"description": "ACE inhibitor used for hypertension",
			"labels":      []any{"Drug", "Medication"},
			"relations":   []any{"TREATS Hypertension", "INTERACTS_WITH Potassium", " "},
			"score":       4.0,
		},
		{
			"id":          "4:abc:2",
			"name":        "Hypertension",
			"description": "",
			"labels":      []any{"Condition"},
			"score":       int64(2),
		},
		{"id": "", "name": "orphan", "score": 9.0},
		{"id": "4:abc:3", "score": 1.0},
	}}
	src := NewGraphSource(g, "", zap.NewNop())

	docs, err := src.Retrieve(context.Background(), "What does lisinopril treat?", 3)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "medical_entities", g.params["index"])
	assert.Equal(t, "lisinopril treat", g.params["query"])
	assert.Equal(t, 3, g.params["limit"])
	assert.Contains(t, g.cypher, "db.index.fulltext.queryNodes")

	first := docs[0]
	assert.Equal(t, "graph_4:abc:1", first.ID)
	assert.Equal(t, "Lisinopril: ACE inhibitor used for hypertension Related: TREATS Hypertension; INTERACTS_WITH Potassium.", first.Content)
	assert.Equal(t, SourceGraph, first.Source)
	assert.Equal(t, "knowledge_graph", first.MetaString(MetaSource))
	assert.Equal(t, "Lisinopril", first.MetaString(MetaName))
	assert.Equal(t, "4:abc:1", first.MetaString(MetaID))
	assert.Equal(t, "Drug,Medication", first.MetaString("labels"))

	// Normalized by the best raw score, which belongs to the dropped orphan row.
	assert.InDelta(t, 4.0/9.0, first.Score, 1e-9)
	assert.Equal(t, "Hypertension", docs[1].Content)
	assert.InDelta(t, 2.0/9.0, docs[1].Score, 1e-9)
}

func TestGraphSource_EmptyQueryAndErrors(t *testing.T) {
	t.Parallel()

	g := &fakeGraph{}
	src := NewGraphSource(g, "entities", nil)

	docs, err := src.Retrieve(context.Background(), "?!", 5)
	assert.NoError(t, err)
	assert.Nil(t, docs)
	assert.Zero(t, g.calls)

	g.err = errors.New("neo4j unavailable")
	_, err = src.Retrieve(context.Background(), "warfarin", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, g.err)
	assert.Equal(t, 5, g.params["limit"])
	assert.Equal(t, "entities", g.params["index"])
}

func TestStubGraphSource(t *testing.T) {
	t.Parallel()

	docs, err := StubGraphSource{}.Retrieve(context.Background(), "anything", 5)
	assert.NoError(t, err)
	assert.Nil(t, docs)
}
