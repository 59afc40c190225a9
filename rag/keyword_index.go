package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"
)

// MetaSearchOrigin records which search leg produced a document.
const MetaSearchOrigin = "search_origin"

// keywordEntry is the indexed shape. Only text fields are analyzed.
type keywordEntry struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// KeywordIndex is an in-memory full-text index over the local corpus. It is
// the keyword leg of hybrid search.
type KeywordIndex struct {
	index      bleve.Index
	normalizer *QueryNormalizer
	docs       map[string]RetrievedDocument
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewKeywordIndex creates an empty in-memory index.
func NewKeywordIndex(logger *zap.Logger) (*KeywordIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &KeywordIndex{
		index:      idx,
		normalizer: NewQueryNormalizer(),
		docs:       make(map[string]RetrievedDocument),
		logger:     logger.With(zap.String("component", "keyword_index")),
	}, nil
}

// Add indexes documents in one batch. Documents without an ID are rejected.
func (k *KeywordIndex) Add(docs ...RetrievedDocument) error {
	batch := k.index.NewBatch()
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("keyword index: document without id")
		}
		if err := batch.Index(d.ID, keywordEntry{Title: d.MetaString(MetaTitle), Content: d.Content}); err != nil {
			return fmt.Errorf("keyword index %s: %w", d.ID, err)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword index batch: %w", err)
	}
	for _, d := range docs {
		k.docs[d.ID] = d.clone()
	}
	return nil
}

// Delete removes documents by ID.
func (k *KeywordIndex) Delete(ids ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, id := range ids {
		if err := k.index.Delete(id); err != nil {
			return fmt.Errorf("keyword delete %s: %w", id, err)
		}
		delete(k.docs, id)
	}
	return nil
}

// Count returns the number of indexed documents.
func (k *KeywordIndex) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.docs)
}

// Retrieve runs a match query over the cleaned query text. Scores are
// divided by the best hit so they fall in (0,1].
func (k *KeywordIndex) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error) {
	cleaned := k.normalizer.Clean(query)
	if cleaned == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(cleaned), topK, 0, false)

	k.mu.RLock()
	defer k.mu.RUnlock()
	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	out := make([]RetrievedDocument, 0, len(res.Hits))
	top := 0.0
	if len(res.Hits) > 0 {
		top = res.Hits[0].Score
	}
	for _, hit := range res.Hits {
		d, ok := k.docs[hit.ID]
		if !ok {
			continue
		}
		d = d.clone()
		if top > 0 {
			d.Score = hit.Score / top
		}
		d.setMeta(MetaSearchOrigin, string(OriginKeyword))
		out = append(out, d)
	}
	k.logger.Debug("keyword search",
		zap.String("query", truncateStr(cleaned, 60)),
		zap.Int("hits", len(out)))
	return out, nil
}

// Close releases the index.
func (k *KeywordIndex) Close() error {
	return k.index.Close()
}
