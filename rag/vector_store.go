package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorDocument is a stored vector with its text and metadata.
type VectorDocument struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
}

// VectorHit is one vector search result. Score is a similarity in [0,1].
type VectorHit struct {
	Document VectorDocument `json:"document"`
	Score    float64        `json:"score"`
}

// VectorStore is the vector search capability.
type VectorStore interface {
	Upsert(ctx context.Context, docs []VectorDocument) error
	Search(ctx context.Context, embedding []float64, topK int) ([]VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// ============================================================================
// In-memory store
// ============================================================================

// InMemoryVectorStore is a brute-force cosine store for tests and small
// corpora.
type InMemoryVectorStore struct {
	docs   map[string]VectorDocument
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryVectorStore creates an empty store.
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		docs:   make(map[string]VectorDocument),
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

func (s *InMemoryVectorStore) Upsert(_ context.Context, docs []VectorDocument) error {
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("vector document without id")
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if _, exists := s.docs[d.ID]; !exists {
			s.order = append(s.order, d.ID)
		}
		s.docs[d.ID] = d
	}
	s.logger.Debug("documents upserted", zap.Int("count", len(docs)), zap.Int("total", len(s.docs)))
	return nil
}

// Search ranks by cosine similarity clamped to [0,1]. Ties keep insertion
// order.
func (s *InMemoryVectorStore) Search(_ context.Context, embedding []float64, topK int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]VectorHit, 0, len(s.docs))
	for _, id := range s.order {
		d := s.docs[id]
		hits = append(hits, VectorHit{Document: d, Score: clamp01(cosineSimilarity(embedding, d.Embedding))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *InMemoryVectorStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(s.docs, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

func (s *InMemoryVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ============================================================================
// Retriever adapter
// ============================================================================

// VectorRetriever embeds the query and searches a VectorStore, returning
// documents tagged with SourceVector.
type VectorRetriever struct {
	embedder Embedder
	store    VectorStore
}

// NewVectorRetriever creates the adapter.
func NewVectorRetriever(embedder Embedder, store VectorStore) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, store: store}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]RetrievedDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, hitToDocument(h))
	}
	return out, nil
}

func hitToDocument(h VectorHit) RetrievedDocument {
	meta := make(map[string]any, len(h.Document.Metadata)+1)
	for k, v := range h.Document.Metadata {
		meta[k] = v
	}
	meta[MetaSearchOrigin] = string(OriginVector)
	return RetrievedDocument{
		ID:       h.Document.ID,
		Content:  h.Document.Content,
		Metadata: meta,
		Score:    clamp01(h.Score),
		Source:   SourceVector,
	}
}

// IndexDocuments embeds docs and stores them in both the vector store and,
// when non-nil, the keyword index.
func IndexDocuments(ctx context.Context, embedder Embedder, store VectorStore, keywords *KeywordIndex, docs []RetrievedDocument) error {
	batch := make([]VectorDocument, 0, len(docs))
	for _, d := range docs {
		vec, err := embedder.Embed(ctx, d.Content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", d.ID, err)
		}
		batch = append(batch, VectorDocument{ID: d.ID, Content: d.Content, Metadata: d.Metadata, Embedding: vec})
	}
	if err := store.Upsert(ctx, batch); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	if keywords != nil {
		if err := keywords.Add(docs...); err != nil {
			return err
		}
	}
	return nil
}
