package rag

import (
	"context"
	"errors"
)

// ErrNoGenerator is returned when a component needs the text-generation
// capability but none was configured.
var ErrNoGenerator = errors.New("rag: text generator not configured")

// Generator is the text-generation capability. It backs direct answers,
// relevance filtering, support-level grading and the retrieval-need fallback.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Embedder turns text into a fixed-dimension vector. Identical input must
// yield identical output.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

// Retriever is any source that returns normalized documents for a query.
// Vector, keyword, graph and web sources all satisfy it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, topK int) ([]RetrievedDocument, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error) {
	return f(ctx, query, topK)
}

// MemorySource recalls documents from a user's personal memory.
type MemorySource interface {
	Recall(ctx context.Context, userID, query string, topK int) ([]RetrievedDocument, error)
}

// MemorySourceFunc adapts a function to MemorySource.
type MemorySourceFunc func(ctx context.Context, userID, query string, topK int) ([]RetrievedDocument, error)

func (f MemorySourceFunc) Recall(ctx context.Context, userID, query string, topK int) ([]RetrievedDocument, error) {
	return f(ctx, userID, query, topK)
}

// Reranker reorders documents by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []RetrievedDocument) ([]RetrievedDocument, error)
}

// RerankerFunc adapts a function to Reranker.
type RerankerFunc func(ctx context.Context, query string, docs []RetrievedDocument) ([]RetrievedDocument, error)

func (f RerankerFunc) Rerank(ctx context.Context, query string, docs []RetrievedDocument) ([]RetrievedDocument, error) {
	return f(ctx, query, docs)
}
