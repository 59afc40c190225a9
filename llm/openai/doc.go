// Package openai implements text generation and embeddings against any
// OpenAI-compatible HTTP endpoint. Client satisfies rag.Generator and
// rag.Embedder.
package openai
