/*
# Overview

Package rag implements the tiered retrieval-and-verification pipeline of the
medical assistant backend.

A query first passes a cheap retrieval-need check. When evidence is needed it
is gathered from several heterogeneous sources (vector store, keyword index,
graph knowledge, per-user memory, trusted web search), normalized into
RetrievedDocument values, fused and ranked, filtered for relevance, and handed
to answer generation. The generated answer is graded for groundedness and the
caller receives a confidence-scored SelfRAGResult with citations.

# Core types

  - RetrievedDocument: normalized evidence unit produced by per-source adapters.
  - RankFuser: reciprocal rank fusion over any number of ranked lists.
  - SourceScorer: configurable domain credibility and content relevance.
  - RetrievalNeedClassifier: pattern, keyword and LLM cascade with memoization.
  - ParallelContextAssembler: timeout-bounded fan-out over vector, graph and memory.
  - TieredRetriever: precision tier first, recall tier on demand.
  - ConflictDetector: pairwise contradiction, evidence, dosage and recommendation checks.
  - HallucinationGrader: LLM-as-judge grounding and support-level classification.
  - SelfCorrectingRAG: the per-query state machine tying everything together.

# Capabilities

  - Hybrid search: BM25 keyword leg fused with vector search, only for queries
    whose surface form benefits from exact matching.
  - Web fallback: trusted-domain web retrieval when local evidence is weak.
  - Assembly caching: in-process TTL cache or Redis with zstd payloads.
  - Explainability: per-document matched terms, reasoning trace and citation.
*/
package rag
