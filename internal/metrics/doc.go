/*
Package metrics provides Prometheus collection for the retrieval pipeline.

# Overview

Collector registers its vectors against an injectable prometheus.Registerer,
so tests can use a fresh registry. Every metric carries the configured
namespace.

# Core types

  - Collector: implements rag.AssemblyObserver and rag.PipelineObserver and
    records LLM, cache and database pool figures.

# Metrics

  - Source fan-out: per-source latency histogram, document counts and
    failures, labelled by source.
  - Orchestrator: per-step latency, LLM call latency and failures by purpose,
    final support level and confidence.
  - Cache: hits and misses by cache name.
  - Database: open and idle connection gauges.
*/
package metrics
