package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// SourceWeights are the per-source multipliers applied during assembly.
type SourceWeights struct {
	Vector float64 `yaml:"vector" json:"vector"`
	Graph  float64 `yaml:"graph" json:"graph"`
	Memory float64 `yaml:"memory" json:"memory"`
}

// DefaultSourceWeights returns 0.5 / 0.35 / 0.15.
func DefaultSourceWeights() SourceWeights {
	return SourceWeights{Vector: 0.5, Graph: 0.35, Memory: 0.15}
}

const weightTolerance = 1e-6

// Sum returns the total weight.
func (w SourceWeights) Sum() float64 {
	return w.Vector + w.Graph + w.Memory
}

// Normalize scales the weights to sum to 1. The second return value reports
// whether scaling was needed. A non-positive sum yields the defaults.
func (w SourceWeights) Normalize() (SourceWeights, bool) {
	sum := w.Sum()
	if math.Abs(sum-1.0) <= weightTolerance {
		return w, false
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return DefaultSourceWeights(), true
	}
	return SourceWeights{
		Vector: w.Vector / sum,
		Graph:  w.Graph / sum,
		Memory: w.Memory / sum,
	}, true
}

// AssemblerConfig configures ParallelContextAssembler.
type AssemblerConfig struct {
	TopK     int           `yaml:"top_k" json:"top_k"`
	Weights  SourceWeights `yaml:"weights" json:"weights"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// DefaultAssemblerConfig returns the default assembly settings.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		TopK:     5,
		Weights:  DefaultSourceWeights(),
		Timeout:  2 * time.Second,
		CacheTTL: 5 * time.Minute,
	}
}

// AssembleRequest is one assembly call.
type AssembleRequest struct {
	Query  string
	UserID string
	TopK   int
	// Weights overrides the configured weights when non-nil.
	Weights *SourceWeights
}

// ParallelContextAssembler fans out to the vector, graph and memory sources
// concurrently under a hard timeout and merges what arrives in time.
type ParallelContextAssembler struct {
	vector  Retriever
	graph   Retriever
	memory  MemorySource
	cache   AssemblyCache
	config  AssemblerConfig
	metrics AssemblyObserver
	logger  *zap.Logger
}

// AssemblyObserver receives per-source outcomes. It may be nil.
type AssemblyObserver interface {
	ObserveSource(source string, d time.Duration, docs int, err error)
	ObserveCache(cache string, hit bool)
}

// AssemblerOption customizes a ParallelContextAssembler.
type AssemblerOption func(*ParallelContextAssembler)

// WithAssemblyCache enables result caching.
func WithAssemblyCache(c AssemblyCache) AssemblerOption {
	return func(a *ParallelContextAssembler) { a.cache = c }
}

// WithAssemblyObserver attaches a metrics observer.
func WithAssemblyObserver(o AssemblyObserver) AssemblerOption {
	return func(a *ParallelContextAssembler) { a.metrics = o }
}

// NewParallelContextAssembler builds an assembler. Any source may be nil; a
// nil graph source behaves like a stub that returns nothing.
func NewParallelContextAssembler(vector, graph Retriever, memory MemorySource, config AssemblerConfig, logger *zap.Logger, opts ...AssemblerOption) *ParallelContextAssembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAssemblerConfig()
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Weights == (SourceWeights{}) {
		config.Weights = def.Weights
	}
	a := &ParallelContextAssembler{
		vector: vector,
		graph:  graph,
		memory: memory,
		config: config,
		logger: logger.With(zap.String("component", "context_assembler")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type sourceOutcome struct {
	source Source
	docs   []RetrievedDocument
	err    error
	took   time.Duration
}

// Assemble gathers context for the request. It never fails: sources that
// error or miss the deadline contribute nothing.
func (a *ParallelContextAssembler) Assemble(ctx context.Context, req AssembleRequest) *AssembledContext {
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = a.config.TopK
	}
	weights := a.config.Weights
	if req.Weights != nil {
		weights = *req.Weights
	}
	if normalized, changed := weights.Normalize(); changed {
		a.logger.Warn("source weights do not sum to 1, normalizing",
			zap.Float64("sum", weights.Sum()),
			zap.Float64("vector", normalized.Vector),
			zap.Float64("graph", normalized.Graph),
			zap.Float64("memory", normalized.Memory))
		weights = normalized
	}

	key := assemblyCacheKey(req.Query, req.UserID, topK, weights)
	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, key); ok {
			a.observeCache(true)
			cached.FromCache = true
			return cached
		}
		a.observeCache(false)
	}

	fanCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	results := make(chan sourceOutcome, 3)
	pending := 0
	launch := func(src Source, fn func(context.Context) ([]RetrievedDocument, error)) {
		pending++
		go func() {
			began := time.Now()
			docs, err := fn(fanCtx)
			results <- sourceOutcome{source: src, docs: docs, err: err, took: time.Since(began)}
		}()
	}

	if a.vector != nil {
		launch(SourceVector, func(c context.Context) ([]RetrievedDocument, error) {
			return a.vector.Retrieve(c, req.Query, topK)
		})
	}
	if a.graph != nil {
		launch(SourceGraph, func(c context.Context) ([]RetrievedDocument, error) {
			return a.graph.Retrieve(c, req.Query, topK)
		})
	}
	if a.memory != nil && req.UserID != "" {
		launch(SourceMemory, func(c context.Context) ([]RetrievedDocument, error) {
			return a.memory.Recall(c, req.UserID, req.Query, topK)
		})
	}

	out := &AssembledContext{
		VectorResults: []RetrievedDocument{},
		GraphResults:  []RetrievedDocument{},
		MemoryResults: []RetrievedDocument{},
	}
	timedOut := false

collect:
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			a.observeSource(r)
			if r.err != nil {
				a.logger.Warn("context source failed",
					zap.String("source", string(r.source)),
					zap.Duration("took", r.took),
					zap.Error(r.err))
				continue
			}
			a.place(out, r, weights)
		case <-fanCtx.Done():
			timedOut = true
			break collect
		}
	}
	if timedOut {
		a.logger.Warn("context assembly timed out, using partial results",
			zap.Duration("timeout", a.config.Timeout),
			zap.Int("pending_sources", pending))
	}

	combined := make([]RetrievedDocument, 0, len(out.VectorResults)+len(out.GraphResults)+len(out.MemoryResults))
	combined = append(combined, out.VectorResults...)
	combined = append(combined, out.GraphResults...)
	combined = append(combined, out.MemoryResults...)
	sortByCombinedScore(combined)
	out.CombinedRanked = dedupByID(combined)
	out.TotalDocuments = len(out.CombinedRanked)
	out.RetrievalTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if a.cache != nil && !timedOut && out.TotalDocuments > 0 {
		a.cache.Set(ctx, key, out, a.config.CacheTTL)
	}
	return out
}

// place weights a source's documents and stores them in their slot.
func (a *ParallelContextAssembler) place(out *AssembledContext, r sourceOutcome, w SourceWeights) {
	weight := 0.0
	switch r.source {
	case SourceVector:
		weight = w.Vector
	case SourceGraph:
		weight = w.Graph
	case SourceMemory:
		weight = w.Memory
	}
	docs := make([]RetrievedDocument, len(r.docs))
	for i, d := range r.docs {
		d = d.clone()
		d.Source = r.source
		d.CombinedScore = d.Score * weight
		docs[i] = d
	}
	sortByCombinedScore(docs)
	switch r.source {
	case SourceVector:
		out.VectorResults = docs
	case SourceGraph:
		out.GraphResults = docs
	case SourceMemory:
		out.MemoryResults = docs
	}
}

func (a *ParallelContextAssembler) observeSource(r sourceOutcome) {
	if a.metrics != nil {
		a.metrics.ObserveSource(string(r.source), r.took, len(r.docs), r.err)
	}
}

func (a *ParallelContextAssembler) observeCache(hit bool) {
	if a.metrics != nil {
		a.metrics.ObserveCache("assembly", hit)
	}
}

// assemblyCacheKey derives a deterministic key from the request shape.
func assemblyCacheKey(query, userID string, topK int, w SourceWeights) string {
	raw := fmt.Sprintf("%s|%s|%d|%.4f|%.4f|%.4f", query, userID, topK, w.Vector, w.Graph, w.Memory)
	sum := sha256.Sum256([]byte(raw))
	return "assembly:" + hex.EncodeToString(sum[:])
}
