package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/9046balaji/Heart-sub001/config"
	"github.com/9046balaji/Heart-sub001/internal/cache"
	"github.com/9046balaji/Heart-sub001/internal/database"
	"github.com/9046balaji/Heart-sub001/internal/metrics"
	"github.com/9046balaji/Heart-sub001/internal/pii"
	"github.com/9046balaji/Heart-sub001/internal/telemetry"
	"github.com/9046balaji/Heart-sub001/llm/openai"
	"github.com/9046balaji/Heart-sub001/llm/resilience"
	"github.com/9046balaji/Heart-sub001/llm/tokenizer"
	"github.com/9046balaji/Heart-sub001/rag"
)

const tracerName = "github.com/9046balaji/Heart-sub001/cmd/medrag"

// app owns every long-lived collaborator built from the configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	cache    *cache.Manager
	pool     *database.PoolManager
	memory   *rag.SQLMemoryStore
	llm      *openai.Client
	gen      *resilience.ResilientGenerator
	vectors  rag.VectorStore
	keywords *rag.KeywordIndex
	neo4j    *rag.Neo4jQuerier
	web      *rag.WebRetriever
	scrubber *pii.Scrubber
}

// newApp connects the configured backends. Optional backends that fail to
// connect are logged and left out; the pipeline degrades around them.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry unavailable", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	a.telemetry = providers

	if cfg.Redis.Enabled {
		mgr, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.DefaultTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process assembly cache", zap.Error(err))
		} else {
			a.cache = mgr
		}
	}

	if cfg.Database.Enabled {
		if err := a.openMemory(ctx); err != nil {
			logger.Warn("memory store unavailable", zap.Error(err))
		}
	}

	a.llm = openai.NewClient(cfg.LLM.Config, logger)
	a.gen = resilience.NewGenerator("llm", a.llm, cfg.LLM.Resilience, logger)

	if cfg.Qdrant.Enabled {
		a.vectors = rag.NewQdrantStore(cfg.Qdrant.QdrantConfig, logger)
	} else {
		a.vectors = rag.NewInMemoryVectorStore(logger)
	}

	a.keywords, err = rag.NewKeywordIndex(logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("create keyword index: %w", err)
	}

	if cfg.Neo4j.Enabled {
		timeout := cfg.Neo4j.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		q, err := rag.NewNeo4jQuerier(connectCtx, cfg.Neo4j.Neo4jConfig)
		cancel()
		if err != nil {
			logger.Warn("knowledge graph unavailable", zap.Error(err))
		} else {
			a.neo4j = q
		}
	}

	if cfg.Web.Enabled {
		var fetcher rag.PageFetcher
		if cfg.Web.FetchPages {
			fetcher = rag.NewReadabilityFetcher(nil, 0)
		}
		a.web = rag.NewWebRetriever(
			rag.NewBraveSearch(cfg.Web.Brave, logger),
			fetcher,
			rag.NewSourceScorer(cfg.Credibility),
			cfg.Web.WebRetrieverConfig,
			logger,
		)
	}

	if cfg.PII.Enabled {
		a.scrubber = pii.NewScrubber(cfg.PII)
	}
	return a, nil
}

func (a *app) openMemory(ctx context.Context) error {
	db, err := database.Open(a.cfg.Database.Config)
	if err != nil {
		return err
	}
	var opts []database.PoolOption
	if a.cfg.Metrics.Enabled {
		opts = append(opts, database.WithStatsReporter(a.cfg.Database.Driver, a.collector))
	}
	pool, err := database.NewPoolManager(db, a.cfg.Database.Pool, a.logger, opts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return err
	}
	store := rag.NewSQLMemoryStore(pool.DB(), a.cfg.Database.Recall, a.logger)
	if err := store.Migrate(ctx); err != nil {
		_ = pool.Close()
		return err
	}
	a.pool = pool
	a.memory = store
	return nil
}

// loadCorpus reads the configured JSONL corpus into the keyword index, and
// into the vector store when it is in-process.
func (a *app) loadCorpus(ctx context.Context) (int, error) {
	path := a.cfg.Retrieval.CorpusPath
	if path == "" {
		return 0, nil
	}
	docs, err := readCorpus(path)
	if err != nil {
		return 0, err
	}
	var store rag.VectorStore
	if !a.cfg.Qdrant.Enabled {
		store = a.vectors
	}
	if err := a.index(ctx, store, docs); err != nil {
		return 0, err
	}
	a.logger.Info("corpus loaded", zap.String("path", path), zap.Int("documents", len(docs)))
	return len(docs), nil
}

// index embeds docs into store, when non-nil, and adds them to the keyword
// index.
func (a *app) index(ctx context.Context, store rag.VectorStore, docs []rag.RetrievedDocument) error {
	if store == nil {
		return a.keywords.Add(docs...)
	}
	return rag.IndexDocuments(ctx, a.llm, store, a.keywords, docs)
}

func (a *app) vectorRetriever() rag.Retriever {
	return rag.NewVectorRetriever(a.llm, a.vectors)
}

func (a *app) graphRetriever() rag.Retriever {
	if a.neo4j == nil {
		return rag.StubGraphSource{}
	}
	return rag.NewGraphSource(a.neo4j, a.cfg.Neo4j.FulltextIndex, a.logger)
}

func (a *app) memorySource() rag.MemorySource {
	if a.memory == nil {
		return nil
	}
	return a.memory
}

func (a *app) assemblyCache() rag.AssemblyCache {
	if a.cache != nil {
		return rag.NewRedisAssemblyCache(a.cache, a.cfg.Redis.KeyPrefix, a.logger)
	}
	return rag.NewMemoryAssemblyCache(a.cfg.Assembler.CacheTTL, 0)
}

func (a *app) strategy() (rag.RetrievalStrategy, error) {
	cfg := a.cfg
	switch rag.StrategyKind(cfg.Retrieval.Strategy) {
	case rag.StrategyAssembled:
		opts := []rag.AssemblerOption{rag.WithAssemblyCache(a.assemblyCache())}
		if cfg.Metrics.Enabled {
			opts = append(opts, rag.WithAssemblyObserver(a.collector))
		}
		assembler := rag.NewParallelContextAssembler(
			a.vectorRetriever(), a.graphRetriever(), a.memorySource(), cfg.Assembler, a.logger, opts...)
		return rag.AssembledStrategy{Assembler: assembler}, nil

	case rag.StrategyTiered:
		var tier2 rag.Retriever = a.keywords
		if a.web != nil {
			tier2 = a.web
		}
		return rag.TieredStrategy{
			Retriever:  rag.NewTieredRetriever(a.vectorRetriever(), tier2, cfg.Tiered, a.logger),
			ForceTier2: cfg.Retrieval.ForceTier2,
		}, nil

	case rag.StrategyHybrid:
		searcher := rag.NewHybridSearcher(a.vectorRetriever(), a.keywords, rag.NewRankFuser(cfg.Retrieval.RRFK), a.logger)
		return rag.HybridStrategy{Searcher: searcher}, nil
	}
	return nil, fmt.Errorf("unknown retrieval strategy %q", cfg.Retrieval.Strategy)
}

// pipeline builds the orchestrator for the configured strategy.
func (a *app) pipeline() (*rag.SelfCorrectingRAG, error) {
	strategy, err := a.strategy()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	opts := []rag.OrchestratorOption{
		rag.WithNeedClassifier(rag.NewRetrievalNeedClassifier(a.gen, cfg.Retrieval.NeedClassifier, a.logger)),
		rag.WithGrader(rag.NewHallucinationGrader(a.gen, cfg.Grading, a.logger)),
		rag.WithTokenBudget(rag.NewTokenBudgetManager(tokenizer.New(cfg.LLM.Model, cfg.LLM.ExactTokens), cfg.Budget, a.logger)),
		rag.WithConflictDetector(rag.NewConflictDetector(cfg.Retrieval.Conflict, a.logger)),
		rag.WithTracer(a.telemetry.Tracer(tracerName)),
	}
	if cfg.Retrieval.Rerank {
		opts = append(opts, rag.WithReranker(rag.NewOverlapReranker()))
	}
	if a.web != nil {
		opts = append(opts, rag.WithWebFallback(a.web))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, rag.WithPipelineObserver(a.collector))
	}
	return rag.NewSelfCorrectingRAG(a.gen, strategy, cfg.Retrieval.OrchestratorConfig, a.logger, opts...), nil
}

// scrub masks personal identifiers in everything the user will see.
func (a *app) scrub(res *rag.SelfRAGResult) *rag.SelfRAGResult {
	if a.scrubber == nil || res == nil {
		return res
	}
	if counts := a.scrubber.Counts(res.Response); len(counts) > 0 {
		a.logger.Info("masked identifiers in response", zap.Any("counts", counts))
	}
	out := *res
	out.Response = a.scrubber.Scrub(res.Response)
	out.Reasoning = a.scrubber.Scrub(res.Reasoning)
	out.Citations = a.scrubStrings(res.Citations)
	out.Conflicts = make([]rag.Conflict, len(res.Conflicts))
	for i, c := range res.Conflicts {
		c.Statement1 = a.scrubber.Scrub(c.Statement1)
		c.Statement2 = a.scrubber.Scrub(c.Statement2)
		c.Explanation = a.scrubber.Scrub(c.Explanation)
		out.Conflicts[i] = c
	}
	if res.Explanations != nil {
		out.Explanations = make([]rag.RetrievalExplanation, len(res.Explanations))
		for i, e := range res.Explanations {
			out.Explanations[i] = a.scrubExplanation(e)
		}
	}
	if res.RetrievalMetadata != nil {
		out.RetrievalMetadata = make(map[string]any, len(res.RetrievalMetadata))
		for k, v := range res.RetrievalMetadata {
			out.RetrievalMetadata[k] = a.scrubValue(v)
		}
	}
	return &out
}

func (a *app) scrubExplanation(e rag.RetrievalExplanation) rag.RetrievalExplanation {
	e.DocumentID = a.scrubber.Scrub(e.DocumentID)
	e.Citation.URL = a.scrubber.Scrub(e.Citation.URL)
	e.Citation.Title = a.scrubber.Scrub(e.Citation.Title)
	e.Citation.Source = a.scrubber.Scrub(e.Citation.Source)
	e.ReasoningTrace = a.scrubStrings(e.ReasoningTrace)
	if e.MatchedTerms != nil {
		terms := make([]rag.MatchedTerm, len(e.MatchedTerms))
		for i, m := range e.MatchedTerms {
			m.Term = a.scrubber.Scrub(m.Term)
			terms[i] = m
		}
		e.MatchedTerms = terms
	}
	return e
}

// scrubValue masks strings and string slices; other metadata passes through.
func (a *app) scrubValue(v any) any {
	switch val := v.(type) {
	case string:
		return a.scrubber.Scrub(val)
	case []string:
		return a.scrubStrings(val)
	}
	return v
}

func (a *app) scrubStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = a.scrubber.Scrub(s)
	}
	return out
}

// Close releases every backend and writes the metrics textfile.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.TextfilePath, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.keywords != nil {
		errs = append(errs, a.keywords.Close())
	}
	if a.neo4j != nil {
		errs = append(errs, a.neo4j.Close(ctx))
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
