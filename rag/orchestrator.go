package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/9046balaji/Heart-sub001/rag"

// Step is one state of the orchestrator's state machine.
type Step string

const (
	StepCheckNeed   Step = "check_need"
	StepRetrieve    Step = "retrieve"
	StepFilter      Step = "filter"
	StepGenerate    Step = "generate"
	StepGrade       Step = "grade"
	StepWebFallback Step = "web_fallback"
	StepDone        Step = "done"
)

// GenerationFailureResponse is returned to the user when answer generation
// fails.
const GenerationFailureResponse = "I'm sorry, I wasn't able to generate an answer right now. Please try again, and consult a healthcare professional for medical advice."

// OrchestratorConfig holds the orchestrator thresholds.
type OrchestratorConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`
	// FilterSkipAtOrBelow skips relevance filtering for this many documents
	// or fewer.
	FilterSkipAtOrBelow int `yaml:"filter_skip_at_or_below" json:"filter_skip_at_or_below"`
	// FilterFallbackDocs is how many raw documents are kept when filtering fails.
	FilterFallbackDocs     int     `yaml:"filter_fallback_docs" json:"filter_fallback_docs"`
	GenerationDocs         int     `yaml:"generation_docs" json:"generation_docs"`
	WebSearchThreshold     float64 `yaml:"web_search_threshold" json:"web_search_threshold"`
	DirectAnswerConfidence float64 `yaml:"direct_answer_confidence" json:"direct_answer_confidence"`
	// MaxCorrections bounds web fallback passes per query.
	MaxCorrections int  `yaml:"max_corrections" json:"max_corrections"`
	MaxSteps       int  `yaml:"max_steps" json:"max_steps"`
	Compress       bool `yaml:"compress" json:"compress"`
}

// DefaultOrchestratorConfig returns the default thresholds.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TopK:                   5,
		FilterSkipAtOrBelow:    3,
		FilterFallbackDocs:     5,
		GenerationDocs:         3,
		WebSearchThreshold:     0.60,
		DirectAnswerConfidence: 0.85,
		MaxCorrections:         1,
		MaxSteps:               12,
		Compress:               true,
	}
}

// PipelineObserver receives per-step and per-request outcomes. It may be nil.
type PipelineObserver interface {
	ObserveStep(step string, d time.Duration)
	ObserveLLMCall(purpose string, d time.Duration, err error)
	ObserveResult(level string, confidence float64, needsWebSearch bool, d time.Duration)
}

// SelfCorrectingRAG sequences need-check, retrieval, relevance filtering,
// generation and grading, with one optional corrective pass over trusted
// web sources. It holds no per-query state and is safe for concurrent use.
type SelfCorrectingRAG struct {
	generator  Generator
	strategy   RetrievalStrategy
	need       *RetrievalNeedClassifier
	reranker   Reranker
	grader     *HallucinationGrader
	budget     *TokenBudgetManager
	compressor *DocumentCompressor
	conflicts  *ConflictDetector
	explainer  *ExplainableRetrieval
	web        Retriever
	observer   PipelineObserver
	tracer     trace.Tracer
	config     OrchestratorConfig
	logger     *zap.Logger
}

// OrchestratorOption customizes a SelfCorrectingRAG.
type OrchestratorOption func(*SelfCorrectingRAG)

// WithReranker runs the reranker concurrently with relevance filtering.
func WithReranker(r Reranker) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.reranker = r }
}

// WithWebFallback enables the corrective web pass.
func WithWebFallback(web Retriever) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.web = web }
}

// WithNeedClassifier replaces the default retrieval-need classifier.
func WithNeedClassifier(c *RetrievalNeedClassifier) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.need = c }
}

// WithGrader replaces the default hallucination grader.
func WithGrader(g *HallucinationGrader) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.grader = g }
}

// WithTokenBudget replaces the default token budget manager.
func WithTokenBudget(m *TokenBudgetManager) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.budget = m }
}

// WithConflictDetector replaces the default conflict detector.
func WithConflictDetector(d *ConflictDetector) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.conflicts = d }
}

// WithPipelineObserver attaches a metrics observer.
func WithPipelineObserver(o PipelineObserver) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.observer = o }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(s *SelfCorrectingRAG) { s.tracer = t }
}

// NewSelfCorrectingRAG builds the orchestrator. Zero config fields take
// their defaults.
func NewSelfCorrectingRAG(generator Generator, strategy RetrievalStrategy, config OrchestratorConfig, logger *zap.Logger, opts ...OrchestratorOption) *SelfCorrectingRAG {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOrchestratorConfig()
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if config.FilterSkipAtOrBelow <= 0 {
		config.FilterSkipAtOrBelow = def.FilterSkipAtOrBelow
	}
	if config.FilterFallbackDocs <= 0 {
		config.FilterFallbackDocs = def.FilterFallbackDocs
	}
	if config.GenerationDocs <= 0 {
		config.GenerationDocs = def.GenerationDocs
	}
	if config.WebSearchThreshold <= 0 {
		config.WebSearchThreshold = def.WebSearchThreshold
	}
	if config.DirectAnswerConfidence <= 0 {
		config.DirectAnswerConfidence = def.DirectAnswerConfidence
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = def.MaxSteps
	}
	if config.MaxCorrections < 0 {
		config.MaxCorrections = 0
	}

	s := &SelfCorrectingRAG{
		generator: generator,
		strategy:  strategy,
		explainer: NewExplainableRetrieval(),
		config:    config,
		logger:    logger.With(zap.String("component", "self_rag")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.need == nil {
		s.need = NewRetrievalNeedClassifier(generator, DefaultNeedClassifierConfig(), logger)
	}
	if s.grader == nil {
		s.grader = NewHallucinationGrader(generator, DefaultGradingConfig(), logger)
	}
	if s.budget == nil {
		s.budget = NewTokenBudgetManager(nil, DefaultBudgetConfig(), logger)
	}
	if s.conflicts == nil {
		s.conflicts = NewConflictDetector(DefaultConflictConfig(), logger)
	}
	s.compressor = NewDocumentCompressor(s.budget, logger)
	if s.tracer == nil {
		s.tracer = otel.Tracer(instrumentationName)
	}
	return s
}

// processState is the per-query state threaded through the steps.
type processState struct {
	query       string
	userID      string
	step        Step
	steps       int
	corrections int
	started     time.Time

	relevant []RetrievedDocument
	used     []RetrievedDocument
	evidence string
	response string

	result *SelfRAGResult
	best   *SelfRAGResult
	meta   map[string]any
}

// Process answers one query. It never returns nil and never panics on
// capability failures; every failure maps to a documented fallback.
func (s *SelfCorrectingRAG) Process(ctx context.Context, query, userID string) *SelfRAGResult {
	ctx, span := s.tracer.Start(ctx, "rag.process",
		trace.WithAttributes(attribute.Int("query.length", len(query))))
	defer span.End()

	st := &processState{
		query:   query,
		userID:  userID,
		step:    StepCheckNeed,
		started: time.Now(),
		meta:    map[string]any{},
	}
	if s.strategy != nil {
		st.meta["strategy"] = string(s.strategy.Kind())
	}

	for st.step != StepDone {
		if st.steps >= s.config.MaxSteps {
			s.logger.Error("step budget exhausted", zap.Int("steps", st.steps), zap.String("step", string(st.step)))
			if st.best != nil {
				st.result = st.best
			} else {
				st.result = failureResult("Processing stopped after too many steps.")
			}
			break
		}
		st.steps++
		st.step = s.runStep(ctx, st)
	}

	res := st.result
	if res == nil {
		res = failureResult("No result produced.")
	}
	st.meta["steps"] = st.steps
	st.meta["corrections"] = st.corrections
	st.meta["latency_ms"] = float64(time.Since(st.started).Microseconds()) / 1000.0
	if res.RetrievalMetadata == nil {
		res.RetrievalMetadata = map[string]any{}
	}
	for k, v := range st.meta {
		res.RetrievalMetadata[k] = v
	}

	span.SetAttributes(
		attribute.String("rag.support_level", string(res.SupportLevel)),
		attribute.Float64("rag.confidence", res.Confidence),
		attribute.Bool("rag.needs_web_search", res.NeedsWebSearch),
		attribute.Int("rag.steps", st.steps))
	if s.observer != nil {
		s.observer.ObserveResult(string(res.SupportLevel), res.Confidence, res.NeedsWebSearch, time.Since(st.started))
	}
	return res
}

func (s *SelfCorrectingRAG) runStep(ctx context.Context, st *processState) Step {
	stepCtx, span := s.tracer.Start(ctx, "rag."+string(st.step))
	defer span.End()
	began := time.Now()
	defer func(step Step) {
		if s.observer != nil {
			s.observer.ObserveStep(string(step), time.Since(began))
		}
	}(st.step)

	switch st.step {
	case StepCheckNeed:
		return s.checkNeed(stepCtx, st)
	case StepRetrieve:
		return s.retrieve(stepCtx, st)
	case StepFilter:
		return s.filter(stepCtx, st)
	case StepGenerate:
		return s.generate(stepCtx, st, span)
	case StepGrade:
		return s.grade(stepCtx, st)
	case StepWebFallback:
		return s.webFallback(stepCtx, st)
	default:
		span.SetStatus(codes.Error, "unknown step")
		st.result = failureResult("Unknown processing step.")
		return StepDone
	}
}

// ============================================================================
// Steps
// ============================================================================

func (s *SelfCorrectingRAG) checkNeed(ctx context.Context, st *processState) Step {
	need, path := s.need.Classify(ctx, st.query)
	st.meta["needs_retrieval"] = need
	st.meta["need_path"] = string(path)
	if need {
		return StepRetrieve
	}

	answer, err := s.callGenerator(ctx, "direct_answer", buildDirectAnswerPrompt(st.query))
	if err != nil {
		s.logger.Warn("direct answer generation failed", zap.Error(err))
		st.result = failureResult("Direct answer generation failed.")
		return StepDone
	}
	st.result = &SelfRAGResult{
		Response:       answer,
		SupportLevel:   FullySupported,
		Citations:      []string{},
		Confidence:     s.config.DirectAnswerConfidence,
		NeedsWebSearch: s.config.DirectAnswerConfidence < s.config.WebSearchThreshold,
		Reasoning:      "No retrieval needed; answered directly.",
	}
	return StepDone
}

func (s *SelfCorrectingRAG) retrieve(ctx context.Context, st *processState) Step {
	if s.strategy == nil {
		s.logger.Warn("no retrieval strategy configured")
		st.meta["retrieved_count"] = 0
		st.relevant = nil
		return StepFilter
	}
	docs, meta, err := s.strategy.retrieve(ctx, st.query, st.userID, s.config.TopK)
	if err != nil {
		s.logger.Warn("retrieval failed", zap.String("strategy", string(s.strategy.Kind())), zap.Error(err))
		docs = nil
	}
	for k, v := range meta {
		st.meta[k] = v
	}
	st.meta["retrieved_count"] = len(docs)
	st.relevant = docs
	return StepFilter
}

func (s *SelfCorrectingRAG) filter(ctx context.Context, st *processState) Step {
	st.relevant = s.filterAndRerank(ctx, st.query, st.relevant)
	st.meta["relevant_count"] = len(st.relevant)
	if len(st.relevant) > 0 {
		return StepGenerate
	}
	if s.canCorrect(st) {
		return StepWebFallback
	}
	if st.best != nil {
		st.result = st.best
		return StepDone
	}
	st.result = &SelfRAGResult{
		Response:       "I couldn't find reliable information to answer this question.",
		SupportLevel:   NoSupport,
		Citations:      []string{},
		Confidence:     0,
		NeedsWebSearch: true,
		Reasoning:      "No relevant documents found.",
	}
	return StepDone
}

func (s *SelfCorrectingRAG) generate(ctx context.Context, st *processState, span trace.Span) Step {
	top := st.relevant
	if len(top) > s.config.GenerationDocs {
		top = top[:s.config.GenerationDocs]
	}

	alloc := s.budget.Allocate(st.query)
	used := top
	if s.config.Compress {
		used = s.compressor.Compress(st.query, used, alloc.Context)
	}
	used = s.budget.FitDocuments(used, alloc.Context)
	if len(used) == 0 {
		used = top[:1]
	}
	st.used = used
	st.evidence = BuildContext(used)
	st.meta["generation_docs"] = len(used)
	st.meta["context_tokens"] = s.budget.CountTokens(st.evidence)
	span.SetAttributes(attribute.Int("rag.generation_docs", len(used)))

	answer, err := s.callGenerator(ctx, "answer", buildAnswerPrompt(st.query, st.evidence))
	if err != nil {
		s.logger.Warn("answer generation failed", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		if st.best != nil {
			st.result = st.best
		} else {
			st.result = failureResult("Answer generation failed.")
		}
		return StepDone
	}
	st.response = answer
	return StepGrade
}

func (s *SelfCorrectingRAG) grade(ctx context.Context, st *processState) Step {
	outcome := s.grader.Evaluate(ctx, st.query, st.response, st.evidence, len(st.relevant))
	st.meta["grading_skipped"] = outcome.Skipped
	st.meta["grade_reason"] = outcome.Reason

	res := s.buildResult(st, outcome)
	if st.best == nil || res.Confidence > st.best.Confidence {
		st.best = res
	}
	if res.NeedsWebSearch && s.canCorrect(st) {
		return StepWebFallback
	}
	st.result = st.best
	return StepDone
}

func (s *SelfCorrectingRAG) webFallback(ctx context.Context, st *processState) Step {
	st.corrections++
	st.meta["web_fallback_used"] = true

	webDocs, err := s.web.Retrieve(ctx, st.query, s.config.TopK)
	if err != nil {
		s.logger.Warn("web fallback failed", zap.Error(err))
	}
	st.meta["web_count"] = len(webDocs)
	if len(webDocs) == 0 {
		if st.best != nil {
			st.result = st.best
			return StepDone
		}
		st.relevant = nil
		return StepFilter
	}

	candidates := make([]RetrievedDocument, 0, len(webDocs)+len(st.relevant))
	candidates = append(candidates, webDocs...)
	candidates = append(candidates, st.relevant...)
	st.relevant = dedupByID(candidates)
	return StepFilter
}

func (s *SelfCorrectingRAG) canCorrect(st *processState) bool {
	return s.web != nil && st.corrections < s.config.MaxCorrections
}

// buildResult assembles a graded result with citations, explanations and
// conflicts.
func (s *SelfCorrectingRAG) buildResult(st *processState, outcome GradeOutcome) *SelfRAGResult {
	citations := make([]string, 0, len(st.used))
	for _, d := range st.used {
		citations = append(citations, citationLabel(d))
	}

	conflicts := s.conflicts.DetectConflicts(st.relevant)
	reasoning := []string{fmt.Sprintf("Answer generated from %d document(s).", len(st.used))}
	if outcome.Reason != "" {
		reasoning = append(reasoning, outcome.Reason)
	}
	if HasCritical(conflicts) {
		reasoning = append(reasoning, "Sources disagree on a critical point; verify with a clinician.")
	}
	if st.corrections > 0 {
		reasoning = append(reasoning, "Trusted web sources were consulted.")
	}

	return &SelfRAGResult{
		Response:       st.response,
		SupportLevel:   outcome.Level,
		Citations:      citations,
		Confidence:     outcome.Confidence,
		NeedsWebSearch: outcome.Confidence < s.config.WebSearchThreshold,
		Reasoning:      strings.Join(reasoning, " "),
		Explanations:   s.explainer.Explain(st.query, st.used),
		Conflicts:      conflicts,
	}
}

// citationLabel prefers the source field, then the name field.
func citationLabel(d RetrievedDocument) string {
	if v := strings.TrimSpace(d.MetaString(MetaSource)); v != "" {
		return v
	}
	if v := strings.TrimSpace(d.MetaString(MetaName)); v != "" {
		return v
	}
	return d.Citation()
}

// ============================================================================
// Filtering
// ============================================================================

// filterAndRerank runs relevance filtering and, when configured, reranking
// concurrently. The result is the filtered set in reranked order.
func (s *SelfCorrectingRAG) filterAndRerank(ctx context.Context, query string, docs []RetrievedDocument) []RetrievedDocument {
	if len(docs) == 0 {
		return nil
	}

	var (
		g                    errgroup.Group
		filtered, reranked   []RetrievedDocument
		filterErr, rerankErr error
	)
	g.Go(func() error {
		filtered, filterErr = s.filterRelevant(ctx, query, docs)
		return nil
	})
	if s.reranker != nil {
		g.Go(func() error {
			reranked, rerankErr = s.reranker.Rerank(ctx, query, docs)
			return nil
		})
	}
	_ = g.Wait()

	if filterErr != nil {
		n := min(len(docs), s.config.FilterFallbackDocs)
		s.logger.Warn("relevance filter failed, keeping leading documents",
			zap.Int("kept", n), zap.Error(filterErr))
		filtered = docs[:n]
	}
	if s.reranker == nil {
		return filtered
	}
	if rerankErr != nil {
		s.logger.Warn("rerank failed, keeping filtered order", zap.Error(rerankErr))
		return filtered
	}
	return orderLike(filtered, reranked)
}

// filterRelevant asks the generator which documents are relevant in a
// single batched call. An unparseable answer keeps every document.
func (s *SelfCorrectingRAG) filterRelevant(ctx context.Context, query string, docs []RetrievedDocument) ([]RetrievedDocument, error) {
	if len(docs) <= s.config.FilterSkipAtOrBelow {
		return docs, nil
	}
	raw, err := s.callGenerator(ctx, "relevance_filter", buildRelevancePrompt(query, docs))
	if err != nil {
		return nil, err
	}
	sel, strategy, err := parseRelevantIndices(raw, len(docs))
	if err != nil {
		s.logger.Warn("relevance answer unparseable, keeping all documents", zap.Error(err))
		return docs, nil
	}
	if sel.none {
		return []RetrievedDocument{}, nil
	}
	keep := make(map[int]struct{}, len(sel.indices))
	for _, i := range sel.indices {
		keep[i-1] = struct{}{}
	}
	out := make([]RetrievedDocument, 0, len(keep))
	for i, d := range docs {
		if _, ok := keep[i]; ok {
			out = append(out, d)
		}
	}
	s.logger.Debug("relevance filter applied",
		zap.String("parser", strategy),
		zap.Int("offered", len(docs)),
		zap.Int("kept", len(out)))
	return out, nil
}

// orderLike returns the members of set ordered as they appear in order;
// members missing from order keep their relative position at the end.
func orderLike(set, order []RetrievedDocument) []RetrievedDocument {
	members := make(map[string]int, len(set))
	for i, d := range set {
		members[fusionKey(d)] = i
	}
	placed := make([]bool, len(set))
	out := make([]RetrievedDocument, 0, len(set))
	for _, d := range order {
		if i, ok := members[fusionKey(d)]; ok && !placed[i] {
			placed[i] = true
			out = append(out, d)
		}
	}
	for i, d := range set {
		if !placed[i] {
			out = append(out, d)
		}
	}
	return out
}

func (s *SelfCorrectingRAG) callGenerator(ctx context.Context, purpose, prompt string) (string, error) {
	if s.generator == nil {
		return "", ErrNoGenerator
	}
	began := time.Now()
	out, err := s.generator.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = fmt.Errorf("%s: empty response", purpose)
	}
	if s.observer != nil {
		s.observer.ObserveLLMCall(purpose, time.Since(began), err)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func failureResult(reason string) *SelfRAGResult {
	return &SelfRAGResult{
		Response:       GenerationFailureResponse,
		SupportLevel:   NoSupport,
		Citations:      []string{},
		Confidence:     0,
		NeedsWebSearch: true,
		Reasoning:      reason,
	}
}

// ============================================================================
// Prompts
// ============================================================================

func buildDirectAnswerPrompt(query string) string {
	return fmt.Sprintf(`You are a friendly medical assistant. Reply briefly and naturally.

User: %s
Assistant:`, query)
}

func buildAnswerPrompt(query, evidence string) string {
	return fmt.Sprintf(`You are a careful medical assistant. Answer the question using only the numbered sources below.
Cite sources by their number. If the sources do not answer the question, say so.

Sources:
%s

Question: %s
Answer:`, evidence, query)
}

func buildRelevancePrompt(query string, docs []RetrievedDocument) string {
	var sb strings.Builder
	sb.WriteString("Which of the following documents are relevant to the question?\n")
	sb.WriteString("Reply with the relevant document numbers separated by commas (for example: 1, 3), or NONE.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", query)
	for i, d := range docs {
		fmt.Fprintf(&sb, "Document %d: %s\n\n", i+1, truncateStr(strings.Join(strings.Fields(d.Content), " "), 500))
	}
	sb.WriteString("Relevant documents:")
	return sb.String()
}
