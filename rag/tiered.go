package rag

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TieredConfig configures TieredRetriever.
type TieredConfig struct {
	// ConfidenceThreshold stops escalation when the tier-1 average score
	// reaches it.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	MaxResultsPerTier   int     `yaml:"max_results_per_tier" json:"max_results_per_tier"`
	// EscalateResearch always searches tier 2 for research and validation intents.
	EscalateResearch bool          `yaml:"escalate_research" json:"escalate_research"`
	IntentCacheSize  int           `yaml:"intent_cache_size" json:"intent_cache_size"`
	TierTimeout      time.Duration `yaml:"tier_timeout" json:"tier_timeout"`
}

// DefaultTieredConfig returns the default tiered retrieval settings.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		ConfidenceThreshold: 0.85,
		MaxResultsPerTier:   10,
		EscalateResearch:    true,
		IntentCacheSize:     1000,
		TierTimeout:         10 * time.Second,
	}
}

// TieredResult is the outcome of one tiered retrieval.
type TieredResult struct {
	Documents       []RetrievedDocument `json:"documents"`
	Intent          QueryIntent         `json:"intent"`
	Escalated       bool                `json:"escalated"`
	Tier1Confidence float64             `json:"tier1_confidence"`
	Tier1Count      int                 `json:"tier1_count"`
	Tier2Count      int                 `json:"tier2_count"`
}

// TieredRetriever searches a high-precision tier first and escalates to a
// high-recall tier only when tier-1 confidence is low or intent demands it.
// It holds no per-call state.
type TieredRetriever struct {
	tier1   Retriever
	tier2   Retriever
	config  TieredConfig
	intents *IntentDetector
	logger  *zap.Logger
}

// NewTieredRetriever builds a retriever. tier2 may be nil.
func NewTieredRetriever(tier1, tier2 Retriever, config TieredConfig, logger *zap.Logger) *TieredRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxResultsPerTier <= 0 {
		config.MaxResultsPerTier = DefaultTieredConfig().MaxResultsPerTier
	}
	return &TieredRetriever{
		tier1:   tier1,
		tier2:   tier2,
		config:  config,
		intents: NewIntentDetector(config.IntentCacheSize),
		logger:  logger.With(zap.String("component", "tiered_retriever")),
	}
}

// DetectIntent exposes the memoized intent classification.
func (t *TieredRetriever) DetectIntent(query string) QueryIntent {
	return t.intents.Detect(query)
}

// Retrieve runs the tiered strategy. Source failures are logged and treated
// as empty tiers.
func (t *TieredRetriever) Retrieve(ctx context.Context, query string, topK int, forceTier2 bool) *TieredResult {
	if topK <= 0 {
		topK = 5
	}
	intent := t.intents.Detect(query)

	tier1 := t.searchTier(ctx, t.tier1, query, 1)
	sortByScore(tier1)

	confidence := averageScore(tier1)
	escalate := forceTier2 ||
		confidence < t.config.ConfidenceThreshold ||
		(intent.NeedsFreshEvidence() && t.config.EscalateResearch)

	result := &TieredResult{
		Intent:          intent,
		Tier1Confidence: confidence,
		Tier1Count:      len(tier1),
	}

	var tier2 []RetrievedDocument
	if escalate && t.tier2 != nil {
		result.Escalated = true
		seen := make(map[string]struct{}, len(tier1))
		for _, d := range tier1 {
			seen[d.ID] = struct{}{}
		}
		for _, d := range t.searchTier(ctx, t.tier2, query, 2) {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			tier2 = append(tier2, d)
		}
		sortByScore(tier2)
	}
	result.Tier2Count = len(tier2)

	var merged []RetrievedDocument
	if intent.NeedsFreshEvidence() {
		merged = interleave(tier1, tier2)
	} else {
		merged = append(append(make([]RetrievedDocument, 0, len(tier1)+len(tier2)), tier1...), tier2...)
	}
	if len(merged) > topK {
		merged = merged[:topK]
	}
	result.Documents = merged

	t.logger.Debug("tiered retrieval completed",
		zap.String("intent", string(intent)),
		zap.Float64("tier1_confidence", confidence),
		zap.Bool("escalated", result.Escalated),
		zap.Int("returned", len(merged)))
	return result
}

func (t *TieredRetriever) searchTier(ctx context.Context, r Retriever, query string, tier int) []RetrievedDocument {
	if r == nil {
		return nil
	}
	if t.config.TierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.TierTimeout)
		defer cancel()
	}
	docs, err := r.Retrieve(ctx, query, t.config.MaxResultsPerTier)
	if err != nil {
		t.logger.Warn("tier retrieval failed", zap.Int("tier", tier), zap.Error(err))
		return nil
	}
	out := make([]RetrievedDocument, len(docs))
	for i, d := range docs {
		d = d.clone()
		d.setMeta(MetaTier, tier)
		d.CombinedScore = d.Score
		out[i] = d
	}
	return out
}

func averageScore(docs []RetrievedDocument) float64 {
	if len(docs) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range docs {
		sum += d.Score
	}
	return sum / float64(len(docs))
}

// interleave alternates a[0], b[0], a[1], b[1], ... and appends the rest.
func interleave(a, b []RetrievedDocument) []RetrievedDocument {
	out := make([]RetrievedDocument, 0, len(a)+len(b))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}
