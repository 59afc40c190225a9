package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// NeedDecisionPath records which stage of the cascade produced a decision.
type NeedDecisionPath string

const (
	NeedPathEmpty    NeedDecisionPath = "empty"
	NeedPathCache    NeedDecisionPath = "cache"
	NeedPathPattern  NeedDecisionPath = "pattern"
	NeedPathKeyword  NeedDecisionPath = "keyword"
	NeedPathLLM      NeedDecisionPath = "llm"
	NeedPathFallback NeedDecisionPath = "fallback"
)

// NeedClassifierConfig configures RetrievalNeedClassifier.
type NeedClassifierConfig struct {
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// DefaultOnFailure is returned when the LLM fallback errors or its answer
	// cannot be parsed.
	DefaultOnFailure bool `yaml:"default_on_failure" json:"default_on_failure"`
}

// DefaultNeedClassifierConfig returns the default classifier settings.
func DefaultNeedClassifierConfig() NeedClassifierConfig {
	return NeedClassifierConfig{
		CacheSize:        1000,
		DefaultOnFailure: true,
	}
}

var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(hi|hello|hey|howdy|greetings|yo)( there| again| everyone)?[\s!.,]*$`),
	regexp.MustCompile(`^good (morning|afternoon|evening|night)[\s!.,]*$`),
	regexp.MustCompile(`^(thanks|thank you|thx|ty)( so much| a lot| very much)?[\s!.,]*$`),
	regexp.MustCompile(`^(ok|okay|k|got it|sure|great|cool|nice|perfect|alright|understood)[\s!.,]*$`),
	regexp.MustCompile(`^(bye|goodbye|see you|see ya|take care)( later| soon)?[\s!.,]*$`),
	regexp.MustCompile(`^how are you( doing)?( today)?[\s?!.]*$`),
	regexp.MustCompile(`^(who|what) are you[\s?!.]*$`),
	regexp.MustCompile(`^what('s| is) your name[\s?!.]*$`),
	regexp.MustCompile(`^are you (a |an )?(bot|robot|human|real|ai|person)[\s?!.]*$`),
}

var defaultMedicalKeywords = []string{
	// symptoms
	"pain", "ache", "fever", "cough", "fatigue", "dizziness", "dizzy", "nausea",
	"swelling", "palpitations", "shortness of breath", "headache", "rash",
	"bleeding", "faint", "fainting", "numbness", "symptom", "symptoms",
	// body parts
	"heart", "chest", "lung", "lungs", "kidney", "liver", "artery", "arteries",
	"vein", "blood", "brain", "stomach", "skin",
	// conditions
	"hypertension", "hypotension", "diabetes", "cholesterol", "arrhythmia",
	"afib", "fibrillation", "stroke", "angina", "infarction", "attack",
	"failure", "disease", "infection", "cancer", "asthma", "obesity",
	"condition", "syndrome", "disorder",
	// drugs and treatment
	"drug", "drugs", "medication", "medicine", "dose", "dosage", "side effect",
	"side effects", "interaction", "prescription", "treatment", "therapy",
	"surgery", "statin", "aspirin", "metformin", "lisinopril", "warfarin",
	"insulin", "beta blocker",
	// diagnostics
	"diagnosis", "diagnose", "test", "scan", "ecg", "ekg", "mri", "biopsy",
	"blood pressure", "risk", "prognosis", "screening", "lab", "results",
}

// RetrievalNeedClassifier decides whether a query needs external evidence.
// The cascade is: memo cache, conversational patterns (no), domain keywords
// (yes), then an LLM yes/no fallback.
type RetrievalNeedClassifier struct {
	generator Generator
	config    NeedClassifierConfig
	cache     *lruCache[bool]
	keywords  map[string]struct{}
	phrases   []string
	logger    *zap.Logger
}

// NewRetrievalNeedClassifier builds a classifier. generator may be nil, in
// which case ambiguous queries resolve to config.DefaultOnFailure.
func NewRetrievalNeedClassifier(generator Generator, config NeedClassifierConfig, logger *zap.Logger) *RetrievalNeedClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &RetrievalNeedClassifier{
		generator: generator,
		config:    config,
		cache:     newLRUCache[bool](config.CacheSize),
		keywords:  make(map[string]struct{}),
		logger:    logger.With(zap.String("component", "retrieval_need")),
	}
	for _, kw := range defaultMedicalKeywords {
		if strings.Contains(kw, " ") {
			c.phrases = append(c.phrases, kw)
		} else {
			c.keywords[kw] = struct{}{}
		}
	}
	return c
}

// NeedsRetrieval reports whether the query needs retrieval.
func (c *RetrievalNeedClassifier) NeedsRetrieval(ctx context.Context, query string) bool {
	need, _ := c.Classify(ctx, query)
	return need
}

// Classify is NeedsRetrieval plus the cascade stage that decided.
func (c *RetrievalNeedClassifier) Classify(ctx context.Context, query string) (bool, NeedDecisionPath) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false, NeedPathEmpty
	}

	key := memoKey(q)
	if v, ok := c.cache.Get(key); ok {
		return v, NeedPathCache
	}

	need, path := c.decide(ctx, q)
	if path != NeedPathFallback {
		c.cache.Set(key, need)
	}
	c.logger.Debug("retrieval need decided",
		zap.String("query", truncateStr(q, 60)),
		zap.Bool("need", need),
		zap.String("path", string(path)))
	return need, path
}

func (c *RetrievalNeedClassifier) decide(ctx context.Context, q string) (bool, NeedDecisionPath) {
	for _, p := range conversationalPatterns {
		if p.MatchString(q) {
			return false, NeedPathPattern
		}
	}

	for _, w := range tokenize(q) {
		if _, ok := c.keywords[w]; ok {
			return true, NeedPathKeyword
		}
	}
	for _, p := range c.phrases {
		if strings.Contains(q, p) {
			return true, NeedPathKeyword
		}
	}

	if c.generator == nil {
		return c.config.DefaultOnFailure, NeedPathFallback
	}

	resp, err := c.generator.Generate(ctx, buildNeedPrompt(q))
	if err != nil {
		c.logger.Warn("retrieval need llm fallback failed", zap.Error(err))
		return c.config.DefaultOnFailure, NeedPathFallback
	}
	need, _, err := parseYesNo(resp)
	if err != nil {
		c.logger.Warn("retrieval need answer unparseable", zap.Error(err))
		return c.config.DefaultOnFailure, NeedPathFallback
	}
	return need, NeedPathLLM
}

func buildNeedPrompt(query string) string {
	return fmt.Sprintf(`You route questions for a medical assistant.
Does answering the following question require looking up medical reference material?
Answer strictly with YES or NO.

Question: %s
Answer:`, query)
}
