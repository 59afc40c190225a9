package rag

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

// GradingConfig holds the grading short-circuit thresholds.
type GradingConfig struct {
	// SkipBelowChars skips grading for responses shorter than this.
	SkipBelowChars int `yaml:"skip_below_chars" json:"skip_below_chars"`
	// SkipAtDocCount skips grading when at least this many documents back
	// the answer.
	SkipAtDocCount int `yaml:"skip_at_doc_count" json:"skip_at_doc_count"`
	// SkippedConfidence is reported when grading is skipped.
	SkippedConfidence float64 `yaml:"skipped_confidence" json:"skipped_confidence"`
}

// DefaultGradingConfig returns 200 chars, 3 documents, confidence 0.90.
func DefaultGradingConfig() GradingConfig {
	return GradingConfig{
		SkipBelowChars:    200,
		SkipAtDocCount:    3,
		SkippedConfidence: 0.90,
	}
}

// GradeOutcome is the result of HallucinationGrader.Evaluate.
type GradeOutcome struct {
	Level      SupportLevel `json:"level"`
	Confidence float64      `json:"confidence"`
	Skipped    bool         `json:"skipped"`
	Reason     string       `json:"reason"`
}

// HallucinationGrader checks generated answers against their context using
// an LLM judge.
type HallucinationGrader struct {
	generator Generator
	config    GradingConfig
	logger    *zap.Logger
}

// NewHallucinationGrader creates a grader. Zero config fields take defaults.
func NewHallucinationGrader(gen Generator, config GradingConfig, logger *zap.Logger) *HallucinationGrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultGradingConfig()
	if config.SkipBelowChars <= 0 {
		config.SkipBelowChars = def.SkipBelowChars
	}
	if config.SkipAtDocCount <= 0 {
		config.SkipAtDocCount = def.SkipAtDocCount
	}
	if config.SkippedConfidence <= 0 {
		config.SkippedConfidence = def.SkippedConfidence
	}
	return &HallucinationGrader{
		generator: gen,
		config:    config,
		logger:    logger.With(zap.String("component", "hallucination_grader")),
	}
}

// ShouldSkip reports whether grading is skipped for this response.
func (g *HallucinationGrader) ShouldSkip(response string, docCount int) bool {
	return utf8.RuneCountInString(response) < g.config.SkipBelowChars || docCount >= g.config.SkipAtDocCount
}

// Grade asks whether response is grounded in context. An unparseable verdict
// counts as not grounded.
func (g *HallucinationGrader) Grade(ctx context.Context, response, evidence string) (bool, error) {
	if g.generator == nil {
		return false, ErrNoGenerator
	}
	raw, err := g.generator.Generate(ctx, buildGroundingPrompt(response, evidence))
	if err != nil {
		return false, fmt.Errorf("grounding check: %w", err)
	}
	grounded, _, err := parseYesNo(raw)
	if err != nil {
		g.logger.Warn("grounding verdict unparseable", zap.Error(err))
		return false, nil
	}
	return grounded, nil
}

// ClassifySupportLevel asks for a 1-4 classification. When the answer has no
// digit, PartiallySupported is returned. A failed call returns NoSupport.
func (g *HallucinationGrader) ClassifySupportLevel(ctx context.Context, query, response, evidence string) (SupportLevel, error) {
	if g.generator == nil {
		return NoSupport, ErrNoGenerator
	}
	raw, err := g.generator.Generate(ctx, buildSupportPrompt(query, response, evidence))
	if err != nil {
		return NoSupport, fmt.Errorf("support classification: %w", err)
	}
	level, strategy, err := parseSupportLevel(raw)
	if err != nil {
		g.logger.Warn("support level unparseable, assuming partial support", zap.Error(err))
		return PartiallySupported, nil
	}
	g.logger.Debug("support level parsed",
		zap.String("level", string(level)),
		zap.String("strategy", strategy))
	return level, nil
}

// Evaluate grades response. Short responses and well-corroborated answers
// skip the judge entirely. A failed or negative grounding check yields
// NoSupport, as does a failed classification call. An unparseable
// classification yields PartiallySupported.
func (g *HallucinationGrader) Evaluate(ctx context.Context, query, response, evidence string, docCount int) GradeOutcome {
	if g.ShouldSkip(response, docCount) {
		return GradeOutcome{
			Level:      FullySupported,
			Confidence: g.config.SkippedConfidence,
			Skipped:    true,
			Reason:     fmt.Sprintf("grading skipped (%d chars, %d documents)", utf8.RuneCountInString(response), docCount),
		}
	}

	grounded, err := g.Grade(ctx, response, evidence)
	if err != nil {
		g.logger.Warn("grounding check failed", zap.Error(err))
		return GradeOutcome{Level: NoSupport, Confidence: NoSupport.Confidence(), Reason: "grounding check failed"}
	}
	if !grounded {
		return GradeOutcome{Level: NoSupport, Confidence: NoSupport.Confidence(), Reason: "response not grounded in retrieved context"}
	}

	level, err := g.ClassifySupportLevel(ctx, query, response, evidence)
	if err != nil {
		g.logger.Warn("support classification failed", zap.Error(err))
		return GradeOutcome{Level: NoSupport, Confidence: NoSupport.Confidence(), Reason: "support classification failed"}
	}
	return GradeOutcome{Level: level, Confidence: level.Confidence(), Reason: "graded " + string(level)}
}

func buildGroundingPrompt(response, evidence string) string {
	return fmt.Sprintf(`You are checking a medical answer for hallucinations.
Is every factual claim in the ANSWER supported by the CONTEXT?
Answer strictly with YES or NO.

CONTEXT:
%s

ANSWER:
%s

Verdict:`, evidence, response)
}

func buildSupportPrompt(query, response, evidence string) string {
	return fmt.Sprintf(`Classify how well the answer is supported by the context.
Reply with a single digit:
1 = fully supported
2 = partially supported
3 = not supported
4 = supported but needs a medical disclaimer

QUESTION: %s

CONTEXT:
%s

ANSWER:
%s

Digit:`, query, evidence, response)
}
