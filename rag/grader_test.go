package rag

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// judge answers the grounding prompt and the support prompt separately.
func judge(grounding, support string, groundErr, supportErr error) (Generator, *atomic.Int32) {
	calls := &atomic.Int32{}
	return GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		calls.Add(1)
		if strings.Contains(prompt, "checking a medical answer for hallucinations") {
			return grounding, groundErr
		}
		return support, supportErr
	}), calls
}

func TestHallucinationGrader_ShouldSkip(t *testing.T) {
	t.Parallel()

	g := NewHallucinationGrader(nil, GradingConfig{}, nil)
	long := strings.Repeat("x", 250)

	assert.True(t, g.ShouldSkip("short", 1))
	assert.True(t, g.ShouldSkip(long, 3))
	assert.True(t, g.ShouldSkip(long, 7))
	assert.False(t, g.ShouldSkip(long, 2))
	assert.False(t, g.ShouldSkip(strings.Repeat("é", 200), 0))
	assert.True(t, g.ShouldSkip(strings.Repeat("é", 199), 0))
}

func TestHallucinationGrader_SkippedOutcome(t *testing.T) {
	t.Parallel()

	gen, calls := judge("NO", "3", nil, nil)
	g := NewHallucinationGrader(gen, DefaultGradingConfig(), zap.NewNop())

	out := g.Evaluate(context.Background(), "q", "Short answer.", "ctx", 1)
	assert.True(t, out.Skipped)
	assert.Equal(t, FullySupported, out.Level)
	assert.InDelta(t, 0.90, out.Confidence, 1e-9)
	assert.Zero(t, calls.Load())
}

func TestHallucinationGrader_Evaluate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Lisinopril lowers blood pressure. ", 10)
	tests := []struct {
		name       string
		grounding  string
		support    string
		groundErr  error
		supportErr error
		level      SupportLevel
		confidence float64
		calls      int32
	}{
		{name: "fully supported", grounding: "YES", support: "1", level: FullySupported, confidence: 0.95, calls: 2},
		{name: "partially supported", grounding: "yes", support: "2", level: PartiallySupported, confidence: 0.72, calls: 2},
		{name: "needs disclaimer", grounding: "YES", support: "4", level: NeedsDisclaimer, confidence: 0.78, calls: 2},
		{name: "classified unsupported", grounding: "YES", support: "3", level: NoSupport, confidence: 0, calls: 2},
		{name: "not grounded", grounding: "NO", level: NoSupport, confidence: 0, calls: 1},
		{name: "grounding unparseable", grounding: "hmm", level: NoSupport, confidence: 0, calls: 1},
		{name: "grounding error", groundErr: errors.New("timeout"), level: NoSupport, confidence: 0, calls: 1},
		{name: "support unparseable", grounding: "YES", support: "unclear", level: PartiallySupported, confidence: 0.72, calls: 2},
		{name: "support without digit", grounding: "YES", support: "Not fully supported.", level: PartiallySupported, confidence: 0.72, calls: 2},
		{name: "support error", grounding: "YES", supportErr: errors.New("timeout"), level: NoSupport, confidence: 0, calls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, calls := judge(tt.grounding, tt.support, tt.groundErr, tt.supportErr)
			g := NewHallucinationGrader(gen, DefaultGradingConfig(), nil)

			out := g.Evaluate(context.Background(), "lisinopril", long, "context", 1)
			assert.False(t, out.Skipped)
			assert.Equal(t, tt.level, out.Level)
			assert.InDelta(t, tt.confidence, out.Confidence, 1e-9)
			assert.Equal(t, tt.calls, calls.Load())
			assert.NotEmpty(t, out.Reason)
		})
	}
}

func TestHallucinationGrader_NoGenerator(t *testing.T) {
	t.Parallel()

	g := NewHallucinationGrader(nil, DefaultGradingConfig(), nil)
	_, err := g.Grade(context.Background(), "answer", "ctx")
	assert.ErrorIs(t, err, ErrNoGenerator)

	level, err := g.ClassifySupportLevel(context.Background(), "q", "answer", "ctx")
	assert.ErrorIs(t, err, ErrNoGenerator)
	assert.Equal(t, NoSupport, level)

	out := g.Evaluate(context.Background(), "q", strings.Repeat("a", 300), "ctx", 0)
	assert.Equal(t, NoSupport, out.Level)
}

func TestSupportLevel_Confidence(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.95, FullySupported.Confidence(), 1e-9)
	assert.InDelta(t, 0.72, PartiallySupported.Confidence(), 1e-9)
	assert.InDelta(t, 0.78, NeedsDisclaimer.Confidence(), 1e-9)
	assert.Zero(t, NoSupport.Confidence())
	assert.Zero(t, SupportLevel("bogus").Confidence())
}
