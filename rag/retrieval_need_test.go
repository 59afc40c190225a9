package rag

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func countingGenerator(answer string, err error) (Generator, *atomic.Int32) {
	calls := &atomic.Int32{}
	return GeneratorFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return answer, err
	}), calls
}

func TestRetrievalNeedClassifier_Cascade(t *testing.T) {
	t.Parallel()

	gen, calls := countingGenerator("NO", nil)
	c := NewRetrievalNeedClassifier(gen, DefaultNeedClassifierConfig(), zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		query string
		want  bool
		path  NeedDecisionPath
	}{
		{query: "", want: false, path: NeedPathEmpty},
		{query: "   ", want: false, path: NeedPathEmpty},
		{query: "Hi there!", want: false, path: NeedPathPattern},
		{query: "thank you so much", want: false, path: NeedPathPattern},
		{query: "Good morning.", want: false, path: NeedPathPattern},
		{query: "What is the maximum dosage of metformin?", want: true, path: NeedPathKeyword},
		{query: "I have chest pain when climbing stairs", want: true, path: NeedPathKeyword},
		{query: "does lisinopril have side effects", want: true, path: NeedPathKeyword},
	}
	for _, tt := range tests {
		need, path := c.Classify(ctx, tt.query)
		assert.Equal(t, tt.want, need, tt.query)
		assert.Equal(t, tt.path, path, tt.query)
	}
	assert.Zero(t, calls.Load(), "no query above needs the LLM")
}

func TestRetrievalNeedClassifier_LLMFallbackIsCached(t *testing.T) {
	t.Parallel()

	gen, calls := countingGenerator("YES", nil)
	c := NewRetrievalNeedClassifier(gen, DefaultNeedClassifierConfig(), nil)
	ctx := context.Background()

	need, path := c.Classify(ctx, "tell me about the weather in paris")
	assert.True(t, need)
	assert.Equal(t, NeedPathLLM, path)

	need, path = c.Classify(ctx, "  Tell me about the weather in Paris ")
	assert.True(t, need)
	assert.Equal(t, NeedPathCache, path)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetrievalNeedClassifier_FailureDefaultsAndIsNotCached(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{name: "llm error", err: errors.New("rate limited")},
		{name: "unparseable", answer: "It depends on the context."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, calls := countingGenerator(tt.answer, tt.err)
			c := NewRetrievalNeedClassifier(gen, DefaultNeedClassifierConfig(), nil)

			for i := 0; i < 2; i++ {
				need, path := c.Classify(context.Background(), "tell me about paris")
				assert.True(t, need)
				assert.Equal(t, NeedPathFallback, path)
			}
			assert.Equal(t, int32(2), calls.Load())
		})
	}
}

func TestRetrievalNeedClassifier_NoGenerator(t *testing.T) {
	t.Parallel()

	config := DefaultNeedClassifierConfig()
	config.DefaultOnFailure = false
	c := NewRetrievalNeedClassifier(nil, config, nil)

	assert.False(t, c.NeedsRetrieval(context.Background(), "tell me about paris"))
	assert.True(t, c.NeedsRetrieval(context.Background(), "warfarin interaction with ibuprofen"))
}

func TestRetrievalNeedClassifier_ConcurrentUse(t *testing.T) {
	t.Parallel()

	gen, _ := countingGenerator("no", nil)
	c := NewRetrievalNeedClassifier(gen, NeedClassifierConfig{CacheSize: 4}, nil)

	queries := []string{"hello", "aspirin dose", "what about paris", "how are you", "blood pressure"}
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				c.NeedsRetrieval(context.Background(), queries[(i+j)%len(queries)])
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, c.cache.Len(), 4)
}
