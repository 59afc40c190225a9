package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSearch struct {
	calls   atomic.Int32
	results []WebSearchResult
	err     error
}

func (c *countingSearch) search(_ context.Context, _ string, _ int) ([]WebSearchResult, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]WebSearchResult, len(c.results))
	copy(out, c.results)
	return out, nil
}

type stubFetcher struct {
	pages map[string]string
	calls atomic.Int32
}

func (f *stubFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	f.calls.Add(1)
	if text, ok := f.pages[pageURL]; ok {
		return text, nil
	}
	return "", fmt.Errorf("no page %s", pageURL)
}

func testWebConfig() WebRetrieverConfig {
	cfg := DefaultWebRetrieverConfig()
	cfg.RequestsPerSecond = 0
	cfg.EnrichBelowChars = 0
	return cfg
}

// ---------------------------------------------------------------------------
// Allow-list
// ---------------------------------------------------------------------------

func TestWebRetriever_IsTrusted(t *testing.T) {
	t.Parallel()

	w := NewWebRetriever(nil, nil, nil, testWebConfig(), zap.NewNop())

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.nih.gov/health-information", true},
		{"https://pubmed.ncbi.nlm.nih.gov/12345/", true},
		{"https://newsroom.heart.org/news", true},
		{"https://nih.gov.evil.example.com/page", false},
		{"https://notnih.gov/page", false},
		{"https://example.com/nih.gov", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.IsTrusted(tt.url), tt.url)
	}
}

func TestWebRetriever_PublicSuffixEntriesIgnored(t *testing.T) {
	t.Parallel()

	cfg := testWebConfig()
	cfg.TrustedDomains = []string{"gov", "co.uk", ".nih.gov"}
	w := NewWebRetriever(nil, nil, nil, cfg, zap.NewNop())

	assert.Equal(t, []string{"nih.gov"}, w.trusted)
	assert.False(t, w.IsTrusted("https://www.cdc.gov/"))
	assert.True(t, w.IsTrusted("https://www.nih.gov/"))
}

// ---------------------------------------------------------------------------
// Retrieve
// ---------------------------------------------------------------------------

func TestWebRetriever_FiltersAndDedups(t *testing.T) {
	t.Parallel()

	search := &countingSearch{results: []WebSearchResult{
		{Title: "High blood pressure", URL: "https://www.nih.gov/hbp", Content: "Hypertension treatment guideline for adults."},
		{Title: "Miracle cure", URL: "https://cures.example.com/hbp", Content: "Hypertension cured overnight."},
		{Title: "High blood pressure", URL: "https://www.nih.gov/hbp", Content: "duplicate"},
		{Title: "Medications", URL: "https://www.heart.org/meds", Content: "Blood pressure medication overview."},
	}}
	w := NewWebRetriever(search.search, nil, nil, testWebConfig(), zap.NewNop())

	docs, err := w.Retrieve(context.Background(), "hypertension treatment", 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	for _, d := range docs {
		assert.Equal(t, SourceWeb, d.Source)
		assert.True(t, strings.HasPrefix(d.ID, "web_"))
		assert.NotContains(t, d.MetaString(MetaURL), "example.com")
		assert.Greater(t, d.Score, 0.0)
		assert.LessOrEqual(t, d.Score, 1.0)
	}
	assert.Equal(t, "nih.gov", docs[0].MetaString(MetaSource))
	assert.Equal(t, "High blood pressure", docs[0].MetaString(MetaName))
}

func TestWebRetriever_RanksByCredibility(t *testing.T) {
	t.Parallel()

	content := "Statin therapy lowers cholesterol and cardiovascular risk."
	search := &countingSearch{results: []WebSearchResult{
		{Title: "Statins", URL: "https://www.medscape.com/statins", Content: content},
		{Title: "Statins", URL: "https://www.nih.gov/statins", Content: content},
	}}
	w := NewWebRetriever(search.search, nil, nil, testWebConfig(), zap.NewNop())

	docs, err := w.Retrieve(context.Background(), "statin therapy", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "https://www.nih.gov/statins", docs[0].MetaString(MetaURL))
	assert.Greater(t, docs[0].Score, docs[1].Score)
}

func TestWebRetriever_TopKLimit(t *testing.T) {
	t.Parallel()

	var results []WebSearchResult
	for i := 0; i < 5; i++ {
		results = append(results, WebSearchResult{
			Title:   fmt.Sprintf("page %d", i),
			URL:     fmt.Sprintf("https://www.cdc.gov/page%d", i),
			Content: "heart disease prevention",
		})
	}
	search := &countingSearch{results: results}
	w := NewWebRetriever(search.search, nil, nil, testWebConfig(), zap.NewNop())

	docs, err := w.Retrieve(context.Background(), "heart disease", 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestWebRetriever_CachesResults(t *testing.T) {
	t.Parallel()

	search := &countingSearch{results: []WebSearchResult{
		{Title: "Aspirin", URL: "https://www.fda.gov/aspirin", Content: "Aspirin for prevention of heart attack."},
	}}
	w := NewWebRetriever(search.search, nil, nil, testWebConfig(), zap.NewNop())
	ctx := context.Background()

	first, err := w.Retrieve(ctx, "Aspirin prevention", 5)
	require.NoError(t, err)
	first[0].Content = "mutated by caller"

	second, err := w.Retrieve(ctx, "  aspirin prevention ", 5)
	require.NoError(t, err)

	assert.Equal(t, int32(1), search.calls.Load())
	require.Len(t, second, 1)
	assert.Equal(t, "Aspirin for prevention of heart attack.", second[0].Content)
}

func TestWebRetriever_EnrichesShortSnippets(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Lisinopril is an ACE inhibitor used to treat hypertension. ", 10)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://medlineplus.gov/druginfo/lisinopril.html": long,
	}}
	search := &countingSearch{results: []WebSearchResult{
		{Title: "Lisinopril", URL: "https://medlineplus.gov/druginfo/lisinopril.html", Content: "Lisinopril..."},
		{Title: "Missing", URL: "https://www.nih.gov/missing", Content: "short"},
	}}
	cfg := testWebConfig()
	cfg.EnrichBelowChars = 100
	w := NewWebRetriever(search.search, fetcher, nil, cfg, zap.NewNop())

	docs, err := w.Retrieve(context.Background(), "lisinopril", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byURL := map[string]RetrievedDocument{}
	for _, d := range docs {
		byURL[d.MetaString(MetaURL)] = d
	}
	assert.Equal(t, long, byURL["https://medlineplus.gov/druginfo/lisinopril.html"].Content)
	assert.Equal(t, "short", byURL["https://www.nih.gov/missing"].Content)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestWebRetriever_Errors(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		w := NewWebRetriever(nil, nil, nil, testWebConfig(), nil)
		_, err := w.Retrieve(context.Background(), "q", 3)
		assert.ErrorIs(t, err, ErrWebSearchNotConfigured)
	})

	t.Run("search failure", func(t *testing.T) {
		boom := errors.New("backend down")
		search := &countingSearch{err: boom}
		w := NewWebRetriever(search.search, nil, nil, testWebConfig(), nil)
		_, err := w.Retrieve(context.Background(), "q", 3)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("canceled before rate limiter", func(t *testing.T) {
		search := &countingSearch{}
		w := NewWebRetriever(search.search, nil, nil, DefaultWebRetrieverConfig(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := w.Retrieve(ctx, "q", 3)
		assert.Error(t, err)
		assert.Equal(t, int32(0), search.calls.Load())
	})
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nih.gov", registrableDomain("https://pubmed.ncbi.nlm.nih.gov/123"))
	assert.Equal(t, "nice.org.uk", registrableDomain("https://www.nice.org.uk/guidance"))
	assert.Equal(t, "who.int", registrableDomain("who.int"))
}

// ---------------------------------------------------------------------------
// ReadabilityFetcher
// ---------------------------------------------------------------------------

func TestReadabilityFetcher_ExtractsArticleText(t *testing.T) {
	t.Parallel()

	paragraph := strings.Repeat("Beta blockers reduce heart rate and lower blood pressure in patients with angina. ", 8)
	page := `<!DOCTYPE html><html><head><title>Beta blockers</title></head><body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<article><h1>Beta blockers</h1><p>` + paragraph + `</p><p>` + paragraph + `</p></article>
<footer>Copyright</footer></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(page))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewReadabilityFetcher(srv.Client(), 0)

	text, err := f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, text, "Beta blockers reduce heart rate")
	assert.NotContains(t, text, "\n")

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestReadabilityFetcher_TruncatesToMaxChars(t *testing.T) {
	t.Parallel()

	paragraph := strings.Repeat("Atrial fibrillation increases stroke risk. ", 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article><p>` + paragraph + `</p></article></body></html>`))
	}))
	defer srv.Close()

	f := NewReadabilityFetcher(srv.Client(), 120)
	text, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), 120)
}

func TestReadabilityFetcher_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	paragraph := strings.Repeat("Ménière’s disease causes vértigo and tinnitus. ", 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><article><p>` + paragraph + `</p></article></body></html>`))
	}))
	defer srv.Close()

	for _, limit := range []int{101, 102, 103, 104} {
		text, err := NewReadabilityFetcher(srv.Client(), limit).Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(text), limit)
		assert.True(t, utf8.ValidString(text), "limit %d split a rune: %q", limit, text)
	}
}
