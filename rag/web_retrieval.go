package rag

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrWebSearchNotConfigured is returned when no web search function is set.
var ErrWebSearchNotConfigured = errors.New("rag: web search not configured")

// WebSearchResult is one hit from the web search capability.
type WebSearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Domain  string  `json:"domain"`
	Score   float64 `json:"score"`
}

// WebSearchFunc is the web search capability.
type WebSearchFunc func(ctx context.Context, query string, maxResults int) ([]WebSearchResult, error)

// PageFetcher returns the readable text of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// DefaultTrustedDomains is the built-in web allow-list.
func DefaultTrustedDomains() []string {
	return []string{
		"nih.gov", "cdc.gov", "fda.gov", "medlineplus.gov", "who.int",
		"cochranelibrary.com", "nice.org.uk", "nejm.org", "thelancet.com",
		"jamanetwork.com", "bmj.com", "mayoclinic.org", "heart.org", "acc.org",
		"escardio.org", "hopkinsmedicine.org", "clevelandclinic.org",
		"ahajournals.org", "nhs.uk", "medscape.com", "merckmanuals.com",
	}
}

// WebRetrieverConfig configures the web tier.
type WebRetrieverConfig struct {
	TrustedDomains []string      `yaml:"trusted_domains" json:"trusted_domains"`
	MaxResults     int           `yaml:"max_results" json:"max_results"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	// RequestsPerSecond and Burst bound calls to the search backend.
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
	CacheTTL          time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// EnrichBelowChars fetches the page when the snippet is shorter.
	EnrichBelowChars  int     `yaml:"enrich_below_chars" json:"enrich_below_chars"`
	FetchConcurrency  int     `yaml:"fetch_concurrency" json:"fetch_concurrency"`
	CredibilityWeight float64 `yaml:"credibility_weight" json:"credibility_weight"`
	RelevanceWeight   float64 `yaml:"relevance_weight" json:"relevance_weight"`
}

// DefaultWebRetrieverConfig returns the default web tier settings.
func DefaultWebRetrieverConfig() WebRetrieverConfig {
	return WebRetrieverConfig{
		TrustedDomains:    DefaultTrustedDomains(),
		MaxResults:        8,
		Timeout:           15 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
		CacheTTL:          30 * time.Minute,
		EnrichBelowChars:  300,
		FetchConcurrency:  4,
		CredibilityWeight: 0.6,
		RelevanceWeight:   0.4,
	}
}

// WebRetriever searches the web, keeps only trusted domains and scores each
// hit by credibility and content relevance. It satisfies Retriever.
type WebRetriever struct {
	search  WebSearchFunc
	fetcher PageFetcher
	scorer  *SourceScorer
	trusted []string
	limiter *rate.Limiter
	cache   *webResultCache
	config  WebRetrieverConfig
	logger  *zap.Logger
}

// NewWebRetriever builds a web tier. fetcher and scorer may be nil.
// Allow-list entries that are bare public suffixes such as "gov" or "co.uk"
// are dropped with a warning.
func NewWebRetriever(search WebSearchFunc, fetcher PageFetcher, scorer *SourceScorer, config WebRetrieverConfig, logger *zap.Logger) *WebRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "web_retriever"))
	def := DefaultWebRetrieverConfig()
	if len(config.TrustedDomains) == 0 {
		config.TrustedDomains = def.TrustedDomains
	}
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = def.FetchConcurrency
	}
	if config.CredibilityWeight == 0 && config.RelevanceWeight == 0 {
		config.CredibilityWeight, config.RelevanceWeight = def.CredibilityWeight, def.RelevanceWeight
	}
	if scorer == nil {
		scorer = NewSourceScorer(nil)
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	w := &WebRetriever{
		search:  search,
		fetcher: fetcher,
		scorer:  scorer,
		limiter: rate.NewLimiter(limit, config.Burst),
		config:  config,
		logger:  logger,
	}
	for _, d := range config.TrustedDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if suffix, _ := publicsuffix.PublicSuffix(d); suffix == d {
			logger.Warn("ignoring public suffix in trusted domains", zap.String("domain", d))
			continue
		}
		w.trusted = append(w.trusted, d)
	}
	if config.CacheTTL > 0 {
		w.cache = newWebResultCache(config.CacheTTL)
	}
	return w
}

// Retrieve searches the web for query. Results outside the allow-list are
// discarded; the rest are returned best first.
func (w *WebRetriever) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error) {
	if w.search == nil {
		return nil, ErrWebSearchNotConfigured
	}
	if topK <= 0 {
		topK = w.config.MaxResults
	}
	key := strings.ToLower(strings.TrimSpace(query))
	if w.cache != nil {
		if docs, ok := w.cache.get(key); ok {
			w.logger.Debug("web results cache hit", zap.String("query", truncateStr(key, 60)))
			return limitDocs(docs, topK), nil
		}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("web search rate limit: %w", err)
	}
	searchCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	raw, err := w.search(searchCtx, query, w.config.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	hits := w.filterTrusted(raw)
	w.enrich(searchCtx, hits)

	docs := make([]RetrievedDocument, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, w.toDocument(query, h))
	}
	sortByScore(docs)

	w.logger.Debug("web search completed",
		zap.Int("raw", len(raw)),
		zap.Int("trusted", len(docs)))

	if w.cache != nil && len(docs) > 0 {
		w.cache.set(key, docs)
	}
	return limitDocs(docs, topK), nil
}

// IsTrusted reports whether rawURL's host is on the allow-list, either
// exactly or as a subdomain.
func (w *WebRetriever) IsTrusted(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, d := range w.trusted {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (w *WebRetriever) filterTrusted(raw []WebSearchResult) []WebSearchResult {
	seen := make(map[string]struct{}, len(raw))
	out := make([]WebSearchResult, 0, len(raw))
	for _, r := range raw {
		target := r.URL
		if target == "" {
			target = r.Domain
		}
		if !w.IsTrusted(target) {
			continue
		}
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		if r.Domain == "" {
			r.Domain = registrableDomain(target)
		}
		out = append(out, r)
	}
	return out
}

// enrich replaces short snippets with fetched page text. Fetch failures
// keep the snippet.
func (w *WebRetriever) enrich(ctx context.Context, hits []WebSearchResult) {
	if w.fetcher == nil || w.config.EnrichBelowChars <= 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.FetchConcurrency)
	for i := range hits {
		if len(hits[i].Content) >= w.config.EnrichBelowChars || hits[i].URL == "" {
			continue
		}
		g.Go(func() error {
			text, err := w.fetcher.Fetch(gctx, hits[i].URL)
			if err != nil {
				w.logger.Debug("page enrichment failed", zap.String("url", hits[i].URL), zap.Error(err))
				return nil
			}
			if len(text) > len(hits[i].Content) {
				hits[i].Content = text
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (w *WebRetriever) toDocument(query string, h WebSearchResult) RetrievedDocument {
	credibility := w.scorer.Credibility(h.URL + " " + h.Domain)
	relevance := w.scorer.ContentRelevance(h.Content, query)
	score := clamp01(w.config.CredibilityWeight*credibility + w.config.RelevanceWeight*relevance)
	return RetrievedDocument{
		ID:      "web_" + contentHash(h.URL),
		Content: h.Content,
		Metadata: map[string]any{
			MetaSource:    h.Domain,
			MetaName:      h.Title,
			MetaTitle:     h.Title,
			MetaURL:       h.URL,
			"credibility": credibility,
			"relevance":   relevance,
		},
		Score:  score,
		Source: SourceWeb,
	}
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// registrableDomain returns the eTLD+1 of rawURL, or its host when the
// public suffix list has no answer.
func registrableDomain(rawURL string) string {
	host := hostOf(rawURL)
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func limitDocs(docs []RetrievedDocument, n int) []RetrievedDocument {
	if n > len(docs) {
		n = len(docs)
	}
	out := make([]RetrievedDocument, n)
	for i := 0; i < n; i++ {
		out[i] = docs[i].clone()
	}
	return out
}

// ============================================================================
// Page fetching
// ============================================================================

// ReadabilityFetcher downloads a page and extracts its main text.
type ReadabilityFetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// NewReadabilityFetcher creates a fetcher. A nil client uses a 10s timeout.
func NewReadabilityFetcher(client *http.Client, maxChars int) *ReadabilityFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &ReadabilityFetcher{client: client, maxBytes: 2 << 20, maxChars: maxChars}
}

func (f *ReadabilityFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, f.maxBytes), u)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", pageURL, err)
	}
	return truncateRunes(strings.Join(strings.Fields(article.TextContent), " "), f.maxChars), nil
}

// ============================================================================
// Result cache
// ============================================================================

type webResultCache struct {
	entries map[string]webCacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	now     func() time.Time
}

type webCacheEntry struct {
	docs      []RetrievedDocument
	expiresAt time.Time
}

func newWebResultCache(ttl time.Duration) *webResultCache {
	return &webResultCache{entries: make(map[string]webCacheEntry), ttl: ttl, now: time.Now}
}

func (c *webResultCache) get(key string) ([]RetrievedDocument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.docs, true
}

func (c *webResultCache) set(key string, docs []RetrievedDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = webCacheEntry{docs: docs, expiresAt: now.Add(c.ttl)}
}

// contentHash is a short stable hash used for derived IDs.
func contentHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
