package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/9046balaji/Heart-sub001/llm/retry"
)

// BraveSearchConfig configures the Brave web search backend.
type BraveSearchConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Retry   retry.Policy  `yaml:"retry" json:"retry"`
}

// NewBraveSearch returns a WebSearchFunc backed by the Brave Search API.
func NewBraveSearch(cfg BraveSearchConfig, logger *zap.Logger) WebSearchFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.search.brave.com"
	}
	client := &http.Client{Timeout: cfg.Timeout}
	retryer := retry.New(cfg.Retry, logger)
	logger = logger.With(zap.String("component", "brave_search"))

	return func(ctx context.Context, query string, maxResults int) ([]WebSearchResult, error) {
		if cfg.APIKey == "" {
			return nil, ErrWebSearchNotConfigured
		}
		if maxResults <= 0 {
			maxResults = 10
		}
		params := url.Values{}
		params.Set("q", query)
		params.Set("count", strconv.Itoa(maxResults))
		endpoint := base + "/res/v1/web/search?" + params.Encode()

		var raw struct {
			Web struct {
				Results []struct {
					Title       string `json:"title"`
					URL         string `json:"url"`
					Description string `json:"description"`
				} `json:"results"`
			} `json:"web"`
		}
		err := retryer.Do(ctx, "brave search", func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")
			req.Header.Set("X-Subscription-Token", cfg.APIKey)
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				err := fmt.Errorf("brave search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
				if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Permanent(err)
				}
				return err
			}
			if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
				return retry.Permanent(fmt.Errorf("decode brave response: %w", err))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		out := make([]WebSearchResult, 0, len(raw.Web.Results))
		for i, r := range raw.Web.Results {
			if i >= maxResults {
				break
			}
			out = append(out, WebSearchResult{
				Title:   r.Title,
				URL:     r.URL,
				Content: r.Description,
				Domain:  hostOf(r.URL),
			})
		}
		logger.Debug("web search", zap.String("query", query), zap.Int("hits", len(out)))
		return out, nil
	}
}
