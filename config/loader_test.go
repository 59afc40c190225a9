package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/9046balaji/Heart-sub001/internal/pii"
	"github.com/9046balaji/Heart-sub001/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "medrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithValidator(Validate).Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "assembled", cfg.Retrieval.Strategy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Assembler.TopK)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
qdrant:
  enabled: true
  base_url: http://qdrant:6333
  collection: guidelines
  retry:
    max_retries: 4
database:
  driver: postgres
  host: db
  name: medrag
  recall:
    min_score: 0.25
llm:
  model: gpt-4o
  resilience:
    breaker_min_requests: 3
retrieval:
  strategy: tiered
  web_search_threshold: 0.5
  conflict:
    dosage_ratio: 2
tiered:
  confidence_threshold: 0.7
web:
  enabled: true
  max_results: 4
  brave:
    api_key: brave-key
credibility:
  - pattern: example.org
    score: 0.8
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.True(t, cfg.Qdrant.Enabled)
	assert.Equal(t, "http://qdrant:6333", cfg.Qdrant.BaseURL)
	assert.Equal(t, "guidelines", cfg.Qdrant.Collection)
	assert.Equal(t, 4, cfg.Qdrant.Retry.MaxRetries)
	assert.Equal(t, "Cosine", cfg.Qdrant.Distance, "unset fields keep their defaults")

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 0.25, cfg.Database.Recall.MinScore)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, uint32(3), cfg.LLM.Resilience.BreakerMinRequests)

	assert.Equal(t, "tiered", cfg.Retrieval.Strategy)
	assert.Equal(t, 0.5, cfg.Retrieval.WebSearchThreshold)
	assert.Equal(t, 2.0, cfg.Retrieval.Conflict.DosageRatio)
	assert.Equal(t, 0.7, cfg.Tiered.ConfidenceThreshold)

	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, 4, cfg.Web.MaxResults)
	assert.Equal(t, "brave-key", cfg.Web.Brave.APIKey)

	require.Len(t, cfg.Credibility, 1)
	assert.Equal(t, "example.org", cfg.Credibility[0].Pattern)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"MEDRAG_LOG_LEVEL":                            "warn",
		"MEDRAG_LOG_OUTPUT_PATHS":                     "stdout, /tmp/medrag.log",
		"MEDRAG_QDRANT_ENABLED":                       "true",
		"MEDRAG_QDRANT_COLLECTION":                    "env-collection",
		"MEDRAG_QDRANT_RETRY_MAX_RETRIES":             "5",
		"MEDRAG_QDRANT_RETRY_INITIAL_DELAY":           "1s",
		"MEDRAG_LLM_API_KEY":                          "sk-env",
		"MEDRAG_LLM_RESILIENCE_BREAKER_MIN_REQUESTS":  "20",
		"MEDRAG_DATABASE_POOL_MAX_OPEN_CONNS":         "7",
		"MEDRAG_DATABASE_RECALL_SCAN_LIMIT":           "50",
		"MEDRAG_ASSEMBLER_WEIGHTS_GRAPH":              "0.4",
		"MEDRAG_RETRIEVAL_DIRECT_ANSWER_CONFIDENCE":   "0.9",
		"MEDRAG_RETRIEVAL_NEED_CLASSIFIER_CACHE_SIZE": "10",
		"MEDRAG_WEB_TRUSTED_DOMAINS":                  "nih.gov, cdc.gov",
		"MEDRAG_WEB_BRAVE_API_KEY":                    "brave-env",
		"MEDRAG_PII_ENABLED_TYPES":                    "email,ssn",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/tmp/medrag.log"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Qdrant.Enabled)
	assert.Equal(t, "env-collection", cfg.Qdrant.Collection)
	assert.Equal(t, 5, cfg.Qdrant.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Qdrant.Retry.InitialDelay)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, uint32(20), cfg.LLM.Resilience.BreakerMinRequests)
	assert.Equal(t, 7, cfg.Database.Pool.MaxOpenConns)
	assert.Equal(t, 50, cfg.Database.Recall.ScanLimit)
	assert.Equal(t, 0.4, cfg.Assembler.Weights.Graph)
	assert.Equal(t, 0.9, cfg.Retrieval.DirectAnswerConfidence)
	assert.Equal(t, 10, cfg.Retrieval.NeedClassifier.CacheSize)
	assert.Equal(t, []string{"nih.gov", "cdc.gov"}, cfg.Web.TrustedDomains)
	assert.Equal(t, "brave-env", cfg.Web.Brave.APIKey)
	assert.Equal(t, []pii.Type{pii.TypeEmail, pii.TypeSSN}, cfg.PII.EnabledTypes)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  strategy: tiered
llm:
  model: yaml-model
`)
	t.Setenv("MEDRAG_RETRIEVAL_STRATEGY", "hybrid")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "hybrid", cfg.Retrieval.Strategy)
	assert.Equal(t, "yaml-model", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("HEART_LLM_MODEL", "custom-model")

	cfg, err := NewLoader().WithEnvPrefix("HEART").Load()
	require.NoError(t, err)
	assert.Equal(t, "custom-model", cfg.LLM.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("MEDRAG_ASSEMBLER_TOP_K", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDRAG_ASSEMBLER_TOP_K")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("MEDRAG_RETRIEVAL_STRATEGY", "random")

	_, err := NewLoader().WithValidator(Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown retrieval strategy "random"`)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "assembled", cfg.Retrieval.Strategy)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "retrieval: [unclosed")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{
			name:    "negative weight",
			modify:  func(c *Config) { c.Assembler.Weights.Memory = -0.1 },
			wantErr: "assembler weights must be non-negative",
		},
		{
			name: "zero weights",
			modify: func(c *Config) {
				c.Assembler.Weights.Vector, c.Assembler.Weights.Graph, c.Assembler.Weights.Memory = 0, 0, 0
			},
			wantErr: "must not all be zero",
		},
		{
			name:    "threshold out of range",
			modify:  func(c *Config) { c.Tiered.ConfidenceThreshold = 1.5 },
			wantErr: "tiered.confidence_threshold must be within [0, 1]",
		},
		{
			name:    "budget too small",
			modify:  func(c *Config) { c.Budget.MaxPromptTokens = 700 },
			wantErr: "budget.max_prompt_tokens",
		},
		{
			name:    "unknown database driver",
			modify:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: `unsupported database driver "mysql"`,
		},
		{
			name:   "unknown driver ignored when disabled",
			modify: func(c *Config) { c.Database.Enabled, c.Database.Driver = false, "mysql" },
		},
		{
			name:    "qdrant without collection",
			modify:  func(c *Config) { c.Qdrant.Enabled, c.Qdrant.Collection = true, " " },
			wantErr: "qdrant.collection is required",
		},
		{
			name:    "neo4j without uri",
			modify:  func(c *Config) { c.Neo4j.Enabled, c.Neo4j.URI = true, "" },
			wantErr: "neo4j.uri is required",
		},
		{
			name: "bad credibility rule",
			modify: func(c *Config) {
				c.Credibility = append(c.Credibility, rag.CredibilityRule{Pattern: "", Score: 0.5})
			},
			wantErr: "needs a pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")
	cfg := MustLoad(path)
	assert.Equal(t, "error", cfg.Log.Level)

	bad := writeConfig(t, "retrieval:\n  strategy: nope\n")
	assert.Panics(t, func() { MustLoad(bad) })
}
