// =============================================================================
// Defaults
// =============================================================================
// Every section starts from the owning package's defaults so a minimal YAML
// file only names what it changes.
// =============================================================================
package config

import (
	"time"

	"github.com/9046balaji/Heart-sub001/internal/database"
	"github.com/9046balaji/Heart-sub001/internal/pii"
	"github.com/9046balaji/Heart-sub001/llm/openai"
	"github.com/9046balaji/Heart-sub001/llm/resilience"
	"github.com/9046balaji/Heart-sub001/llm/retry"
	"github.com/9046balaji/Heart-sub001/rag"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
		Metrics:     DefaultMetricsConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Qdrant:      DefaultQdrantConfig(),
		Neo4j:       DefaultNeo4jConfig(),
		LLM:         DefaultLLMConfig(),
		Retrieval:   DefaultRetrievalConfig(),
		Assembler:   rag.DefaultAssemblerConfig(),
		Tiered:      rag.DefaultTieredConfig(),
		Grading:     rag.DefaultGradingConfig(),
		Budget:      rag.DefaultBudgetConfig(),
		Web:         DefaultWebConfig(),
		PII:         pii.DefaultConfig(),
		Credibility: rag.DefaultCredibilityRules(),
	}
}

// DefaultLogConfig logs JSON at info to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig leaves tracing off.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "medrag",
		SampleRate:   0.1,
	}
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "medrag",
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "medrag:assembly:",
		DefaultTTL:   5 * time.Minute,
	}
}

// DefaultDatabaseConfig uses a local SQLite file so memories work without
// a server.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled: true,
		Config: database.Config{
			Driver:  "sqlite",
			Host:    "localhost",
			Port:    5432,
			User:    "medrag",
			Name:    "medrag.db",
			SSLMode: "disable",
			Pool:    database.DefaultPoolConfig(),
		},
		Recall: rag.DefaultMemoryStoreConfig(),
	}
}

func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Enabled: false,
		QdrantConfig: rag.QdrantConfig{
			BaseURL:              "http://localhost:6333",
			Collection:           "medical_knowledge",
			Timeout:              10 * time.Second,
			AutoCreateCollection: true,
			Distance:             "Cosine",
			VectorSize:           1536,
			Retry:                retry.DefaultPolicy(),
		},
	}
}

func DefaultNeo4jConfig() Neo4jConfig {
	return Neo4jConfig{
		Enabled: false,
		Neo4jConfig: rag.Neo4jConfig{
			URI:           "neo4j://localhost:7687",
			Username:      "neo4j",
			Database:      "neo4j",
			FulltextIndex: "medical_entities",
			Timeout:       5 * time.Second,
		},
	}
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Config:      openai.DefaultConfig(),
		Resilience:  resilience.DefaultConfig(),
		ExactTokens: true,
	}
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Strategy:           string(rag.StrategyAssembled),
		RRFK:               rag.DefaultRRFK,
		Rerank:             true,
		OrchestratorConfig: rag.DefaultOrchestratorConfig(),
		NeedClassifier:     rag.DefaultNeedClassifierConfig(),
		Conflict:           rag.DefaultConflictConfig(),
	}
}

// DefaultWebConfig leaves the web tier off until a search key is supplied.
func DefaultWebConfig() WebConfig {
	return WebConfig{
		Enabled:    false,
		FetchPages: true,
		Brave: rag.BraveSearchConfig{
			BaseURL: "https://api.search.brave.com",
			Timeout: 10 * time.Second,
			Retry:   retry.DefaultPolicy(),
		},
		WebRetrieverConfig: rag.DefaultWebRetrieverConfig(),
	}
}
