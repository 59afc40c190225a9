// =============================================================================
// Configuration loader
// =============================================================================
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("medrag.yaml").
//	    WithValidator(config.Validate).
//	    Load()
//
// Precedence: defaults -> YAML file -> environment.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/9046balaji/Heart-sub001/internal/database"
	"github.com/9046balaji/Heart-sub001/internal/pii"
	"github.com/9046balaji/Heart-sub001/llm/openai"
	"github.com/9046balaji/Heart-sub001/llm/resilience"
	"github.com/9046balaji/Heart-sub001/rag"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "MEDRAG"

// =============================================================================
// Configuration structure
// =============================================================================

// Config is the complete pipeline configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Qdrant    QdrantConfig    `yaml:"qdrant" env:"QDRANT"`
	Neo4j     Neo4jConfig     `yaml:"neo4j" env:"NEO4J"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	Assembler rag.AssemblerConfig `yaml:"assembler" env:"ASSEMBLER"`
	Tiered    rag.TieredConfig    `yaml:"tiered" env:"TIERED"`
	Grading   rag.GradingConfig   `yaml:"grading" env:"GRADING"`
	Budget    rag.BudgetConfig    `yaml:"budget" env:"BUDGET"`
	Web       WebConfig           `yaml:"web" env:"WEB"`
	PII       pii.Config          `yaml:"pii" env:"PII"`

	// Credibility is the ordered source trust table. First match wins.
	Credibility []rag.CredibilityRule `yaml:"credibility" env:"-"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// TextfilePath receives the registry in text format when the CLI exits.
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// RedisConfig configures the assembly cache backend. When disabled an
// in-process cache is used.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	DefaultTTL   time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// DatabaseConfig configures the user-memory store.
type DatabaseConfig struct {
	Enabled         bool `yaml:"enabled" env:"ENABLED"`
	database.Config `yaml:",inline"`
	Recall          rag.MemoryStoreConfig `yaml:"recall" env:"RECALL"`
}

// QdrantConfig selects Qdrant as the vector store. When disabled an
// in-memory store is used.
type QdrantConfig struct {
	Enabled          bool `yaml:"enabled" env:"ENABLED"`
	rag.QdrantConfig `yaml:",inline"`
}

// Neo4jConfig enables the knowledge-graph source.
type Neo4jConfig struct {
	Enabled         bool `yaml:"enabled" env:"ENABLED"`
	rag.Neo4jConfig `yaml:",inline"`
}

// LLMConfig configures the model endpoint and its protections.
type LLMConfig struct {
	openai.Config `yaml:",inline"`
	Resilience    resilience.Config `yaml:"resilience" env:"RESILIENCE"`
	// ExactTokens counts prompt tokens with tiktoken instead of estimating.
	ExactTokens bool `yaml:"exact_tokens" env:"EXACT_TOKENS"`
}

// RetrievalConfig configures the orchestrator and its strategy.
type RetrievalConfig struct {
	// Strategy is assembled, tiered or hybrid.
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// CorpusPath is a JSONL file loaded into the local indexes at startup.
	CorpusPath string `yaml:"corpus_path" env:"CORPUS_PATH"`
	ForceTier2 bool   `yaml:"force_tier2" env:"FORCE_TIER2"`
	RRFK       int    `yaml:"rrf_k" env:"RRF_K"`
	Rerank     bool   `yaml:"rerank" env:"RERANK"`

	rag.OrchestratorConfig `yaml:",inline"`
	NeedClassifier         rag.NeedClassifierConfig `yaml:"need_classifier" env:"NEED_CLASSIFIER"`
	Conflict               rag.ConflictConfig       `yaml:"conflict" env:"CONFLICT"`
}

// WebConfig configures the trusted-web tier.
type WebConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// FetchPages enriches short snippets with the page's readable text.
	FetchPages             bool                  `yaml:"fetch_pages" env:"FETCH_PAGES"`
	Brave                  rag.BraveSearchConfig `yaml:"brave" env:"BRAVE"`
	rag.WebRetrieverConfig `yaml:",inline"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader builds a Config.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the MEDRAG prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct. A field's name comes from its env tag,
// or else from its yaml tag upper-cased; inline structs share the parent
// prefix.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		name, ok := envName(fieldType)
		if !ok {
			continue
		}

		if field.Kind() == reflect.Struct {
			next := prefix
			if name != "" {
				next = prefix + "_" + name
			}
			if err := l.setFieldsFromEnv(field, next); err != nil {
				return err
			}
			continue
		}
		if name == "" {
			continue
		}

		envKey := prefix + "_" + name
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func envName(f reflect.StructField) (string, bool) {
	if tag, ok := f.Tag.Lookup("env"); ok {
		if tag == "-" {
			return "", false
		}
		return tag, true
	}
	yamlName, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	switch {
	case yamlName == "-":
		return "", false
	case yamlName == "" && f.Anonymous:
		return "", true
	case yamlName == "":
		return "", false
	}
	return strings.ToUpper(yamlName), true
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
			for i, p := range parts {
				slice.Index(i).SetString(strings.TrimSpace(p))
			}
			field.Set(slice)
		}
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks cross-field constraints.
func Validate(c *Config) error {
	var errs []string

	switch rag.StrategyKind(c.Retrieval.Strategy) {
	case rag.StrategyAssembled, rag.StrategyTiered, rag.StrategyHybrid:
	default:
		errs = append(errs, fmt.Sprintf("unknown retrieval strategy %q", c.Retrieval.Strategy))
	}

	w := c.Assembler.Weights
	if w.Vector < 0 || w.Graph < 0 || w.Memory < 0 {
		errs = append(errs, "assembler weights must be non-negative")
	}
	if w.Vector+w.Graph+w.Memory == 0 {
		errs = append(errs, "assembler weights must not all be zero")
	}

	for name, v := range map[string]float64{
		"retrieval.web_search_threshold":     c.Retrieval.WebSearchThreshold,
		"retrieval.direct_answer_confidence": c.Retrieval.DirectAnswerConfidence,
		"tiered.confidence_threshold":        c.Tiered.ConfidenceThreshold,
		"grading.skipped_confidence":         c.Grading.SkippedConfidence,
		"telemetry.sample_rate":              c.Telemetry.SampleRate,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be within [0, 1]")
		}
	}

	if c.Budget.MaxPromptTokens <= c.Budget.ResponseReserve+c.Budget.TemplateOverhead {
		errs = append(errs, "budget.max_prompt_tokens leaves no room for context")
	}
	if c.Database.Enabled && c.Database.DSN() == "" {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Qdrant.Enabled && strings.TrimSpace(c.Qdrant.Collection) == "" {
		errs = append(errs, "qdrant.collection is required")
	}
	if c.Neo4j.Enabled && strings.TrimSpace(c.Neo4j.URI) == "" {
		errs = append(errs, "neo4j.uri is required")
	}
	for i, r := range c.Credibility {
		if strings.TrimSpace(r.Pattern) == "" || r.Score < 0 || r.Score > 1 {
			errs = append(errs, fmt.Sprintf("credibility[%d] needs a pattern and a score within [0, 1]", i))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad loads and validates path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator(Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
