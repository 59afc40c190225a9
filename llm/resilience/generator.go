package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/9046balaji/Heart-sub001/llm/retry"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config configures the breaker and retries around a Generator.
type Config struct {
	BreakerEnabled bool `yaml:"breaker_enabled" json:"breaker_enabled" env:"BREAKER_ENABLED"`
	// BreakerMinRequests is the sample size needed before the breaker can trip.
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests" json:"breaker_min_requests" env:"BREAKER_MIN_REQUESTS"`
	BreakerFailureRatio     float64       `yaml:"breaker_failure_ratio" json:"breaker_failure_ratio" env:"BREAKER_FAILURE_RATIO"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout" json:"breaker_open_timeout" env:"BREAKER_OPEN_TIMEOUT"`
	BreakerHalfOpenMaxCalls uint32        `yaml:"breaker_half_open_max_calls" json:"breaker_half_open_max_calls" env:"BREAKER_HALF_OPEN_MAX_CALLS"`
	// CallTimeout bounds each attempt; zero leaves the caller's deadline alone.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`
	Retry       retry.Policy  `yaml:"retry" json:"retry" env:"RETRY"`
}

// DefaultConfig returns an enabled breaker and no extra retries.
func DefaultConfig() Config {
	return Config{
		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
		CallTimeout:             45 * time.Second,
		Retry:                   retry.Policy{MaxRetries: 0},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return c
}

// ResilientGenerator wraps a Generator. It is safe for concurrent use.
type ResilientGenerator struct {
	next    Generator
	cfg     Config
	breaker *gobreaker.CircuitBreaker[string]
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewGenerator wraps next with the configured protections.
func NewGenerator(name string, next Generator, cfg Config, logger *zap.Logger) *ResilientGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalize()
	g := &ResilientGenerator{
		next:    next,
		cfg:     cfg,
		retryer: retry.New(cfg.Retry, logger),
		logger:  logger.With(zap.String("component", "resilient_generator"), zap.String("name", name)),
	}
	if cfg.BreakerEnabled {
		g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.BreakerHalfOpenMaxCalls,
			Timeout:     cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.BreakerMinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
			},
			// Caller cancellation says nothing about the backend's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.logger.Warn("circuit breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return g
}

// Generate calls the wrapped generator through the breaker.
func (g *ResilientGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.breaker == nil {
		return g.generateWithRetry(ctx, prompt)
	}
	out, err := g.breaker.Execute(func() (string, error) {
		return g.generateWithRetry(ctx, prompt)
	})
	if IsCircuitOpen(err) {
		return "", fmt.Errorf("generation unavailable: %w", err)
	}
	return out, err
}

func (g *ResilientGenerator) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	return retry.Do(ctx, g.retryer, "generate", func(ctx context.Context) (string, error) {
		if g.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
		}
		return g.next.Generate(ctx, prompt)
	})
}

// State returns the breaker state, or "disabled".
func (g *ResilientGenerator) State() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

// IsCircuitOpen reports whether err was produced by an open or saturated
// half-open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
