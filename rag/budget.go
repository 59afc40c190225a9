package rag

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/9046balaji/Heart-sub001/llm/tokenizer"
)

// BudgetConfig bounds the generation prompt.
type BudgetConfig struct {
	// MaxPromptTokens is the total prompt budget including the template.
	MaxPromptTokens int `yaml:"max_prompt_tokens" json:"max_prompt_tokens"`
	// ResponseReserve is held back for the model's answer.
	ResponseReserve int `yaml:"response_reserve" json:"response_reserve"`
	// TemplateOverhead approximates the fixed instruction text.
	TemplateOverhead int `yaml:"template_overhead" json:"template_overhead"`
	// PerDocumentMax caps a single document's share of the context.
	PerDocumentMax int `yaml:"per_document_max" json:"per_document_max"`
	// MinDocumentTokens is the smallest useful document fragment.
	MinDocumentTokens int `yaml:"min_document_tokens" json:"min_document_tokens"`
}

// DefaultBudgetConfig returns the default prompt budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxPromptTokens:   3500,
		ResponseReserve:   600,
		TemplateOverhead:  150,
		PerDocumentMax:    900,
		MinDocumentTokens: 32,
	}
}

// TokenBudget is the split of a prompt budget for one query.
type TokenBudget struct {
	Total    int `json:"total"`
	Query    int `json:"query"`
	Template int `json:"template"`
	Response int `json:"response"`
	Context  int `json:"context"`
}

// TokenBudgetManager splits prompt budgets and fits documents into them.
type TokenBudgetManager struct {
	tok    tokenizer.Tokenizer
	config BudgetConfig
	logger *zap.Logger
}

// NewTokenBudgetManager creates a manager. A nil tokenizer uses the
// estimator.
func NewTokenBudgetManager(tok tokenizer.Tokenizer, config BudgetConfig, logger *zap.Logger) *TokenBudgetManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		tok = tokenizer.NewEstimatorTokenizer("rag", 0)
	}
	def := DefaultBudgetConfig()
	if config.MaxPromptTokens <= 0 {
		config.MaxPromptTokens = def.MaxPromptTokens
	}
	if config.PerDocumentMax <= 0 {
		config.PerDocumentMax = def.PerDocumentMax
	}
	if config.MinDocumentTokens <= 0 {
		config.MinDocumentTokens = def.MinDocumentTokens
	}
	return &TokenBudgetManager{
		tok:    tok,
		config: config,
		logger: logger.With(zap.String("component", "token_budget")),
	}
}

// CountTokens counts text, falling back to the estimator on tokenizer error.
func (m *TokenBudgetManager) CountTokens(text string) int {
	n, err := m.tok.CountTokens(text)
	if err != nil {
		m.logger.Warn("tokenizer failed, using estimate", zap.Error(err))
		return tokenizer.CountOrEstimate(nil, text)
	}
	return n
}

// Allocate splits the configured budget for query. Context is what remains
// after the query, template and response reserve, never negative.
func (m *TokenBudgetManager) Allocate(query string) TokenBudget {
	b := TokenBudget{
		Total:    m.config.MaxPromptTokens,
		Query:    m.CountTokens(query),
		Template: m.config.TemplateOverhead,
		Response: m.config.ResponseReserve,
	}
	b.Context = b.Total - b.Query - b.Template - b.Response
	if b.Context < 0 {
		b.Context = 0
	}
	return b
}

// FitDocuments keeps documents in order until contextTokens is spent. A
// document larger than its share is truncated and marked with
// metadata "truncated"; fragments below MinDocumentTokens are dropped.
func (m *TokenBudgetManager) FitDocuments(docs []RetrievedDocument, contextTokens int) []RetrievedDocument {
	out := make([]RetrievedDocument, 0, len(docs))
	remaining := contextTokens
	for _, d := range docs {
		if remaining < m.config.MinDocumentTokens {
			break
		}
		limit := min(remaining, m.config.PerDocumentMax)
		n := m.CountTokens(d.Content)
		if n <= limit {
			out = append(out, d)
			remaining -= n
			continue
		}
		cut, err := m.tok.Truncate(d.Content, limit)
		if err != nil {
			cut, _ = tokenizer.NewEstimatorTokenizer("rag", 0).Truncate(d.Content, limit)
		}
		cut = strings.TrimSpace(cut)
		if cut == "" {
			continue
		}
		d = d.clone()
		d.Content = cut
		d.setMeta("truncated", true)
		out = append(out, d)
		remaining -= m.CountTokens(cut)
	}
	if len(out) < len(docs) {
		m.logger.Debug("documents trimmed to budget",
			zap.Int("kept", len(out)),
			zap.Int("offered", len(docs)),
			zap.Int("budget", contextTokens))
	}
	return out
}

// BuildContext joins documents into a numbered context block.
func BuildContext(docs []RetrievedDocument) string {
	var sb strings.Builder
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("] ")
		if label := d.Citation(); label != "" {
			sb.WriteString("(")
			sb.WriteString(label)
			sb.WriteString(") ")
		}
		sb.WriteString(d.Content)
	}
	return sb.String()
}
