package rag

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Source identifies where a RetrievedDocument came from.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
	SourceMemory Source = "memory"
	SourceWeb    Source = "web"
)

// SearchOrigin tags a pre-fusion hit with the search leg that produced it.
type SearchOrigin string

const (
	OriginVector  SearchOrigin = "vector"
	OriginKeyword SearchOrigin = "keyword"
)

// Metadata keys shared by the source adapters.
const (
	MetaID        = "id"
	MetaSource    = "source"
	MetaName      = "name"
	MetaTitle     = "title"
	MetaURL       = "url"
	MetaTier      = "tier"
	MetaPublished = "published"
)

// RetrievedDocument is one candidate evidence unit. Every retrieval backend
// converts its native result shape into this struct at the boundary.
//
// CombinedScore is derived by the fuser, the assembler or the tiered merger
// and is never set by source adapters.
type RetrievedDocument struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Score         float64        `json:"score"`
	CombinedScore float64        `json:"combined_score"`
	Source        Source         `json:"source"`
}

// MetaString returns metadata[key] rendered as a string, or "" when absent.
func (d RetrievedDocument) MetaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Citation returns the label used when this document is cited.
func (d RetrievedDocument) Citation() string {
	for _, key := range []string{MetaSource, MetaName, MetaTitle, MetaURL} {
		if v := strings.TrimSpace(d.MetaString(key)); v != "" {
			return v
		}
	}
	return d.ID
}

// clone copies the document including its metadata map.
func (d RetrievedDocument) clone() RetrievedDocument {
	out := d
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func (d *RetrievedDocument) setMeta(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// SearchResult wraps a document with the search leg that found it. It only
// lives inside RankFuser before being promoted to a RetrievedDocument.
type SearchResult struct {
	Document RetrievedDocument `json:"document"`
	Origin   SearchOrigin      `json:"origin"`
}

// MatchType classifies how a query term matched a document.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"
	MatchSemantic MatchType = "SEMANTIC"
	MatchRelated  MatchType = "RELATED"
)

// MatchedTerm is one term that tied a document to the query.
type MatchedTerm struct {
	Term string    `json:"term"`
	Type MatchType `json:"type"`
}

// CitationInfo carries the citation metadata of an explained document.
type CitationInfo struct {
	Rank   int    `json:"rank"`
	URL    string `json:"url,omitempty"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
}

// RetrievalExplanation is the audit trail for one retrieved document.
type RetrievalExplanation struct {
	DocumentID     string        `json:"document_id"`
	MatchedTerms   []MatchedTerm `json:"matched_terms"`
	ReasoningTrace []string      `json:"reasoning_trace"`
	Confidence     float64       `json:"confidence"`
	Citation       CitationInfo  `json:"citation"`
}

// Severity ranks a detected conflict.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank maps a severity onto the integer scale used for sorting.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ConflictType names the check that produced a conflict.
type ConflictType string

const (
	ConflictContradiction  ConflictType = "contradiction"
	ConflictEvidenceLevel  ConflictType = "evidence_level"
	ConflictDosage         ConflictType = "dosage"
	ConflictRecommendation ConflictType = "recommendation"
)

// Conflict is a contradiction detected between two documents.
type Conflict struct {
	DocumentID1 string       `json:"document_id_1"`
	DocumentID2 string       `json:"document_id_2"`
	Severity    Severity     `json:"severity"`
	Type        ConflictType `json:"conflict_type"`
	Statement1  string       `json:"statement_1"`
	Statement2  string       `json:"statement_2"`
	Explanation string       `json:"explanation"`
	Resolution  string       `json:"resolution,omitempty"`
}

// SupportLevel grades how well an answer is backed by its context.
type SupportLevel string

const (
	FullySupported     SupportLevel = "fully_supported"
	PartiallySupported SupportLevel = "partially_supported"
	NoSupport          SupportLevel = "no_support"
	NeedsDisclaimer    SupportLevel = "needs_disclaimer"
)

// Confidence returns the fixed confidence attached to a support level.
func (l SupportLevel) Confidence() float64 {
	switch l {
	case FullySupported:
		return 0.95
	case PartiallySupported:
		return 0.72
	case NeedsDisclaimer:
		return 0.78
	default:
		return 0.0
	}
}

// SelfRAGResult is the value returned by SelfCorrectingRAG.Process.
type SelfRAGResult struct {
	Response          string                 `json:"response"`
	SupportLevel      SupportLevel           `json:"support_level"`
	Citations         []string               `json:"citations"`
	Confidence        float64                `json:"confidence"`
	NeedsWebSearch    bool                   `json:"needs_web_search"`
	Reasoning         string                 `json:"reasoning"`
	Explanations      []RetrievalExplanation `json:"explanations,omitempty"`
	Conflicts         []Conflict             `json:"conflicts,omitempty"`
	RetrievalMetadata map[string]any         `json:"retrieval_metadata,omitempty"`
}

// AssembledContext is the output of ParallelContextAssembler.Assemble.
type AssembledContext struct {
	VectorResults   []RetrievedDocument `json:"vector_results"`
	GraphResults    []RetrievedDocument `json:"graph_results"`
	MemoryResults   []RetrievedDocument `json:"memory_results"`
	CombinedRanked  []RetrievedDocument `json:"combined_ranked"`
	TotalDocuments  int                 `json:"total_documents"`
	RetrievalTimeMs float64             `json:"retrieval_time_ms"`
	FromCache       bool                `json:"from_cache,omitempty"`
}

// sortByCombinedScore orders documents by CombinedScore, highest first,
// keeping input order for ties.
func sortByCombinedScore(docs []RetrievedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CombinedScore > docs[j].CombinedScore
	})
}

// sortByScore orders documents by their native Score, highest first.
func sortByScore(docs []RetrievedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
}

// dedupByID keeps the first occurrence of every document ID. Documents with
// an empty ID are keyed by content.
func dedupByID(docs []RetrievedDocument) []RetrievedDocument {
	seen := make(map[string]struct{}, len(docs))
	out := make([]RetrievedDocument, 0, len(docs))
	for _, d := range docs {
		key := d.ID
		if key == "" {
			key = "content:" + contentHash(d.Content)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

func truncateStr(s string, maxLen int) string {
	if cut := truncateRunes(s, maxLen); len(cut) < len(s) {
		return cut + "..."
	}
	return s
}

// truncateRunes returns at most maxLen bytes of s without splitting a rune.
func truncateRunes(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
