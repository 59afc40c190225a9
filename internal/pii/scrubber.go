package pii

import (
	"regexp"
	"sort"
	"strings"
)

// Type names a kind of personal identifier.
type Type string

const (
	TypeEmail Type = "email"
	TypePhone Type = "phone"
	TypeSSN   Type = "ssn"
	TypeCard  Type = "card"
	TypeMRN   Type = "mrn"
	TypeIP    Type = "ip"
)

// scanOrder is the order patterns are applied in. Longer digit runs go
// before shorter ones so a card number is never half-masked as a phone.
var scanOrder = []Type{TypeEmail, TypeCard, TypeSSN, TypeMRN, TypePhone, TypeIP}

// Match is one identifier found in text.
type Match struct {
	Type     Type   `json:"type"`
	Value    string `json:"value"`
	Masked   string `json:"masked"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

// Config selects what the scrubber looks for.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// EnabledTypes limits detection; empty enables every built-in type.
	EnabledTypes []Type `yaml:"enabled_types" json:"enabled_types" env:"ENABLED_TYPES"`
	// CustomPatterns replaces the built-in pattern for a type.
	CustomPatterns map[Type]*regexp.Regexp `yaml:"-" json:"-"`
}

// DefaultConfig enables every built-in type.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Scrubber masks identifiers. It is safe for concurrent use.
type Scrubber struct {
	patterns map[Type]*regexp.Regexp
	order    []Type
}

// NewScrubber builds a scrubber from cfg.
func NewScrubber(cfg Config) *Scrubber {
	defaults := defaultPatterns()

	enabled := make(map[Type]bool)
	for _, t := range cfg.EnabledTypes {
		enabled[t] = true
	}

	s := &Scrubber{patterns: make(map[Type]*regexp.Regexp)}
	for _, t := range scanOrder {
		if len(enabled) > 0 && !enabled[t] {
			continue
		}
		if p, ok := cfg.CustomPatterns[t]; ok {
			s.patterns[t] = p
		} else {
			s.patterns[t] = defaults[t]
		}
		s.order = append(s.order, t)
	}
	return s
}

func defaultPatterns() map[Type]*regexp.Regexp {
	return map[Type]*regexp.Regexp{
		TypeEmail: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		// 13 to 19 digits, optionally grouped by spaces or dashes.
		TypeCard: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
		TypeSSN:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		TypeMRN:  regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number| no\.?)?)[\s:#]*\d{5,10}\b`),
		TypePhone: regexp.MustCompile(
			`(?:\+?1[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4}\b`),
		TypeIP: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
	}
}

// Types returns the enabled types in scan order.
func (s *Scrubber) Types() []Type {
	return append([]Type(nil), s.order...)
}

// Detect returns every match in content, ordered by position.
func (s *Scrubber) Detect(content string) []Match {
	var matches []Match
	for _, t := range s.order {
		for _, loc := range s.patterns[t].FindAllStringIndex(content, -1) {
			value := content[loc[0]:loc[1]]
			matches = append(matches, Match{
				Type:     t,
				Value:    value,
				Masked:   maskValue(t, value),
				Position: loc[0],
				Length:   loc[1] - loc[0],
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Position < matches[j].Position
	})
	return matches
}

// Scrub masks every identifier in content.
func (s *Scrubber) Scrub(content string) string {
	result := content
	for _, t := range s.order {
		result = s.patterns[t].ReplaceAllStringFunc(result, func(m string) string {
			return maskValue(t, m)
		})
	}
	return result
}

// Counts returns how many identifiers of each type content holds.
func (s *Scrubber) Counts(content string) map[Type]int {
	counts := make(map[Type]int)
	for _, m := range s.Detect(content) {
		counts[m.Type]++
	}
	return counts
}

func maskValue(t Type, value string) string {
	switch t {
	case TypeEmail:
		if at := strings.Index(value, "@"); at > 0 {
			return value[:1] + "***" + value[at:]
		}
	case TypePhone:
		digits := onlyDigits(value)
		if len(digits) >= 4 {
			return "***-***-" + digits[len(digits)-4:]
		}
	case TypeSSN:
		return "***-**-" + value[len(value)-4:]
	case TypeCard:
		digits := onlyDigits(value)
		if len(digits) >= 8 {
			return digits[:4] + strings.Repeat("*", len(digits)-8) + digits[len(digits)-4:]
		}
	case TypeMRN:
		return "[MRN REDACTED]"
	case TypeIP:
		return "[IP REDACTED]"
	}
	return strings.Repeat("*", len(value))
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
