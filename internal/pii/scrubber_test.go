package pii

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestScrubber_Scrub(t *testing.T) {
	s := NewScrubber(DefaultConfig())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "contact jane.doe@example.com today", "contact j***@example.com today"},
		{"phone", "call 555-123-4567", "call ***-***-4567"},
		{"phone with area code parens", "call (555) 123-4567", "call ***-***-4567"},
		{"ssn", "SSN 123-45-6789", "SSN ***-**-6789"},
		{"card", "card 4111 1111 1111 1111 on file", "card 4111********1111 on file"},
		{"mrn", "MRN: 00123456 admitted", "[MRN REDACTED] admitted"},
		{"ip", "from 192.168.1.20", "from [IP REDACTED]"},
		{"clinical text untouched", "Take 500 mg twice daily; max 4000 mg per day.", "Take 500 mg twice daily; max 4000 mg per day."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Scrub(tt.in))
		})
	}
}

func TestScrubber_DetectOrdersByPosition(t *testing.T) {
	s := NewScrubber(DefaultConfig())

	matches := s.Detect("mail a.b@clinic.org or ring 555-123-4567")
	require.Len(t, matches, 2)

	assert.Equal(t, TypeEmail, matches[0].Type)
	assert.Equal(t, "a.b@clinic.org", matches[0].Value)
	assert.Equal(t, 5, matches[0].Position)
	assert.Equal(t, TypePhone, matches[1].Type)
	assert.Equal(t, "***-***-4567", matches[1].Masked)
	assert.Equal(t, 12, matches[1].Length)
}

func TestScrubber_EnabledTypes(t *testing.T) {
	s := NewScrubber(Config{Enabled: true, EnabledTypes: []Type{TypeEmail}})

	assert.Equal(t, []Type{TypeEmail}, s.Types())
	assert.Equal(t, "x***@y.com 555-123-4567", s.Scrub("x@y.com 555-123-4567"))
}

func TestScrubber_CustomPattern(t *testing.T) {
	s := NewScrubber(Config{
		CustomPatterns: map[Type]*regexp.Regexp{TypeMRN: regexp.MustCompile(`PT-\d{4}`)},
	})

	assert.Equal(t, "patient [MRN REDACTED]", s.Scrub("patient PT-1234"))
}

func TestScrubber_Counts(t *testing.T) {
	s := NewScrubber(DefaultConfig())

	counts := s.Counts("a@b.io, c@d.io and 123-45-6789")
	assert.Equal(t, 2, counts[TypeEmail])
	assert.Equal(t, 1, counts[TypeSSN])
	assert.Zero(t, counts[TypePhone])
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "****", maskValue(TypeEmail, "oops"))
	assert.Equal(t, "***", maskValue(TypePhone, "123"))
	assert.Equal(t, "5500********0004", maskValue(TypeCard, "5500-0000-0000-0004"))
}

func TestScrubber_EmailNeverSurvives(t *testing.T) {
	s := NewScrubber(DefaultConfig())

	rapid.Check(t, func(t *rapid.T) {
		local := rapid.StringMatching(`[a-z]{3,10}`).Draw(t, "local")
		domain := rapid.StringMatching(`[a-z]{3,8}`).Draw(t, "domain")
		tld := rapid.SampledFrom([]string{"com", "org", "net"}).Draw(t, "tld")
		email := local + "@" + domain + "." + tld
		text := "reach me at " + email + " after clinic"

		out := s.Scrub(text)
		if strings.Contains(out, email) {
			t.Fatalf("email %q survived: %q", email, out)
		}
		if s.Scrub(out) != out {
			t.Fatalf("scrub not idempotent: %q", out)
		}
	})
}
