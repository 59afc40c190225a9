package rag

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "metformin", max: 20, want: "metformin"},
		{in: "metformin", max: 5, want: "metfo"},
		{in: "métformin", max: 2, want: "m"},
		{in: "métformin", max: 3, want: "mé"},
		{in: "’’", max: 4, want: "’"},
		{in: "abc", max: 0, want: ""},
	}
	for _, tt := range tests {
		got := truncateRunes(tt.in, tt.max)
		assert.Equal(t, tt.want, got, "truncateRunes(%q, %d)", tt.in, tt.max)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestTruncateStr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateStr("short", 10))
	assert.Equal(t, "m...", truncateStr("méniere", 2))
	assert.True(t, utf8.ValidString(truncateStr("Ménière’s disease", 9)))
}
