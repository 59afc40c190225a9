package rag

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseFailure reports that no parser strategy understood an LLM response.
type ParseFailure struct {
	Target string
	Raw    string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("rag: could not parse %s from %q", e.Target, truncateStr(e.Raw, 80))
}

// parseStrategy is one way of reading a structured value out of free text.
type parseStrategy[T any] struct {
	name  string
	parse func(raw string) (T, bool)
}

// runParsers tries each strategy in order and returns the first success.
func runParsers[T any](target, raw string, strategies []parseStrategy[T]) (T, string, error) {
	for _, s := range strategies {
		if v, ok := s.parse(raw); ok {
			return v, s.name, nil
		}
	}
	var zero T
	return zero, "", &ParseFailure{Target: target, Raw: raw}
}

// ---- yes / no ----

var yesNoWord = regexp.MustCompile(`(?i)\b(yes|no)\b`)

var yesNoParsers = []parseStrategy[bool]{
	{name: "json", parse: func(raw string) (bool, bool) {
		var v struct {
			Answer string `json:"answer"`
		}
		if err := json.Unmarshal([]byte(extractJSONObject(raw)), &v); err != nil {
			return false, false
		}
		switch strings.ToLower(strings.TrimSpace(v.Answer)) {
		case "yes", "true":
			return true, true
		case "no", "false":
			return false, true
		}
		return false, false
	}},
	{name: "exact", parse: func(raw string) (bool, bool) {
		s := strings.ToUpper(strings.Trim(strings.TrimSpace(raw), ".!\"'`"))
		switch s {
		case "YES":
			return true, true
		case "NO":
			return false, true
		}
		return false, false
	}},
	{name: "first_word", parse: func(raw string) (bool, bool) {
		m := yesNoWord.FindStringSubmatch(raw)
		if m == nil {
			return false, false
		}
		return strings.EqualFold(m[1], "yes"), true
	}},
}

// parseYesNo reads a YES/NO verdict.
func parseYesNo(raw string) (bool, string, error) {
	return runParsers("yes/no", raw, yesNoParsers)
}

// ---- relevance indices ----

// relevanceSelection is the parsed answer of the batch relevance filter.
type relevanceSelection struct {
	none    bool
	indices []int // 1-indexed
}

var indexPattern = regexp.MustCompile(`\d+`)

func relevanceParsers(count int) []parseStrategy[relevanceSelection] {
	valid := func(nums []int) []int {
		seen := make(map[int]struct{}, len(nums))
		out := make([]int, 0, len(nums))
		for _, n := range nums {
			if n < 1 || n > count {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
		return out
	}
	return []parseStrategy[relevanceSelection]{
		{name: "none", parse: func(raw string) (relevanceSelection, bool) {
			s := strings.ToUpper(strings.TrimSpace(raw))
			s = strings.Trim(s, ".!\"'`")
			return relevanceSelection{none: true}, s == "NONE"
		}},
		{name: "json_array", parse: func(raw string) (relevanceSelection, bool) {
			start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]")
			if start < 0 || end <= start {
				return relevanceSelection{}, false
			}
			var nums []int
			if err := json.Unmarshal([]byte(raw[start:end+1]), &nums); err != nil {
				return relevanceSelection{}, false
			}
			idx := valid(nums)
			return relevanceSelection{indices: idx}, len(idx) > 0
		}},
		{name: "comma_list", parse: func(raw string) (relevanceSelection, bool) {
			matches := indexPattern.FindAllString(raw, -1)
			nums := make([]int, 0, len(matches))
			for _, m := range matches {
				if n, err := strconv.Atoi(m); err == nil {
					nums = append(nums, n)
				}
			}
			idx := valid(nums)
			return relevanceSelection{indices: idx}, len(idx) > 0
		}},
	}
}

// parseRelevantIndices reads "NONE" or a list of 1-indexed document numbers.
func parseRelevantIndices(raw string, count int) (relevanceSelection, string, error) {
	return runParsers("relevant indices", raw, relevanceParsers(count))
}

// ---- support level ----

var supportDigit = regexp.MustCompile(`[1-4]`)

var supportLevelParsers = []parseStrategy[SupportLevel]{
	{name: "digit", parse: func(raw string) (SupportLevel, bool) {
		d := supportDigit.FindString(raw)
		switch d {
		case "1":
			return FullySupported, true
		case "2":
			return PartiallySupported, true
		case "3":
			return NoSupport, true
		case "4":
			return NeedsDisclaimer, true
		}
		return "", false
	}},
}

// parseSupportLevel reads the 1-4 support classification. Only a digit
// classifies; wording alone never does.
func parseSupportLevel(raw string) (SupportLevel, string, error) {
	return runParsers("support level", raw, supportLevelParsers)
}

func extractJSONObject(raw string) string {
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
