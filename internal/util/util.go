// Package util holds small string helpers shared by the engine: gap
// deduplication, numeric coercion for graph datasets, and truncation
// for stored answers and audit payloads.
package util

import (
	"strconv"
	"strings"
	"unicode"
)

// ContainsString reports whether slice contains item.
func ContainsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ParseNumericValue pulls a number out of a free-form model answer.
// It tries the whole string first, then an "is N" or "equals N"
// pattern, then falls back to the last numeric token.
func ParseNumericValue(response string) (float64, bool) {
	response = strings.TrimSpace(response)
	if v, err := strconv.ParseFloat(response, 64); err == nil {
		return v, true
	}

	fields := strings.Fields(response)
	last := 0.0
	found := false
	for i, f := range fields {
		token := strings.Trim(f, ".,!?:;%$")
		if strings.EqualFold(token, "equals") || strings.EqualFold(token, "is") {
			if i+1 < len(fields) {
				next := strings.Trim(fields[i+1], ".,!?:;%$")
				if v, err := strconv.ParseFloat(next, 64); err == nil {
					return v, true
				}
			}
			continue
		}
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			last, found = v, true
		}
	}
	return last, found
}

// TruncateString caps s at maxLen runes, replacing the tail with "...".
// With preserveWords the cut moves back to the last whitespace so no
// word is split.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return strings.Repeat(".", maxLen)
	}
	cut := maxLen - 3
	if preserveWords {
		for i := cut - 1; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
	}
	return string(runes[:cut]) + "..."
}
