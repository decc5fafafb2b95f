package pane

import (
	"regexp"
	"strings"
)

var durationRe = regexp.MustCompile(`(\d+)?\s*(day|days|week|weeks|month|months|year|years)\b`)

var durationPhrases = []string{"today", "tomorrow", "next week", "next month", "next year"}

// HasDuration reports whether query looks like it names a horizon. It is a
// lexical check only; false positives are acceptable.
func HasDuration(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	for _, phrase := range durationPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return durationRe.MatchString(q)
}
