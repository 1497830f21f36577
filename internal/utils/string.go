package utils

import (
	"regexp"
	"strings"
)

var subjectPrefixRegex = regexp.MustCompile(`(?i)^(Re|Fwd|Fw)(\[\d+\])?:\s*`)

// NormalizeTitle strips reply/forward prefixes so re-delivered threads keep a
// stable display title.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	for subjectPrefixRegex.MatchString(title) {
		title = subjectPrefixRegex.ReplaceAllString(title, "")
		title = strings.TrimSpace(title)
	}
	return title
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
