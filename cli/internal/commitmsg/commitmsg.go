// Package commitmsg normalizes classifier-produced commit messages into git
// conventions: a single subject line capped at 72 characters, optional body
// wrapped below it, no markdown, code fences, or surrounding quotes.
package commitmsg

import (
	"strings"
	"unicode/utf8"
)

// maxSubjectLen is the hard cap for the subject line. Git renders longer
// subjects truncated in most tools.
const maxSubjectLen = 72

// Clean splits raw into a normalized subject and body. Markdown fences and
// surrounding quotes are stripped; the first non-empty line becomes the
// subject, truncated at a rune boundary; remaining lines become the body.
// An all-whitespace input returns ("", "").
func Clean(raw string) (subject, body string) {
	raw = stripFences(strings.TrimSpace(raw))
	raw = strings.Trim(raw, "\"'`")
	lines := strings.Split(raw, "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return "", ""
	}
	subject = Subject(lines[i])
	body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
	return subject, body
}

// Subject normalizes a single line: trims whitespace and trailing periods,
// and truncates to 72 characters without splitting a rune.
func Subject(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimRight(s, ".")
	return truncateUTF8(s, maxSubjectLen)
}

// truncateUTF8 truncates s to at most max bytes, backing up so a multi-byte
// rune is never split.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
