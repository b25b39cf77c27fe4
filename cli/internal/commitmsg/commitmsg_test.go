package commitmsg

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClean_subjectAndBody(t *testing.T) {
	t.Parallel()
	subject, body := Clean("feat: add login flow\n\nThe handler validates the session cookie.\n")
	if subject != "feat: add login flow" {
		t.Errorf("subject = %q", subject)
	}
	if body != "The handler validates the session cookie." {
		t.Errorf("body = %q", body)
	}
}

func TestClean_stripsFenceAndQuotes(t *testing.T) {
	t.Parallel()
	subject, _ := Clean("```\nfix: handle empty diff\n```")
	if subject != "fix: handle empty diff" {
		t.Errorf("fenced subject = %q", subject)
	}
	subject, _ = Clean(`"chore: bump deps"`)
	if subject != "chore: bump deps" {
		t.Errorf("quoted subject = %q", subject)
	}
}

func TestClean_empty(t *testing.T) {
	t.Parallel()
	if subject, body := Clean("  \n \t "); subject != "" || body != "" {
		t.Errorf("got %q, %q", subject, body)
	}
}

func TestSubject_truncatesAtRuneBoundary(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", 50) // 2 bytes each, 100 bytes total
	got := Subject(long)
	if len(got) > 72 {
		t.Errorf("len = %d, want <= 72", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}

func TestSubject_trimsTrailingPeriod(t *testing.T) {
	t.Parallel()
	if got := Subject("fix: a thing."); got != "fix: a thing" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()
	if got := truncateUTF8("hello world", 5); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncateUTF8("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	// "é" is 2 bytes; cutting mid-rune must back up.
	if got := truncateUTF8("aaé", 3); got != "aa" {
		t.Errorf("got %q", got)
	}
}
