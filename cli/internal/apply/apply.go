// Package apply reconstructs file content by replaying a chosen subset of a
// file's hunks against the last-committed baseline. It is pure text
// transformation: no filesystem, no git. Two disjoint hunk subsets of the
// same file can each be replayed independently against the same baseline,
// which is what lets one file be legitimately split across several commits.
package apply

import (
	"sort"
	"strings"

	"carve/cli/internal/diff"
)

// Subset replays hunks (any subset of one file's hunks, in any order) against
// original and returns the resulting content. Hunks are applied back-to-front
// on a sorted copy (descending OldStart) so earlier hunks' line offsets are
// never invalidated by already-applied later edits. Placeholder hunks are
// skipped: binary and whole-file sections are staged whole, never replayed.
// A hunk whose declared range exceeds the available lines is clipped rather
// than failing.
func Subset(original string, hunks []diff.Hunk) string {
	chosen := make([]diff.Hunk, 0, len(hunks))
	for _, h := range hunks {
		if !h.IsPlaceholder() {
			chosen = append(chosen, h)
		}
	}
	if len(chosen) == 0 {
		return original
	}
	sort.SliceStable(chosen, func(i, j int) bool {
		return chosen[i].OldStart > chosen[j].OldStart
	})

	lines, noEOL := splitLines(original)
	for _, h := range chosen {
		lines, noEOL = applyOne(lines, noEOL, h)
	}
	return joinLines(lines, noEOL)
}

// applyOne splices one hunk into the old-side lines. The replacement block is
// the hunk's additions and context lines verbatim; deletions and context both
// advance the old-file cursor. The returned flag tracks whether the file's
// last line now lacks a trailing newline: a hunk whose range reaches the end
// of the file decides it from its own last new-side line, otherwise the
// incoming value carries through.
func applyOne(lines []string, noEOL bool, h diff.Hunk) ([]string, bool) {
	var repl []string
	replNoEOL := false
	oldSpan := 0
	for _, l := range h.Lines {
		switch l.Kind {
		case diff.Addition:
			repl = append(repl, l.Text)
			replNoEOL = l.NoEOL
		case diff.Context:
			repl = append(repl, l.Text)
			replNoEOL = l.NoEOL
			oldSpan++
		case diff.Deletion:
			oldSpan++
		}
	}

	// Pure insertions use git's convention: @@ -N,0 ... @@ inserts after old
	// line N, so the splice point is N, not N-1.
	start := h.OldStart - 1
	if oldSpan == 0 {
		start = h.OldStart
	}
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := start + oldSpan
	if end > len(lines) {
		end = len(lines)
	}

	if end == len(lines) {
		// Only the file's final line can lack a newline, so a hunk ending
		// at the tail overrides the flag.
		noEOL = replNoEOL
	}

	out := make([]string, 0, start+len(repl)+len(lines)-end)
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end:]...)
	return out, noEOL
}

// splitLines cuts content into lines without the trailing empty element a
// newline-terminated file would otherwise produce, and reports whether the
// last line lacked a trailing newline.
func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1], false
	}
	return lines, true
}

// joinLines is the inverse of splitLines.
func joinLines(lines []string, noEOL bool) string {
	if len(lines) == 0 {
		return ""
	}
	if noEOL {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines, "\n") + "\n"
}
