// Package diff turns raw unified-diff text (git diff output, possibly several
// concatenated staged and unstaged sections) into an ordered list of per-file
// hunk collections with stable, densely assigned hunk indices.
//
// # Binary files
// Binary sections produce a single placeholder hunk with Summary "Binary file"
// and no line content. They are staged or skipped whole, never line-replayed.
//
// # New and deleted files
// Sections without any @@ header (e.g. an empty new file, or a pure deletion
// with no content shown) also produce a placeholder hunk so the file is still
// addressable by the classifier.
//
// # Malformed sections
// A section whose header cannot be parsed degrades to a placeholder rather
// than failing the parse; one broken section must never block decomposition
// of the rest of the diff.
package diff

import (
	"strconv"
	"strings"
)

// LineKind tags one line of a hunk body.
type LineKind int

const (
	// Context is an unchanged line present on both sides.
	Context LineKind = iota
	// Addition is a line present only on the new side.
	Addition
	// Deletion is a line present only on the old side.
	Deletion
)

// Line is one tagged line of hunk content, without its leading diff marker.
// NoEOL marks a line followed by "\ No newline at end of file"; it can only
// be true on the last line of either side of a file's final hunk.
type Line struct {
	Kind  LineKind
	Text  string
	NoEOL bool
}

// Hunk is one change region in one file: old/new line ranges, the raw @@
// header (kept for diagnostics), and the tagged body lines. Placeholder hunks
// (binary, empty new/deleted files, malformed sections) have no Lines and no
// Header; Summary says what they stand for.
type Hunk struct {
	File     string // repo-relative path, new side for renames
	OldStart int    // 1-based first line in the old file (0 for new files)
	OldLines int
	NewStart int // 1-based first line in the new file (0 for deletions)
	NewLines int
	Header   string // raw "@@ ... @@" line; empty for placeholders
	Lines    []Line
	Context  string // enclosing function/class from the header trailer, display-only
	Summary  string // human-readable one-liner for the classifier listing
}

// IsPlaceholder reports whether h stands for a whole file (binary, headerless
// new/deleted file, or malformed section) rather than a replayable change region.
func (h Hunk) IsPlaceholder() bool {
	return h.Header == ""
}

// Text re-synthesizes the hunk as unified-diff text: the raw header line
// followed by the tagged body lines with their markers. Placeholders render
// as their summary.
func (h Hunk) Text() string {
	if h.IsPlaceholder() {
		return h.Summary
	}
	var b strings.Builder
	b.WriteString(h.Header)
	for _, l := range h.Lines {
		b.WriteByte('\n')
		switch l.Kind {
		case Addition:
			b.WriteByte('+')
		case Deletion:
			b.WriteByte('-')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(l.Text)
		if l.NoEOL {
			b.WriteString("\n\\ No newline at end of file")
		}
	}
	return b.String()
}

// Counts returns the number of addition and deletion lines in the hunk body.
func (h Hunk) Counts() (added, removed int) {
	for _, l := range h.Lines {
		switch l.Kind {
		case Addition:
			added++
		case Deletion:
			removed++
		}
	}
	return added, removed
}

// FileHunks is one file's hunks in original diff order (ascending OldStart).
// The position of a hunk in Hunks is its stable index for the run.
type FileHunks struct {
	File  string
	Hunks []Hunk
}

// summarize derives the one-line summary for a parsed hunk: the embedded
// function/class context when present, otherwise add/remove counts.
func summarize(h Hunk) string {
	if h.Context != "" {
		return h.Context
	}
	added, removed := h.Counts()
	switch {
	case added > 0 && removed > 0:
		return "Modified " + strconv.Itoa(added) + " / removed " + strconv.Itoa(removed)
	case added > 0:
		return "Added " + strconv.Itoa(added) + " lines"
	case removed > 0:
		return "Removed " + strconv.Itoa(removed) + " lines"
	default:
		return "No changes"
	}
}
