package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// maxPathLen bounds a repo-relative path extracted from a diff header.
// Longer "paths" are almost certainly misparsed content.
const maxPathLen = 4096

// sectionStart matches a file-section header at the start of a line. Content
// lines always carry a one-character prefix (' ', '+', '-', '\'), so the
// anchor never fires on a diff body that merely contains "diff --git a/".
var sectionStart = regexp.MustCompile(`(?m)^diff --git a/`)

// hunkHeader captures @@ -oldStart[,oldLines] +newStart[,newLines] @@ context.
var hunkHeader = regexp.MustCompile(`(?m)^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// Parse splits raw unified-diff text into per-file hunk collections. File
// order and per-file hunk order follow the input; hunk indices are the
// positions in FileHunks.Hunks, assigned densely from 0. Empty or
// whitespace-only input produces nil. Parse never fails: malformed sections
// degrade to placeholder hunks.
func Parse(raw string) []FileHunks {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []FileHunks
	byFile := map[string]int{} // file -> index in out, merges staged+unstaged sections
	for _, section := range splitSections(raw) {
		file, hunks := parseSection(section)
		if file == "" {
			continue
		}
		if i, ok := byFile[file]; ok {
			out[i].Hunks = append(out[i].Hunks, hunks...)
			continue
		}
		byFile[file] = len(out)
		out = append(out, FileHunks{File: file, Hunks: hunks})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitSections cuts the text at line-start "diff --git a/" occurrences.
// Text before the first header (e.g. stat output) is discarded.
func splitSections(raw string) []string {
	locs := sectionStart.FindAllStringIndex(raw, -1)
	if len(locs) == 0 {
		return nil
	}
	sections := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, raw[loc[0]:end])
	}
	return sections
}

// parseSection extracts the destination path and hunks from one file section.
// Returns "" when the header path fails validation (the section is dropped).
func parseSection(section string) (string, []Hunk) {
	headerLine := section
	if i := strings.IndexByte(section, '\n'); i >= 0 {
		headerLine = section[:i]
	}
	file := destPath(headerLine)
	if !validPath(file) {
		return "", nil
	}

	headers := hunkHeader.FindAllStringSubmatchIndex(section, -1)

	// Classify new/deleted/binary only from the region before the first @@;
	// scanning the whole body risks matching those tokens inside content lines.
	preamble := section
	if len(headers) > 0 {
		preamble = section[:headers[0][0]]
	}
	switch {
	case strings.Contains(preamble, "Binary files ") || strings.Contains(preamble, "GIT binary patch"):
		return file, []Hunk{{File: file, Summary: "Binary file"}}
	case len(headers) == 0 && strings.Contains(preamble, "new file mode"):
		return file, []Hunk{{File: file, Summary: "New file"}}
	case len(headers) == 0 && strings.Contains(preamble, "deleted file mode"):
		return file, []Hunk{{File: file, Summary: "Deleted file"}}
	case len(headers) == 0:
		// Mode change, rename without content, or unparseable header.
		return file, []Hunk{{File: file, Summary: "No hunks"}}
	}

	hunks := make([]Hunk, 0, len(headers))
	for i, m := range headers {
		end := len(section)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		h := parseHunk(section, m, end)
		h.File = file
		h.Summary = summarize(h)
		hunks = append(hunks, h)
	}
	return file, hunks
}

// parseHunk builds one Hunk from a hunkHeader submatch index set and the
// section offset where the next hunk (or section) begins.
func parseHunk(section string, m []int, end int) Hunk {
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return section[m[2*i]:m[2*i+1]]
	}
	h := Hunk{
		Header:   section[m[0]:m[1]],
		OldStart: atoiDefault(group(1), 0),
		OldLines: atoiDefault(group(2), 1),
		NewStart: atoiDefault(group(3), 0),
		NewLines: atoiDefault(group(4), 1),
		Context:  strings.TrimSpace(group(5)),
	}
	body := section[m[1]:end]
	body = strings.TrimPrefix(body, "\n")
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '+':
			h.Lines = append(h.Lines, Line{Kind: Addition, Text: line[1:]})
		case '-':
			h.Lines = append(h.Lines, Line{Kind: Deletion, Text: line[1:]})
		case ' ':
			h.Lines = append(h.Lines, Line{Kind: Context, Text: line[1:]})
		case '\\':
			// "\ No newline at end of file" qualifies the preceding line.
			if n := len(h.Lines); n > 0 {
				h.Lines[n-1].NoEOL = true
			}
		}
	}
	return h
}

// destPath extracts the b/ path from a "diff --git a/old b/new" header line.
// The last " b/" occurrence is the separator; a/ paths containing " b/" are
// pathological and resolve the same way git's own parser does.
func destPath(headerLine string) string {
	rest := strings.TrimPrefix(headerLine, "diff --git a/")
	i := strings.LastIndex(rest, " b/")
	if i < 0 {
		return ""
	}
	return strings.TrimRight(rest[i+len(" b/"):], "\r")
}

func validPath(p string) bool {
	if p == "" || len(p) > maxPathLen {
		return false
	}
	return !strings.ContainsAny(p, "\n\x00")
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
