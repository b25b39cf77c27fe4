package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"carve/cli/internal/commitmsg"
	"carve/cli/internal/plan"
)

// ErrUnusable indicates the classifier response carried no usable grouping at
// all. Partially invalid responses are not errors: bad entries are dropped
// with warnings and the rest survives.
var ErrUnusable = errors.New("classifier response unusable")

// ParseGroups extracts commit groups from raw model output. The payload is
// expected to be {"groups":[...]}; models wrap it in prose or code fences
// often enough that the parser first locates the outermost JSON object and
// only then decodes strictly. Entries failing validation (no resolvable
// number, no hunks, non-numeric indices) are dropped with a warning.
func ParseGroups(raw string) (Proposal, error) {
	var p Proposal
	payload := extractJSON(raw)
	if payload == "" {
		return p, fmt.Errorf("%w: no JSON object in response", ErrUnusable)
	}
	groups := gjson.Get(payload, "groups")
	if !groups.Exists() || !groups.IsArray() {
		return p, fmt.Errorf("%w: missing groups array", ErrUnusable)
	}
	for i, g := range groups.Array() {
		parsed, warns := parseGroup(i, g)
		p.Warnings = append(p.Warnings, warns...)
		if parsed != nil {
			p.Groups = append(p.Groups, *parsed)
		}
	}
	if len(p.Groups) == 0 {
		return p, fmt.Errorf("%w: no valid groups", ErrUnusable)
	}
	return p, nil
}

// parseGroup validates one group entry. A nil result means the entry was
// dropped; warnings explain what was wrong or repaired.
func parseGroup(pos int, g gjson.Result) (*plan.Group, []string) {
	var warns []string
	if !g.IsObject() {
		return nil, []string{fmt.Sprintf("group entry %d is not an object, dropped", pos)}
	}

	number := int(g.Get("number").Int())
	if number < 1 {
		number = pos + 1
		warns = append(warns, fmt.Sprintf("group entry %d has no valid number, using %d", pos, number))
	}

	var refs []plan.HunkRef
	for _, h := range g.Get("hunks").Array() {
		file := h.Get("file").String()
		idx := h.Get("hunkIndex")
		if file == "" || idx.Type != gjson.Number || idx.Int() < 0 {
			warns = append(warns, fmt.Sprintf("group %d: malformed hunk ref %s, dropped", number, h.Raw))
			continue
		}
		refs = append(refs, plan.HunkRef{File: file, Index: int(idx.Int())})
	}
	if len(refs) == 0 {
		warns = append(warns, fmt.Sprintf("group %d has no valid hunk refs, dropped", number))
		return nil, warns
	}

	message, extraBody := commitmsg.Clean(g.Get("commitMessage").String())
	description := strings.TrimSpace(g.Get("description").String())
	if message == "" {
		if description == "" {
			warns = append(warns, fmt.Sprintf("group %d has no commit message, dropped", number))
			return nil, warns
		}
		message = commitmsg.Subject(description)
		warns = append(warns, fmt.Sprintf("group %d: using description as commit message", number))
	}
	body := strings.TrimSpace(g.Get("commitBody").String())
	if body == "" {
		body = extraBody
	}

	return &plan.Group{
		Number:        number,
		Description:   description,
		Refs:          refs,
		CommitMessage: message,
		CommitBody:    body,
	}, warns
}

// extractJSON returns the first top-level JSON object in raw, tolerating
// markdown code fences and surrounding prose. Empty string when none parses.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if fenced := stripFence(raw); fenced != "" {
		raw = fenced
	}
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return ""
	}
	candidate := raw[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return ""
	}
	return candidate
}

func stripFence(raw string) string {
	i := strings.Index(raw, "```")
	if i < 0 {
		return ""
	}
	rest := raw[i+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:] // drop the language tag line
	}
	if j := strings.Index(rest, "```"); j >= 0 {
		return strings.TrimSpace(rest[:j])
	}
	return strings.TrimSpace(rest)
}
