// Package plan gives stable (file, hunkIndex) addressing over parsed diff
// output and validates the classifier's proposed grouping against it.
// Classifier output is untrusted free-form data: refs that do not resolve are
// dropped with a warning, never fatal. Every hunk in the registry ends up
// either in a resolved group or in the uncovered set; nothing is silently
// discarded.
package plan

import (
	"fmt"
	"sort"

	"carve/cli/internal/diff"
)

// HunkRef points at one hunk by file path and dense per-file index. It never
// holds hunk content; refs are only meaningful against the registry of the
// run that produced them.
type HunkRef struct {
	File  string `json:"file"`
	Index int    `json:"hunkIndex"`
}

func (r HunkRef) String() string {
	return fmt.Sprintf("%s#%d", r.File, r.Index)
}

// Group is one proposed commit: 1-based sequential number (also the commit
// order), the hunks it claims, and the commit message to use.
type Group struct {
	Number        int       `json:"number"`
	Description   string    `json:"description,omitempty"`
	Refs          []HunkRef `json:"hunks"`
	CommitMessage string    `json:"commitMessage"`
	CommitBody    string    `json:"commitBody,omitempty"`
}

// Registry indexes one run's parsed hunks by file for O(1) ref resolution.
// It is created once per invocation and discarded at the end of the run.
type Registry struct {
	files  []diff.FileHunks
	byFile map[string]int
}

// NewRegistry builds a registry over parser output. Input order is preserved.
func NewRegistry(files []diff.FileHunks) *Registry {
	r := &Registry{files: files, byFile: make(map[string]int, len(files))}
	for i, f := range files {
		r.byFile[f.File] = i
	}
	return r
}

// Files returns the underlying per-file hunk collections in parse order.
func (r *Registry) Files() []diff.FileHunks {
	return r.files
}

// Lookup resolves a ref to its hunk. ok is false for unknown files and
// out-of-range indices.
func (r *Registry) Lookup(ref HunkRef) (diff.Hunk, bool) {
	i, found := r.byFile[ref.File]
	if !found || ref.Index < 0 || ref.Index >= len(r.files[i].Hunks) {
		return diff.Hunk{}, false
	}
	return r.files[i].Hunks[ref.Index], true
}

// FileHunks returns all hunks for one file, or nil if the file is unknown.
func (r *Registry) FileHunks(file string) []diff.Hunk {
	i, found := r.byFile[file]
	if !found {
		return nil
	}
	return r.files[i].Hunks
}

// Len is the total hunk count across all files.
func (r *Registry) Len() int {
	n := 0
	for _, f := range r.files {
		n += len(f.Hunks)
	}
	return n
}

// AllRefs enumerates every (file, index) pair in the registry, in parse order.
func (r *Registry) AllRefs() []HunkRef {
	refs := make([]HunkRef, 0, r.Len())
	for _, f := range r.files {
		for i := range f.Hunks {
			refs = append(refs, HunkRef{File: f.File, Index: i})
		}
	}
	return refs
}

// Resolved is the outcome of validating a proposed grouping: the surviving
// groups in ascending number order, the uncovered set (registry hunks no
// group claims), and a warning per dropped ref or group. The union of all
// group refs and Uncovered always equals the full registry.
type Resolved struct {
	Groups    []Group   `json:"groups"`
	Uncovered []HunkRef `json:"uncovered,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Resolve validates groups against the registry. Dangling refs (unknown file
// or index) are dropped; a ref claimed by more than one group stays with the
// lowest-numbered group and is dropped from the rest; groups left without any
// refs are dropped. Resolution is deterministic and total.
func Resolve(reg *Registry, groups []Group) Resolved {
	ordered := make([]Group, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Number < ordered[j].Number
	})

	var res Resolved
	claimed := make(map[HunkRef]int, reg.Len()) // ref -> claiming group number
	for _, g := range ordered {
		kept := make([]HunkRef, 0, len(g.Refs))
		for _, ref := range g.Refs {
			if _, ok := reg.Lookup(ref); !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("group %d: dropping unknown hunk %s", g.Number, ref))
				continue
			}
			if owner, dup := claimed[ref]; dup {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("group %d: hunk %s already claimed by group %d", g.Number, ref, owner))
				continue
			}
			claimed[ref] = g.Number
			kept = append(kept, ref)
		}
		if len(kept) == 0 {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("group %d: no valid hunks, dropping group", g.Number))
			continue
		}
		g.Refs = kept
		res.Groups = append(res.Groups, g)
	}

	for _, ref := range reg.AllRefs() {
		if _, ok := claimed[ref]; !ok {
			res.Uncovered = append(res.Uncovered, ref)
		}
	}
	return res
}
