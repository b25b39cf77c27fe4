// Package classifier decides which hunks belong together in one commit. The
// real implementation asks an LLM; the engine only sees the Classifier
// interface, so runs are testable without a network and a heuristic fallback
// serves --dry-run and CI.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"carve/cli/internal/diff"
	"carve/cli/internal/plan"
)

// Proposal is a classifier's grouping plus any warnings produced while
// interpreting its raw output. The groups are untrusted until resolved.
type Proposal struct {
	Groups   []plan.Group `json:"groups"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Classifier proposes commit groups for the hunks in a registry.
type Classifier interface {
	Propose(ctx context.Context, reg *plan.Registry) (Proposal, error)
}

// PerFile is the heuristic classifier used by --dry-run: one group per file,
// in parse order, with a conventional-commit style message derived from the
// file's hunks. It needs no credentials and never fails.
type PerFile struct{}

// Propose implements Classifier.
func (PerFile) Propose(_ context.Context, reg *plan.Registry) (Proposal, error) {
	var p Proposal
	for i, f := range reg.Files() {
		refs := make([]plan.HunkRef, len(f.Hunks))
		for j := range f.Hunks {
			refs[j] = plan.HunkRef{File: f.File, Index: j}
		}
		p.Groups = append(p.Groups, plan.Group{
			Number:        i + 1,
			Description:   "All changes in " + f.File,
			Refs:          refs,
			CommitMessage: perFileMessage(f),
		})
	}
	return p, nil
}

func perFileMessage(f diff.FileHunks) string {
	if len(f.Hunks) == 1 {
		switch f.Hunks[0].Summary {
		case "New file":
			return "chore: add " + f.File
		case "Deleted file":
			return "chore: remove " + f.File
		}
	}
	return "chore: update " + f.File
}

// Listing formats the registry the way the classifier sees it: per file, each
// hunk with its index, summary, and re-synthesized content, preceded by
// aggregate stats. Also used by the hunks subcommand and the web UI.
func Listing(reg *plan.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files, %d hunks\n", len(reg.Files()), reg.Len())
	for _, f := range reg.Files() {
		fmt.Fprintf(&b, "\n## %s (%d hunks)\n", f.File, len(f.Hunks))
		for i, h := range f.Hunks {
			fmt.Fprintf(&b, "\n### %s#%d  %s\n%s\n", f.File, i, h.Summary, h.Text())
		}
	}
	return b.String()
}
