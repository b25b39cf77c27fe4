// Package run implements the split and plan flows: collect the working-tree
// diff, register hunks, obtain a grouping proposal (Anthropic or the per-file
// heuristic), resolve it into a partition, and drive the commit engine. Used
// by the CLI and by the serve endpoints.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"carve/cli/internal/classifier"
	"carve/cli/internal/diff"
	"carve/cli/internal/engine"
	"carve/cli/internal/erruser"
	"carve/cli/internal/git"
	"carve/cli/internal/plan"
	"carve/cli/internal/tokens"
	"carve/cli/internal/trace"
)

// ErrNoChanges indicates the selected scope has nothing to split.
var ErrNoChanges = errors.New("no changes to split")

// DefaultExcludes are generated or lock files that should not steer grouping.
// Pass Options.Exclude to override (non-nil replaces, it does not merge).
var DefaultExcludes = []string{"go.sum", "package-lock.json", "yarn.lock", "*.min.js"}

const _defaultAPITimeout = 2 * time.Minute

// Options configures a run. Repo is required. Classifier, when non-nil,
// overrides the built-in choice (Anthropic, or PerFile when DryRun).
type Options struct {
	Repo      *git.Repo
	Scope     git.Scope
	DryRun    bool
	Model     string
	APIKey    string
	MaxTokens int
	// MaxGroups caps the number of commits; overflow groups fold into the last
	// kept group (0 = no cap).
	MaxGroups  int
	Timeout    time.Duration
	Author     string
	Exclude    []string
	Classifier classifier.Classifier
	// Verbose, when true, prints per-step progress to ErrOut.
	Verbose bool
	ErrOut  io.Writer
	// TraceOut, when non-nil, receives internal trace output (diff, listing,
	// proposal, per-group engine steps). Used when --trace is set.
	TraceOut io.Writer
}

// PlanResult is the outcome of the propose-only flow.
type PlanResult struct {
	Files    []git.ChangedFile   `json:"files"`
	Registry *plan.Registry      `json:"-"`
	Proposal classifier.Proposal `json:"proposal"`
	Resolved plan.Resolved       `json:"resolved"`
}

// SplitResult is the outcome of a full split run.
type SplitResult struct {
	PlanResult
	Report *engine.Report `json:"report"`
}

// Collect gathers the changed files and hunk registry for the scope.
// Untracked files are registered with intent-to-add so they appear in the
// unstaged diff; the registration is dropped again once the diff has been
// read, so the index comes back exactly as it was. Returns ErrNoChanges when
// the registry is empty.
func Collect(ctx context.Context, opts Options) (reg *plan.Registry, files []git.ChangedFile, err error) {
	if opts.Repo == nil {
		return nil, nil, erruser.New("Split failed: repository is required.", nil)
	}
	scope := opts.Scope
	if scope == "" {
		scope = git.ScopeAll
	}
	exclude := opts.Exclude
	if exclude == nil {
		exclude = DefaultExcludes
	}
	tr := tracer(opts)

	files, err = opts.Repo.ChangedFiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	files = filterFiles(files, exclude)
	if len(files) == 0 {
		return nil, nil, ErrNoChanges
	}

	var untracked []string
	for _, f := range files {
		if f.Status == git.StatusNew {
			untracked = append(untracked, f.Path)
		}
	}
	if len(untracked) > 0 && scope != git.ScopeStaged {
		if err := opts.Repo.StageIntent(ctx, untracked); err != nil {
			return nil, nil, err
		}
		defer func() {
			if uerr := opts.Repo.Unstage(ctx, untracked); uerr != nil && err == nil {
				reg, files, err = nil, nil, uerr
			}
		}()
	}

	raw, err := opts.Repo.RawDiff(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	parsed := filterHunks(diff.Parse(raw), exclude)
	reg = plan.NewRegistry(parsed)
	if reg.Len() == 0 {
		return nil, nil, ErrNoChanges
	}
	if tr.Enabled() {
		tr.Section("Collected changes")
		tr.Printf("%d files, %d hunks (scope=%s)\n", len(reg.Files()), reg.Len(), scope)
	}
	return reg, files, nil
}

// Plan collects the scope and asks the classifier for a grouping, resolving
// it into a deterministic partition without touching the repository.
func Plan(ctx context.Context, opts Options) (*PlanResult, error) {
	reg, files, err := Collect(ctx, opts)
	if err != nil {
		return nil, err
	}
	tr := tracer(opts)

	cl := opts.Classifier
	if cl == nil {
		if opts.DryRun {
			cl = classifier.PerFile{}
		} else {
			if opts.APIKey == "" {
				return nil, erruser.New("No API key configured. Set CARVE_API_KEY or ANTHROPIC_API_KEY, or use --dry-run.", nil)
			}
			cl = classifier.NewAnthropic(opts.APIKey, opts.Model, int64(opts.MaxTokens))
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = _defaultAPITimeout
	}
	proposeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if opts.Verbose && opts.ErrOut != nil {
		fmt.Fprintf(opts.ErrOut, "Classifying %d hunks across %d files...\n", reg.Len(), len(reg.Files()))
	}
	if warn := tokens.WarnIfOver(tokens.Estimate(classifier.Listing(reg)), opts.MaxTokens, tokens.DefaultContextLimit); warn != "" {
		if opts.ErrOut != nil {
			fmt.Fprintf(opts.ErrOut, "Warning: %s\n", warn)
		}
		tr.Printf("%s\n", warn)
	}
	proposal, err := cl.Propose(proposeCtx, reg)
	if err != nil {
		return nil, err
	}
	if tr.Enabled() {
		tr.Section("Proposal")
		for _, g := range proposal.Groups {
			tr.Printf("group %d: %q (%d hunks)\n", g.Number, g.CommitMessage, len(g.Refs))
		}
		for _, w := range proposal.Warnings {
			tr.Printf("warning: %s\n", w)
		}
	}

	groups := capGroups(proposal.Groups, opts.MaxGroups)
	resolved := plan.Resolve(reg, groups)
	resolved.Warnings = append(proposal.Warnings, resolved.Warnings...)
	return &PlanResult{
		Files:    files,
		Registry: reg,
		Proposal: proposal,
		Resolved: resolved,
	}, nil
}

// Split runs the full flow: plan, then execute the partition as a series of
// commits. Per-group failures live in the report; the returned error is
// non-nil only when nothing ran or restoration could not be completed.
func Split(ctx context.Context, opts Options) (*SplitResult, error) {
	pr, err := Plan(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(pr.Resolved.Groups) == 0 {
		return nil, erruser.New("The classifier produced no usable groups; nothing was committed.", classifier.ErrUnusable)
	}
	report, err := engine.Run(ctx, opts.Repo, pr.Registry, pr.Resolved, engine.Options{
		Author: opts.Author,
		Tracer: tracer(opts),
	})
	res := &SplitResult{PlanResult: *pr, Report: report}
	if err != nil {
		return res, err
	}
	return res, nil
}

func tracer(opts Options) *trace.Tracer {
	return trace.New(opts.TraceOut)
}

// capGroups folds groups beyond max into the last kept group so every
// referenced hunk still lands in a commit.
func capGroups(groups []plan.Group, max int) []plan.Group {
	if max <= 0 || len(groups) <= max {
		return groups
	}
	kept := make([]plan.Group, max)
	copy(kept, groups[:max])
	last := &kept[max-1]
	refs := append([]plan.HunkRef(nil), last.Refs...)
	for _, g := range groups[max:] {
		refs = append(refs, g.Refs...)
	}
	last.Refs = refs
	return kept
}

func filterFiles(files []git.ChangedFile, patterns []string) []git.ChangedFile {
	out := files[:0]
	for _, f := range files {
		if !excluded(f.Path, patterns) {
			out = append(out, f)
		}
	}
	return out
}

func filterHunks(parsed []diff.FileHunks, patterns []string) []diff.FileHunks {
	out := parsed[:0]
	for _, fh := range parsed {
		if !excluded(fh.File, patterns) {
			out = append(out, fh)
		}
	}
	return out
}

// excluded reports whether path matches any pattern. Patterns are
// filepath.Match compatible (no **); directory patterns like "vendor/"
// match the whole subtree, and bare patterns also match the base name.
func excluded(path string, patterns []string) bool {
	path = filepath.ToSlash(path)
	for _, p := range patterns {
		if strings.HasSuffix(p, "/") {
			prefix := strings.TrimSuffix(p, "/")
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if ok, err := filepath.Match(p, path); err == nil && ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

// WriteReport renders a split result. JSON mode emits the whole result as one
// object; otherwise a short human summary is written, per-group lines first.
func WriteReport(w io.Writer, res *SplitResult, jsonMode, quiet bool) error {
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if quiet {
		return nil
	}
	for _, r := range res.Report.Results {
		if r.Success {
			fmt.Fprintf(w, "  committed group %d: %s (%d files)\n", r.GroupNumber, r.CommitMessage, len(r.FilesAffected))
		} else {
			fmt.Fprintf(w, "  FAILED group %d (%s): %s\n", r.GroupNumber, r.ErrorKind, r.CommitMessage)
		}
	}
	for _, wmsg := range res.Resolved.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", wmsg)
	}
	if n := len(res.Resolved.Uncovered); n > 0 {
		fmt.Fprintf(w, "  %d hunk(s) not assigned to any group; left in the working tree\n", n)
	}
	fmt.Fprintf(w, "%d of %d group(s) committed", res.Report.Committed(), len(res.Report.Results))
	if res.Report.Restored {
		fmt.Fprintln(w, "; working tree restored")
	} else {
		fmt.Fprintln(w, "; WORKING TREE NOT FULLY RESTORED")
	}
	return nil
}

// WritePlan renders a propose-only result.
func WritePlan(w io.Writer, res *PlanResult, jsonMode bool) error {
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, g := range res.Resolved.Groups {
		fmt.Fprintf(w, "group %d: %s\n", g.Number, g.CommitMessage)
		if g.Description != "" {
			fmt.Fprintf(w, "  %s\n", g.Description)
		}
		for _, ref := range g.Refs {
			fmt.Fprintf(w, "  - %s\n", ref)
		}
	}
	for _, wmsg := range res.Resolved.Warnings {
		fmt.Fprintf(w, "warning: %s\n", wmsg)
	}
	if n := len(res.Resolved.Uncovered); n > 0 {
		fmt.Fprintf(w, "%d hunk(s) uncovered\n", n)
	}
	return nil
}
