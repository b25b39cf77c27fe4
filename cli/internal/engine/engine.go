// Package engine sequences staging, commit creation, and working-tree
// restoration for a resolved set of commit groups. It is strictly sequential:
// the working tree and the staging area are singleton mutable resources, so
// groups are processed one at a time in ascending number order.
//
// Per run: snapshot every touched file, then for each group materialize its
// files, stage them, and commit; a group's failure is recorded and the run
// moves on. After the loop the working tree is always restored so that it
// contains exactly the changes that were never committed. The restoration
// runs on every exit path, including panics, and its failure is the one loud
// error this engine produces.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"carve/cli/internal/apply"
	"carve/cli/internal/diff"
	"carve/cli/internal/erruser"
	"carve/cli/internal/plan"
	"carve/cli/internal/snapshot"
	"carve/cli/internal/trace"
)

// VCS is the collaborator surface the engine mutates the repository through.
// It is passed in explicitly so tests can substitute a double.
type VCS interface {
	snapshot.ContentReader
	WriteWorking(ctx context.Context, file, content string) error
	RemoveWorking(ctx context.Context, file string) error
	Stage(ctx context.Context, files []string) error
	UnstageAll(ctx context.Context) error
	Commit(ctx context.Context, message, body, author string) error
}

// ErrorKind classifies why a group failed.
type ErrorKind string

const (
	ErrorKindSnapshot ErrorKind = "snapshot"
	ErrorKindApply    ErrorKind = "apply"
	ErrorKindStage    ErrorKind = "stage"
	ErrorKindCommit   ErrorKind = "commit"
	ErrorKindRestore  ErrorKind = "restore"
)

// CommitResult is the outcome for one group.
type CommitResult struct {
	GroupNumber   int       `json:"groupNumber"`
	CommitMessage string    `json:"commitMessage"`
	FilesAffected []string  `json:"filesAffected"`
	Success       bool      `json:"success"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	Err           error     `json:"-"`
}

// Report aggregates a run: per-group results plus whether the working tree
// was fully restored to hold every uncommitted change.
type Report struct {
	RunID    string         `json:"runId"`
	Results  []CommitResult `json:"results"`
	Restored bool           `json:"restored"`
}

// Options tunes a run. Author, when set, overrides the commit author as
// "Name <email>". Tracer may be nil.
type Options struct {
	Author string
	Tracer *trace.Tracer
}

// Committed reports how many groups succeeded.
func (r *Report) Committed() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Run executes the resolved groups against the repository. The returned
// error is non-nil only for failures that prevent the no-data-loss promise:
// a snapshot that could not be taken, or a restoration that could not be
// completed. Per-group failures live in the report.
func Run(ctx context.Context, vcs VCS, reg *plan.Registry, resolved plan.Resolved, opts Options) (report *Report, err error) {
	tr := opts.Tracer
	report = &Report{RunID: uuid.NewString()}

	touched := touchedFiles(resolved.Groups)
	tr.Section("snapshot")
	tr.Printf("capturing %d files\n", len(touched))
	states, err := snapshot.Capture(ctx, vcs, touched)
	if err != nil {
		return report, erruser.New("Could not snapshot the working tree; nothing was changed.", err)
	}

	// Clear any pre-existing staged state so the first group does not
	// inherit it.
	if err := vcs.UnstageAll(ctx); err != nil {
		return report, err
	}

	// committed tracks, per file, the hunk indices already in a successful
	// commit. Each group's file content is a single subset replay of
	// (committed so far + this group) against the original baseline, so hunk
	// coordinates always refer to the baseline and later commits never undo
	// earlier ones.
	committed := make(map[string]map[int]bool, len(touched))

	// Restoration is not optional: it runs on every exit path, including a
	// panic partway through the group loop.
	defer func() {
		rerr := restore(ctx, vcs, states, tr)
		report.Restored = rerr == nil
		if rerr != nil && err == nil {
			err = erruser.New(
				"Restoration failed; the working tree may not contain all uncommitted changes. "+
					"Inspect 'git status' and 'git reflog' before retrying.", rerr)
		}
	}()

	for _, g := range resolved.Groups {
		tr.Section(fmt.Sprintf("group %d", g.Number))
		res := runGroup(ctx, vcs, reg, states, committed, g, opts)
		if res.Success {
			tr.Printf("committed %q (%d files)\n", g.CommitMessage, len(res.FilesAffected))
			for _, ref := range g.Refs {
				if committed[ref.File] == nil {
					committed[ref.File] = make(map[int]bool)
				}
				committed[ref.File][ref.Index] = true
			}
		} else {
			tr.Printf("failed at %s: %v\n", res.ErrorKind, res.Err)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// runGroup materializes, stages, and commits one group. Any step failure
// marks the group failed; its hunks stay pending and the run continues.
func runGroup(ctx context.Context, vcs VCS, reg *plan.Registry, states map[string]snapshot.FileState, committed map[string]map[int]bool, g plan.Group, opts Options) CommitResult {
	res := CommitResult{GroupNumber: g.Number, CommitMessage: g.CommitMessage}

	byFile := refsByFile(g.Refs)
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	res.FilesAffected = files

	if err := vcs.UnstageAll(ctx); err != nil {
		res.ErrorKind = ErrorKindStage
		res.Err = err
		return res
	}

	for _, file := range files {
		if err := materialize(ctx, vcs, reg, states[file], committed[file], byFile[file]); err != nil {
			res.ErrorKind = ErrorKindApply
			res.Err = err
			return res
		}
	}
	if err := vcs.Stage(ctx, files); err != nil {
		res.ErrorKind = ErrorKindStage
		res.Err = err
		return res
	}
	if err := vcs.Commit(ctx, g.CommitMessage, g.CommitBody, opts.Author); err != nil {
		res.ErrorKind = ErrorKindCommit
		res.Err = err
		return res
	}
	res.Success = true
	return res
}

// materialize writes the working-tree content for one file of one group:
// baseline plus all hunks committed so far plus this group's hunks. Files
// with placeholder hunks (binary, whole-file sections) are staged as they
// stand in the working tree, so their snapshot content is written back as-is.
func materialize(ctx context.Context, vcs VCS, reg *plan.Registry, st snapshot.FileState, done map[int]bool, indices []int) error {
	all := reg.FileHunks(st.File)

	wanted := make(map[int]bool, len(done)+len(indices))
	for i := range done {
		wanted[i] = true
	}
	placeholder := false
	for _, i := range indices {
		wanted[i] = true
		if i >= 0 && i < len(all) && all[i].IsPlaceholder() {
			placeholder = true
		}
	}
	if placeholder {
		return writeOrRemove(ctx, vcs, st.File, st.Working, st.WorkingExists)
	}

	subset := make([]diff.Hunk, 0, len(wanted))
	for i := range all {
		if wanted[i] {
			subset = append(subset, all[i])
		}
	}
	content := apply.Subset(st.Original, subset)

	// An empty result for a file gone from the working tree means the group
	// carries its deletion; stage the removal rather than an empty file.
	if content == "" && !st.WorkingExists {
		return vcs.RemoveWorking(ctx, st.File)
	}
	return vcs.WriteWorking(ctx, st.File, content)
}

// restore puts every snapshotted file back to its pre-run working content.
// Hunks that made it into a commit are in HEAD, so the diff the user sees
// afterwards is exactly their pending changes. Restoration also clears the
// staging area first so a failed commit leaves no staged residue.
func restore(ctx context.Context, vcs VCS, states map[string]snapshot.FileState, tr *trace.Tracer) error {
	tr.Section("restore")
	var firstErr error
	if err := vcs.UnstageAll(ctx); err != nil {
		firstErr = err
	}
	files := make([]string, 0, len(states))
	for f := range states {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		st := states[f]
		if err := writeOrRemove(ctx, vcs, f, st.Working, st.WorkingExists); err != nil {
			tr.Printf("restore %s: %v\n", f, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	tr.Printf("restored %d files\n", len(files))
	return firstErr
}

func writeOrRemove(ctx context.Context, vcs VCS, file, content string, exists bool) error {
	if !exists {
		return vcs.RemoveWorking(ctx, file)
	}
	return vcs.WriteWorking(ctx, file, content)
}

func touchedFiles(groups []plan.Group) []string {
	seen := map[string]bool{}
	var files []string
	for _, g := range groups {
		for _, ref := range g.Refs {
			if !seen[ref.File] {
				seen[ref.File] = true
				files = append(files, ref.File)
			}
		}
	}
	sort.Strings(files)
	return files
}

func refsByFile(refs []plan.HunkRef) map[string][]int {
	byFile := map[string][]int{}
	for _, ref := range refs {
		byFile[ref.File] = append(byFile[ref.File], ref.Index)
	}
	for f := range byFile {
		sort.Ints(byFile[f])
	}
	return byFile
}
