// Package snapshot captures, for every file a run will touch, its
// last-committed content and its working-tree content before any mutation.
// The snapshot is taken once and read-only afterward; final restoration is a
// pure function of it plus the per-group success record, which is the whole
// no-data-loss argument.
package snapshot

import (
	"context"
	"errors"

	"carve/cli/internal/git"
)

// ContentReader is the slice of the VCS binding the snapshotter needs.
type ContentReader interface {
	CommittedContent(ctx context.Context, file string) (string, error)
	WorkingContent(ctx context.Context, file string) (string, error)
}

// FileState is one file's pre-run state. Original is the HEAD blob ("" with
// OriginalExists false for files new since the last commit); Working is the
// on-disk content at run start ("" with WorkingExists false for files deleted
// in the working tree).
type FileState struct {
	File           string
	Original       string
	OriginalExists bool
	Working        string
	WorkingExists  bool
}

// Capture reads both states for each file. git.ErrNotFound is an expected
// outcome recorded in the Exists flags; any other read error aborts, since a
// run that cannot snapshot cannot promise restoration.
func Capture(ctx context.Context, r ContentReader, files []string) (map[string]FileState, error) {
	states := make(map[string]FileState, len(files))
	for _, file := range files {
		if _, done := states[file]; done {
			continue
		}
		st := FileState{File: file}
		orig, err := r.CommittedContent(ctx, file)
		switch {
		case err == nil:
			st.Original = orig
			st.OriginalExists = true
		case errors.Is(err, git.ErrNotFound):
		default:
			return nil, err
		}
		working, err := r.WorkingContent(ctx, file)
		switch {
		case err == nil:
			st.Working = working
			st.WorkingExists = true
		case errors.Is(err, git.ErrNotFound):
		default:
			return nil, err
		}
		states[file] = st
	}
	return states, nil
}
