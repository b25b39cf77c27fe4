package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"carve/cli/internal/git"
)

// fakeReader serves content from maps; absent keys report git.ErrNotFound.
type fakeReader struct {
	committed map[string]string
	working   map[string]string
	fail      error
}

func (f *fakeReader) CommittedContent(_ context.Context, file string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	s, ok := f.committed[file]
	if !ok {
		return "", fmt.Errorf("%s: %w", file, git.ErrNotFound)
	}
	return s, nil
}

func (f *fakeReader) WorkingContent(_ context.Context, file string) (string, error) {
	s, ok := f.working[file]
	if !ok {
		return "", fmt.Errorf("%s: %w", file, git.ErrNotFound)
	}
	return s, nil
}

func TestCapture_trackedAndModified(t *testing.T) {
	t.Parallel()
	r := &fakeReader{
		committed: map[string]string{"a.go": "old\n"},
		working:   map[string]string{"a.go": "new\n"},
	}
	states, err := Capture(context.Background(), r, []string{"a.go"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	st := states["a.go"]
	if !st.OriginalExists || st.Original != "old\n" {
		t.Errorf("Original = %+v", st)
	}
	if !st.WorkingExists || st.Working != "new\n" {
		t.Errorf("Working = %+v", st)
	}
}

func TestCapture_newFileHasNoOriginal(t *testing.T) {
	t.Parallel()
	r := &fakeReader{
		committed: map[string]string{},
		working:   map[string]string{"new.go": "content\n"},
	}
	states, err := Capture(context.Background(), r, []string{"new.go"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	st := states["new.go"]
	if st.OriginalExists || st.Original != "" {
		t.Errorf("new file should have empty original: %+v", st)
	}
	if !st.WorkingExists {
		t.Error("working copy should exist")
	}
}

func TestCapture_deletedFileHasNoWorking(t *testing.T) {
	t.Parallel()
	r := &fakeReader{
		committed: map[string]string{"gone.go": "was here\n"},
		working:   map[string]string{},
	}
	states, err := Capture(context.Background(), r, []string{"gone.go"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	st := states["gone.go"]
	if !st.OriginalExists {
		t.Error("original should exist")
	}
	if st.WorkingExists {
		t.Error("working copy should be marked absent")
	}
}

func TestCapture_duplicatesReadOnce(t *testing.T) {
	t.Parallel()
	r := &fakeReader{
		committed: map[string]string{"a.go": "x\n"},
		working:   map[string]string{"a.go": "y\n"},
	}
	states, err := Capture(context.Background(), r, []string{"a.go", "a.go"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("len(states) = %d, want 1", len(states))
	}
}

func TestCapture_realErrorAborts(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk on fire")
	r := &fakeReader{fail: boom}
	if _, err := Capture(context.Background(), r, []string{"a.go"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped read failure", err)
	}
}
