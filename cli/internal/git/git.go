// Package git is the VCS binding for the commit engine: committed and
// working-tree content reads, staging, commit creation, raw diff text, and
// changed-file listing. All operations shell out to the git binary with a
// minimal environment. A Repo is an explicit collaborator instance passed to
// callers, so tests can substitute a double and two runs never share hidden
// state.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"carve/cli/internal/erruser"
)

// ErrNotFound reports content that does not exist: a file absent at HEAD (a
// new file) or absent from the working tree (deleted). This is an expected
// case, not an exceptional one; callers branch on it with errors.Is.
var ErrNotFound = errors.New("content not found")

// Scope selects which changes RawDiff reports.
type Scope string

const (
	ScopeStaged   Scope = "staged"
	ScopeUnstaged Scope = "unstaged"
	ScopeAll      Scope = "all"
)

// Status classifies one changed path.
type Status string

const (
	StatusNew      Status = "new"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
	StatusRenamed  Status = "renamed"
)

// ChangedFile is one entry from the changed-file listing.
type ChangedFile struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	Binary bool   `json:"binary"`
}

// Repo binds the engine to one repository working tree.
type Repo struct {
	root string
}

// Open locates the repository containing dir via rev-parse --show-toplevel.
func Open(dir string) (*Repo, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	cmd.Env = minimalEnv()
	out, err := cmd.Output()
	if err != nil {
		return nil, erruser.New("This directory is not inside a Git repository.", err)
	}
	root, err := filepath.Abs(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, erruser.New("Could not resolve the repository root.", err)
	}
	return &Repo{root: root}, nil
}

// Root returns the absolute repository root path.
func (r *Repo) Root() string {
	return r.root
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	cmd.Env = minimalEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func minimalEnv() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
	}
	// Commit identity comes from the user's environment when set.
	for _, k := range []string{"HOME", "USER", "GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL", "XDG_CONFIG_HOME"} {
		if v := os.Getenv(k); v != "" {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// CommittedContent reads file as of HEAD. Returns ErrNotFound when the path
// does not exist at HEAD (new or untracked files) or when HEAD itself does
// not exist yet (fresh repository).
func (r *Repo) CommittedContent(ctx context.Context, file string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "show", "HEAD:"+file)
	cmd.Dir = r.root
	cmd.Env = minimalEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s at HEAD: %w", file, ErrNotFound)
		}
		return "", erruser.New("Could not read committed content for "+file+".", err)
	}
	return stdout.String(), nil
}

// WorkingContent reads file from the working tree. Returns ErrNotFound for
// paths absent on disk (deleted in the working tree).
func (r *Repo) WorkingContent(_ context.Context, file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.root, file))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s in working tree: %w", file, ErrNotFound)
		}
		return "", erruser.New("Could not read working copy of "+file+".", err)
	}
	return string(data), nil
}

// WriteWorking replaces file's working-tree content, creating parent
// directories as needed.
func (r *Repo) WriteWorking(_ context.Context, file, content string) error {
	abs := filepath.Join(r.root, file)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return erruser.New("Could not create directory for "+file+".", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return erruser.New("Could not write "+file+".", err)
	}
	return nil
}

// RemoveWorking removes file from the working tree. Missing files are fine:
// removing an already-absent path is the intended end state.
func (r *Repo) RemoveWorking(_ context.Context, file string) error {
	err := os.Remove(filepath.Join(r.root, file))
	if err != nil && !os.IsNotExist(err) {
		return erruser.New("Could not remove "+file+".", err)
	}
	return nil
}

// Stage stages exactly the given paths, including deletions.
func (r *Repo) Stage(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"add", "-A", "--"}, files...)
	if _, err := r.run(ctx, args...); err != nil {
		return erruser.New("Could not stage files.", err)
	}
	return nil
}

// UnstageAll clears the staging area without touching the working tree.
func (r *Repo) UnstageAll(ctx context.Context) error {
	if _, err := r.run(ctx, "reset", "--quiet", "HEAD", "--"); err != nil {
		return erruser.New("Could not reset the staging area.", err)
	}
	return nil
}

// Commit creates a commit from the currently staged changes. body, when
// non-empty, becomes a second message paragraph; author, when non-empty, is
// passed as --author ("Name <email>").
func (r *Repo) Commit(ctx context.Context, message, body, author string) error {
	args := []string{"commit", "-m", message}
	if body != "" {
		args = append(args, "-m", body)
	}
	if author != "" {
		args = append(args, "--author", author)
	}
	if _, err := r.run(ctx, args...); err != nil {
		return erruser.New("Could not create commit.", err)
	}
	return nil
}

// RawDiff returns unified diff text for the requested scope. ScopeAll
// concatenates the staged and unstaged diffs; the parser merges per-file
// sections back together. Untracked files appear in the unstaged diff only
// after StageIntent has registered them.
func (r *Repo) RawDiff(ctx context.Context, scope Scope) (string, error) {
	switch scope {
	case ScopeStaged:
		return r.diff(ctx, "--cached")
	case ScopeUnstaged:
		return r.diff(ctx)
	case ScopeAll:
		staged, err := r.diff(ctx, "--cached")
		if err != nil {
			return "", err
		}
		unstaged, err := r.diff(ctx)
		if err != nil {
			return "", err
		}
		return staged + unstaged, nil
	default:
		return "", fmt.Errorf("unknown diff scope %q", scope)
	}
}

func (r *Repo) diff(ctx context.Context, extra ...string) (string, error) {
	args := append([]string{"diff", "--no-color", "--no-ext-diff"}, extra...)
	out, err := r.run(ctx, args...)
	if err != nil {
		return "", erruser.New("Could not read the diff.", err)
	}
	return out, nil
}

// StageIntent runs git add --intent-to-add for untracked paths so they appear
// in the unstaged diff with full content. It does not stage the content.
func (r *Repo) StageIntent(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"add", "--intent-to-add", "--"}, files...)
	if _, err := r.run(ctx, args...); err != nil {
		return erruser.New("Could not register untracked files.", err)
	}
	return nil
}

// Unstage resets the index entries for the given paths without touching the
// working tree. Paths registered with StageIntent return to untracked.
func (r *Repo) Unstage(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"reset", "--quiet", "HEAD", "--"}, files...)
	if _, err := r.run(ctx, args...); err != nil {
		return erruser.New("Could not reset the staging area.", err)
	}
	return nil
}

// ChangedFiles lists changed and untracked paths from status --porcelain,
// with binary detection from numstat's "-" markers (untracked files fall back
// to a NUL-byte sniff of the working copy).
func (r *Repo) ChangedFiles(ctx context.Context) ([]ChangedFile, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, erruser.New("Could not read repository status.", err)
	}
	binary := map[string]bool{}
	for _, extra := range [][]string{nil, {"--cached"}} {
		args := append([]string{"diff", "--numstat"}, extra...)
		if numstat, err := r.run(ctx, args...); err == nil {
			mergeBinaryNumstat(numstat, binary)
		}
	}
	files := ParsePorcelain(out)
	for i := range files {
		if b, ok := binary[files[i].Path]; ok {
			files[i].Binary = b
			continue
		}
		if files[i].Status == StatusNew {
			files[i].Binary = r.sniffBinary(files[i].Path)
		}
	}
	return files, nil
}

// ParsePorcelain parses git status --porcelain output into changed files.
// Exported for tests; it has no side effects.
func ParsePorcelain(out string) []ChangedFile {
	var files []ChangedFile
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		if unquoted, err := strconv.Unquote(path); err == nil && strings.HasPrefix(path, "\"") {
			path = unquoted
		}
		files = append(files, ChangedFile{Path: path, Status: statusFromCode(code)})
	}
	return files
}

func statusFromCode(code string) Status {
	switch {
	case code == "??" || strings.ContainsRune(code, 'A'):
		return StatusNew
	case strings.ContainsRune(code, 'D'):
		return StatusDeleted
	case strings.ContainsRune(code, 'R'):
		return StatusRenamed
	default:
		return StatusModified
	}
}

// mergeBinaryNumstat records path -> binary from numstat output, where binary
// files report "-" for both counts.
func mergeBinaryNumstat(numstat string, into map[string]bool) {
	for _, line := range strings.Split(numstat, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		path := strings.TrimSpace(parts[2])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		if path == "" {
			continue
		}
		if _, seen := into[path]; !seen {
			into[path] = parts[0] == "-" && parts[1] == "-"
		}
	}
}

func (r *Repo) sniffBinary(file string) bool {
	data, err := os.ReadFile(filepath.Join(r.root, file))
	if err != nil {
		return false
	}
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}
