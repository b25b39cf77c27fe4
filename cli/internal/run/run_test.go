package run

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"carve/cli/internal/classifier"
	"carve/cli/internal/git"
	"carve/cli/internal/plan"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@carve.local")
	runGit(t, dir, "config", "user.name", "Test")
	runGit(t, dir, "config", "commit.gpgsign", "false")
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\n")
	writeFile(t, dir, "b.txt", "alpha\nbeta\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "base")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func gitOut(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func openRepo(t *testing.T, dir string) *git.Repo {
	t.Helper()
	repo, err := git.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return repo
}

func TestCollect_noChanges(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	_, _, err := Collect(context.Background(), Options{Repo: openRepo(t, dir)})
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("err = %v, want ErrNoChanges", err)
	}
}

func TestCollect_excludesLockFiles(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	writeFile(t, dir, "go.sum", "module v1.0.0 h1:abc\n")
	reg, files, err := Collect(context.Background(), Options{Repo: openRepo(t, dir)})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, f := range files {
		if f.Path == "go.sum" {
			t.Error("go.sum should be excluded by default")
		}
	}
	if got := len(reg.Files()); got != 1 {
		t.Errorf("registry files = %d, want 1", got)
	}
}

func TestCollect_untrackedFileHasHunks(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "fresh.txt", "brand new\n")
	reg, _, err := Collect(context.Background(), Options{Repo: openRepo(t, dir)})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	hunks := reg.FileHunks("fresh.txt")
	if len(hunks) != 1 {
		t.Fatalf("fresh.txt hunks = %d, want 1", len(hunks))
	}
	if hunks[0].IsPlaceholder() {
		t.Error("intent-to-add file should produce a content hunk")
	}
}

func TestPlan_dryRunGroupsPerFile(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	writeFile(t, dir, "b.txt", "alpha\nbeta\ngamma\n")
	res, err := Plan(context.Background(), Options{Repo: openRepo(t, dir), DryRun: true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Resolved.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(res.Resolved.Groups))
	}
	if len(res.Resolved.Uncovered) != 0 {
		t.Errorf("uncovered = %v, want none", res.Resolved.Uncovered)
	}
}

func TestPlan_leavesIndexUntouched(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	writeFile(t, dir, "new.txt", "fresh\n")
	before := gitOut(t, dir, "status", "--porcelain")

	res, err := Plan(context.Background(), Options{Repo: openRepo(t, dir), DryRun: true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, ok := res.Registry.Lookup(plan.HunkRef{File: "new.txt", Index: 0}); !ok {
		t.Errorf("untracked file missing from registry")
	}
	if after := gitOut(t, dir, "status", "--porcelain"); after != before {
		t.Errorf("status changed:\nbefore %q\nafter  %q", before, after)
	}
}

func TestPlan_noAPIKeyFailsClosed(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	_, err := Plan(context.Background(), Options{Repo: openRepo(t, dir)})
	if err == nil {
		t.Fatal("Plan: want error without API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("err = %v, want API key message", err)
	}
}

// splitAll is a classifier double that puts every hunk in one group.
type splitAll struct{ message string }

func (s splitAll) Propose(_ context.Context, reg *plan.Registry) (classifier.Proposal, error) {
	return classifier.Proposal{Groups: []plan.Group{{
		Number:        1,
		Refs:          reg.AllRefs(),
		CommitMessage: s.message,
	}}}, nil
}

func TestSplit_dryRunCommitsPerFile(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	writeFile(t, dir, "b.txt", "alpha\nbeta\ngamma\n")
	res, err := Split(context.Background(), Options{Repo: openRepo(t, dir), DryRun: true})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := res.Report.Committed(); got != 2 {
		t.Fatalf("committed = %d, want 2", got)
	}
	if !res.Report.Restored {
		t.Error("Restored = false")
	}
	if got := gitOut(t, dir, "rev-list", "--count", "HEAD"); got != "3" {
		t.Errorf("commit count = %s, want 3", got)
	}
	if got := gitOut(t, dir, "status", "--porcelain"); got != "" {
		t.Errorf("working tree not clean after full split:\n%s", got)
	}
}

func TestSplit_uncoveredHunksStayInTree(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	writeFile(t, dir, "b.txt", "alpha\nbeta\ngamma\n")
	// Claim only a.txt; b.txt's hunk is uncovered and must survive.
	cl := func(_ context.Context, reg *plan.Registry) (classifier.Proposal, error) {
		return classifier.Proposal{Groups: []plan.Group{{
			Number:        1,
			Refs:          []plan.HunkRef{{File: "a.txt", Index: 0}},
			CommitMessage: "feat: extend a",
		}}}, nil
	}
	res, err := Split(context.Background(), Options{Repo: openRepo(t, dir), Classifier: classifierFunc(cl)})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := res.Report.Committed(); got != 1 {
		t.Fatalf("committed = %d, want 1", got)
	}
	if len(res.Resolved.Uncovered) != 1 {
		t.Fatalf("uncovered = %v, want one ref", res.Resolved.Uncovered)
	}
	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alpha\nbeta\ngamma\n" {
		t.Errorf("b.txt = %q, uncommitted change lost", data)
	}
	if got := gitOut(t, dir, "log", "-1", "--pretty=%s"); got != "feat: extend a" {
		t.Errorf("HEAD subject = %q", got)
	}
}

type classifierFunc func(context.Context, *plan.Registry) (classifier.Proposal, error)

func (f classifierFunc) Propose(ctx context.Context, reg *plan.Registry) (classifier.Proposal, error) {
	return f(ctx, reg)
}

func TestSplit_singleGroupClassifier(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	writeFile(t, dir, "b.txt", "alpha\nbeta\ngamma\n")
	res, err := Split(context.Background(), Options{
		Repo:       openRepo(t, dir),
		Classifier: splitAll{message: "chore: everything"},
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := res.Report.Committed(); got != 1 {
		t.Fatalf("committed = %d, want 1", got)
	}
	if got := gitOut(t, dir, "status", "--porcelain"); got != "" {
		t.Errorf("working tree not clean:\n%s", got)
	}
}

func TestCapGroups(t *testing.T) {
	t.Parallel()
	groups := []plan.Group{
		{Number: 1, Refs: []plan.HunkRef{{File: "a", Index: 0}}},
		{Number: 2, Refs: []plan.HunkRef{{File: "b", Index: 0}}},
		{Number: 3, Refs: []plan.HunkRef{{File: "c", Index: 0}}},
	}
	capped := capGroups(groups, 2)
	if len(capped) != 2 {
		t.Fatalf("len = %d, want 2", len(capped))
	}
	if len(capped[1].Refs) != 2 {
		t.Errorf("last group refs = %d, want 2 (folded)", len(capped[1].Refs))
	}
	if len(groups[1].Refs) != 1 {
		t.Error("capGroups mutated its input")
	}
	if got := capGroups(groups, 0); len(got) != 3 {
		t.Errorf("cap 0 should be no-op, got %d", len(got))
	}
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{"go.sum", DefaultExcludes, true},
		{"sub/go.sum", DefaultExcludes, true},
		{"main.go", DefaultExcludes, false},
		{"dist/app.min.js", DefaultExcludes, true},
		{"vendor/lib/x.go", []string{"vendor/"}, true},
		{"vendor", []string{"vendor/"}, true},
		{"vendored.go", []string{"vendor/"}, false},
	}
	for _, tc := range cases {
		if got := excluded(tc.path, tc.patterns); got != tc.want {
			t.Errorf("excluded(%q, %v) = %v, want %v", tc.path, tc.patterns, got, tc.want)
		}
	}
}

func TestWriteReport_human(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	res, err := Split(context.Background(), Options{Repo: openRepo(t, dir), DryRun: true})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteReport(&buf, res, false, false); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "committed group 1") {
		t.Errorf("missing group line:\n%s", out)
	}
	if !strings.Contains(out, "working tree restored") {
		t.Errorf("missing restore line:\n%s", out)
	}
}

func TestWriteReport_json(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")
	res, err := Split(context.Background(), Options{Repo: openRepo(t, dir), DryRun: true})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteReport(&buf, res, true, false); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	for _, key := range []string{`"report"`, `"runId"`, `"groups"`, `"commitMessage"`} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("JSON missing %s:\n%s", key, buf.String())
		}
	}
}
