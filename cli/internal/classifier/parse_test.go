package classifier

import (
	"errors"
	"strings"
	"testing"
)

func TestParseGroups_cleanResponse(t *testing.T) {
	t.Parallel()
	raw := `{"groups":[
		{"number":1,"description":"login","hunks":[{"file":"auth.go","hunkIndex":0}],"commitMessage":"feat(auth): add login"},
		{"number":2,"description":"logging","hunks":[{"file":"auth.go","hunkIndex":1},{"file":"logger.go","hunkIndex":0}],"commitMessage":"feat(logging): add info logging","commitBody":"Adds a log call after login."}
	]}`
	p, err := ParseGroups(raw)
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	if len(p.Warnings) != 0 {
		t.Errorf("Warnings = %v", p.Warnings)
	}
	if len(p.Groups) != 2 {
		t.Fatalf("len(Groups) = %d, want 2", len(p.Groups))
	}
	g := p.Groups[1]
	if g.Number != 2 || g.CommitMessage != "feat(logging): add info logging" || g.CommitBody != "Adds a log call after login." {
		t.Errorf("group 2 = %+v", g)
	}
	if len(g.Refs) != 2 || g.Refs[1].File != "logger.go" || g.Refs[1].Index != 0 {
		t.Errorf("refs = %+v", g.Refs)
	}
}

func TestParseGroups_fencedAndProseWrapped(t *testing.T) {
	t.Parallel()
	raw := "Here is the grouping you asked for:\n```json\n" +
		`{"groups":[{"number":1,"hunks":[{"file":"a.go","hunkIndex":0}],"commitMessage":"fix: a"}]}` +
		"\n```\nLet me know if you need anything else."
	p, err := ParseGroups(raw)
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	if len(p.Groups) != 1 || p.Groups[0].CommitMessage != "fix: a" {
		t.Errorf("Groups = %+v", p.Groups)
	}
}

func TestParseGroups_malformedEntriesDropped(t *testing.T) {
	t.Parallel()
	raw := `{"groups":[
		{"number":1,"hunks":[{"file":"a.go","hunkIndex":0}],"commitMessage":"ok"},
		{"number":2,"hunks":[{"file":"","hunkIndex":0},{"file":"b.go","hunkIndex":"zero"}],"commitMessage":"all refs bad"},
		{"number":3,"hunks":[{"file":"c.go","hunkIndex":2}]}
	]}`
	p, err := ParseGroups(raw)
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	if len(p.Groups) != 1 {
		t.Fatalf("len(Groups) = %d, want 1 (entries 2 and 3 dropped)", len(p.Groups))
	}
	if len(p.Warnings) < 3 {
		t.Errorf("Warnings = %v, want at least 3", p.Warnings)
	}
}

func TestParseGroups_missingNumberRepaired(t *testing.T) {
	t.Parallel()
	raw := `{"groups":[{"hunks":[{"file":"a.go","hunkIndex":0}],"commitMessage":"m"}]}`
	p, err := ParseGroups(raw)
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	if p.Groups[0].Number != 1 {
		t.Errorf("Number = %d, want 1", p.Groups[0].Number)
	}
	if len(p.Warnings) != 1 || !strings.Contains(p.Warnings[0], "no valid number") {
		t.Errorf("Warnings = %v", p.Warnings)
	}
}

func TestParseGroups_descriptionFallsBackToMessage(t *testing.T) {
	t.Parallel()
	raw := `{"groups":[{"number":1,"description":"tidy imports","hunks":[{"file":"a.go","hunkIndex":0}]}]}`
	p, err := ParseGroups(raw)
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	if p.Groups[0].CommitMessage != "tidy imports" {
		t.Errorf("CommitMessage = %q", p.Groups[0].CommitMessage)
	}
}

func TestParseGroups_unusable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose only", "I could not group these changes."},
		{"invalid json", `{"groups":[`},
		{"no groups key", `{"result":"ok"}`},
		{"groups not array", `{"groups":"none"}`},
		{"all entries invalid", `{"groups":[{"number":1,"hunks":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseGroups(tt.raw); !errors.Is(err, ErrUnusable) {
				t.Errorf("err = %v, want ErrUnusable", err)
			}
		})
	}
}

func TestParseGroups_normalizesMessages(t *testing.T) {
	t.Parallel()
	raw := `{"groups":[{"number":1,"hunks":[{"file":"a.go","hunkIndex":0}],` +
		`"commitMessage":"fix: trailing period.\n\nThe subject carried a body."}]}`
	p, err := ParseGroups(raw)
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	g := p.Groups[0]
	if g.CommitMessage != "fix: trailing period" {
		t.Errorf("CommitMessage = %q", g.CommitMessage)
	}
	if g.CommitBody != "The subject carried a body." {
		t.Errorf("CommitBody = %q", g.CommitBody)
	}
}
