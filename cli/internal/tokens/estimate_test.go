package tokens

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%d bytes) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestWarnIfOver(t *testing.T) {
	t.Parallel()
	if w := WarnIfOver(100, 100, 1000); w != "" {
		t.Errorf("under threshold: %q", w)
	}
	if w := WarnIfOver(850, 100, 1000); w == "" {
		t.Error("at 95% of limit: want warning")
	}
	if w := WarnIfOver(1000000, 0, 0); w != "" {
		t.Errorf("limit 0 disables: %q", w)
	}
	if w := WarnIfOver(-1, 0, 1000); w != "" {
		t.Errorf("negative prompt: %q", w)
	}
}
