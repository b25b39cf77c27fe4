package hunkid

import "testing"

func TestID_deterministic(t *testing.T) {
	t.Parallel()
	a := ID("auth.go", "@@ -1,1 +1,2 @@\n context\n+added\n")
	b := ID("auth.go", "@@ -1,1 +1,2 @@\n context\n+added\n")
	if a != b {
		t.Errorf("same input, different IDs: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("len = %d, want 16", len(a))
	}
}

func TestID_distinguishesFileAndContent(t *testing.T) {
	t.Parallel()
	base := ID("auth.go", "+added\n")
	if ID("logger.go", "+added\n") == base {
		t.Error("different file, same ID")
	}
	if ID("auth.go", "+other\n") == base {
		t.Error("different content, same ID")
	}
}

func TestID_normalizesCRLF(t *testing.T) {
	t.Parallel()
	if ID("a.go", "+x\r\n") != ID("a.go", "+x\n") {
		t.Error("CRLF and LF content should hash the same")
	}
}
