package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestTracer_nilWriterNoops(t *testing.T) {
	t.Parallel()
	tr := New(nil)
	if tr.Enabled() {
		t.Error("Enabled() should be false for nil writer")
	}
	// Must not panic.
	tr.Section("parse")
	tr.Printf("hunks: %d\n", 3)
}

func TestTracer_nilReceiver(t *testing.T) {
	t.Parallel()
	var tr *Tracer
	if tr.Enabled() {
		t.Error("nil receiver should not be enabled")
	}
	tr.Section("x")
	tr.Printf("y")
}

func TestTracer_writesSectionsAndLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tr := New(&buf)
	if !tr.Enabled() {
		t.Fatal("Enabled() should be true")
	}
	tr.Section("classifier")
	tr.Printf("groups: %d\n", 2)
	out := buf.String()
	if !strings.Contains(out, "[carve:trace] === classifier ===") {
		t.Errorf("missing section header: %q", out)
	}
	if !strings.Contains(out, "groups: 2") {
		t.Errorf("missing printf output: %q", out)
	}
}
