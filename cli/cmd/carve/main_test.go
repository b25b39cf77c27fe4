package main

import (
	"testing"
)

func TestRunCLI_help(t *testing.T) {
	if got := runCLI([]string{"--help"}); got != 0 {
		t.Errorf("runCLI(--help) = %d, want 0", got)
	}
	if got := runCLI([]string{"--version"}); got != 0 {
		t.Errorf("runCLI(--version) = %d, want 0", got)
	}
}

func TestRunCLI_unknownCommand(t *testing.T) {
	if got := runCLI([]string{"frobnicate"}); got == 0 {
		t.Error("runCLI(frobnicate) = 0, want nonzero")
	}
}

func TestErrExit(t *testing.T) {
	t.Parallel()
	if errExit(2).Error() != "exit 2" {
		t.Errorf("errExit(2).Error() = %q", errExit(2).Error())
	}
}
