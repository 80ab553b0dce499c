package main

import (
	"strings"
	"testing"
)

func TestRootCommandRejectsUnknownCleanupMode(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--cleanup", "everything"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid --cleanup") {
		t.Fatalf("err = %v, want invalid --cleanup", err)
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"now"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional args to be rejected")
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--refresh", "--cleanup", "deep"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	refresh, err := cmd.Flags().GetBool("refresh")
	if err != nil || !refresh {
		t.Fatalf("refresh = %v, err = %v", refresh, err)
	}
	cleanup, err := cmd.Flags().GetString("cleanup")
	if err != nil || cleanup != "deep" {
		t.Fatalf("cleanup = %q, err = %v", cleanup, err)
	}
	if err := cmd.PreRunE(cmd, nil); err != nil {
		t.Fatalf("PreRunE: %v", err)
	}
}
