package preflight_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vak/internal/preflight"
	"vak/internal/services"
	"vak/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWritableTargetMissingLeaf(t *testing.T) {
	base := t.TempDir()
	result := preflight.CheckWritableTarget("results", filepath.Join(base, "a", "b"))
	if !result.Passed {
		t.Fatalf("expected pass when an ancestor is writable, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckWritableTargetEmpty(t *testing.T) {
	if result := preflight.CheckWritableTarget("results", ""); result.Passed {
		t.Fatal("expected failure for empty path")
	}
}

func TestCheckRunner(t *testing.T) {
	stub := filepath.Join(t.TempDir(), "vak-runner")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckRunner(stub); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	result := preflight.CheckRunner("clearly-not-present-runner")
	if result.Passed {
		t.Fatal("expected failure for missing runner")
	}
	if !strings.Contains(result.Detail, "RUNNER.command") {
		t.Fatalf("detail should point at RUNNER.command: %s", result.Detail)
	}
}

func TestRunAllPrepSkipsRunner(t *testing.T) {
	dataDir := t.TempDir()
	cfg := testsupport.NewConfig(t, testsupport.WithPrep(dataDir, "npz", []string{"a"}))
	cfg.Runner.Command = "clearly-not-present-runner"

	results := preflight.RunAll(cfg, "prep")
	if len(results) != 2 {
		t.Fatalf("expected data and output checks, got %#v", results)
	}
	if err := preflight.Err(results); err != nil {
		t.Fatalf("expected prep checks to pass: %v", err)
	}
}

func TestRunAllTrainReportsMissingRunner(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrain(""))
	cfg.Runner.Command = "clearly-not-present-runner"

	err := preflight.Err(preflight.RunAll(cfg, "train"))
	if err == nil {
		t.Fatal("expected preflight error")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Framework runner") {
		t.Fatalf("error should name the runner check: %v", err)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := preflight.RunAll(nil, "train"); results != nil {
		t.Fatalf("expected nil, got %#v", results)
	}
}
