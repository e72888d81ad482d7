package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "vak.toml")

	out, _, err := runCLI(t, "config", "init", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, "config", "init", target); err == nil {
		t.Fatal("expected init to refuse an existing file")
	}
	if _, _, err := runCLI(t, "config", "init", "--overwrite", target); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	// The sample points at data that does not exist here.
	if _, _, err := runCLI(t, "config", "validate", target); err == nil {
		t.Fatal("expected sample config to fail validation without its data_dir")
	}

	env := setupPipeline(t)
	out, _, err = runCLI(t, "config", "validate", env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "PREP, TRAIN")
}

func TestConfigOptions(t *testing.T) {
	out, _, err := runCLI(t, "config", "options", "train")
	if err != nil {
		t.Fatalf("config options: %v", err)
	}
	requireContains(t, out, "root_results_dir")
	requireContains(t, out, "csv_path")

	out, _, err = runCLI(t, "--json", "config", "options", "PREDICT")
	if err != nil {
		t.Fatalf("config options --json: %v", err)
	}
	var opts []optionOutput
	if err := json.Unmarshal([]byte(out), &opts); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	found := false
	for _, o := range opts {
		if o.Section != "PREDICT" {
			t.Fatalf("unexpected section %q", o.Section)
		}
		if o.Option == "min_segment_dur" {
			found = true
		}
	}
	if !found {
		t.Fatal("min_segment_dur missing from PREDICT options")
	}

	if _, _, err := runCLI(t, "config", "options", "NOPE"); err == nil {
		t.Fatal("expected unknown section to fail")
	}
}
