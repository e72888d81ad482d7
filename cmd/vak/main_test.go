package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vak/internal/services"
	"vak/internal/testsupport"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

const runnerScript = `#!/bin/sh
job="$3"
[ -f "$job" ] || { echo "missing job file $job" >&2; exit 2; }
echo '{"event":"progress","epoch":1,"step":1,"total_steps":1,"loss":0.5}'
echo '{"event":"checkpoint","path":"/tmp/max-val-acc.pt"}'
echo '{"event":"metrics","split":"val","metrics":{"acc":0.75}}'
`

type pipelineEnv struct {
	base       string
	configPath string
	resultsDir string
	prepDir    string
}

// setupPipeline writes ten annotated spectrogram clips, a runner script and
// a config file with PREP and TRAIN sections.
func setupPipeline(t *testing.T) pipelineEnv {
	t.Helper()
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	for i := range 10 {
		path := filepath.Join(dataDir, fmt.Sprintf("clip%02d.npz", i))
		testsupport.WriteSpectNPZ(t, path, 4, 100, 0.01)
		testsupport.WriteAnnotCSV(t, path+".csv", []testsupport.Segment{
			{Onset: 0.1, Offset: 0.3, Label: "a"},
			{Onset: 0.5, Offset: 0.7, Label: "b"},
		})
	}
	runner := filepath.Join(base, "vak-runner")
	if err := os.WriteFile(runner, []byte(runnerScript), 0o755); err != nil {
		t.Fatalf("write runner: %v", err)
	}

	env := pipelineEnv{
		base:       base,
		configPath: filepath.Join(base, "config.toml"),
		resultsDir: filepath.Join(base, "results"),
		prepDir:    filepath.Join(base, "prep"),
	}
	contents := fmt.Sprintf(`[PREP]
data_dir = %q
output_dir = %q
spect_format = "npz"
annot_format = "csv"
labelset = "ab"
train_dur = 6
val_dur = 2

[DATALOADER]
window_size = 20

[RUNNER]
command = %q

[TRAIN]
models = ["TweetyNet"]
root_results_dir = %q
num_epochs = 1
batch_size = 4
normalize_spectrograms = true
`, dataDir, env.prepDir, runner, env.resultsDir)
	if err := os.WriteFile(env.configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func TestCLIPrepTrainAndRuns(t *testing.T) {
	env := setupPipeline(t)

	out, _, err := runCLI(t, "prep", env.configPath)
	if err != nil {
		t.Fatalf("prep: %v", err)
	}
	requireContains(t, out, "Dataset written to")
	requireContains(t, out, "Recorded as TRAIN.csv_path")
	requireContains(t, out, "train")

	out, stderr, err := runCLI(t, "train", env.configPath)
	if err != nil {
		t.Fatalf("train: %v\nstderr:\n%s", err, stderr)
	}
	requireContains(t, out, "Results: "+env.resultsDir)
	requireContains(t, out, "/tmp/max-val-acc.pt")
	requireContains(t, out, "0.7500")

	out, _, err = runCLI(t, "runs", "list", "--root", env.resultsDir, "--status", "completed")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "train")
	requireContains(t, out, "TweetyNet")

	out, _, err = runCLI(t, "--json", "runs", "list", "--root", env.resultsDir)
	if err != nil {
		t.Fatalf("runs list --json: %v", err)
	}
	var listed []runOutput
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode runs list: %v\n%s", err, out)
	}
	if len(listed) != 1 || listed[0].Status != "completed" {
		t.Fatalf("listed runs = %+v", listed)
	}

	out, _, err = runCLI(t, "--json", "runs", "show", listed[0].ID[:8], "--root", env.resultsDir)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	var shown runOutput
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode runs show: %v\n%s", err, out)
	}
	if shown.ID != listed[0].ID || shown.Metrics["val"]["acc"] != 0.75 {
		t.Fatalf("shown run = %+v", shown)
	}

	out, _, err = runCLI(t, "runs", "list", "--root", env.prepDir)
	if err != nil {
		t.Fatalf("runs list prep: %v", err)
	}
	requireContains(t, out, "prep")
}

func TestCLIRunsWithoutStore(t *testing.T) {
	_, _, err := runCLI(t, "runs", "list", "--root", t.TempDir())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCLIRunsRejectsUnknownStatus(t *testing.T) {
	_, _, err := runCLI(t, "runs", "list", "--root", t.TempDir(), "--status", "paused")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCLIPipelineCommandNeedsLoadableConfig(t *testing.T) {
	_, _, err := runCLI(t, "train", filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPrintErrorHintsOnlyForToolFailures(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, services.Wrap(services.ErrValidation, "prep", "split", "too short", nil))
	if strings.Contains(buf.String(), "vak.log") {
		t.Fatalf("user error should not point at the log: %q", buf.String())
	}

	buf.Reset()
	printError(&buf, services.Wrap(services.ErrExternalTool, "train", "run vak-runner", "exit status 1", nil))
	requireContains(t, buf.String(), "vak.log")
}

func TestCLIRunsLogPrintsRunLog(t *testing.T) {
	env := setupPipeline(t)
	if _, _, err := runCLI(t, "prep", env.configPath); err != nil {
		t.Fatalf("prep: %v", err)
	}
	if _, _, err := runCLI(t, "train", env.configPath); err != nil {
		t.Fatalf("train: %v", err)
	}
	out, _, err := runCLI(t, "--json", "runs", "list", "--root", env.resultsDir)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	var listed []runOutput
	if err := json.Unmarshal([]byte(out), &listed); err != nil || len(listed) != 1 {
		t.Fatalf("decode runs list: %v\n%s", err, out)
	}

	out, _, err = runCLI(t, "runs", "log", listed[0].ID, "--root", env.resultsDir, "--lines", "200")
	if err != nil {
		t.Fatalf("runs log: %v", err)
	}
	requireContains(t, out, "framework process finished")
}
