package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"vak/internal/config"
	"vak/internal/engine"
	"vak/internal/labels"
	"vak/internal/logging"
	"vak/internal/runs"
	"vak/internal/services/runner"
	"vak/internal/testsupport"
	"vak/internal/transforms"
	"vak/internal/windows"
)

// preparedTrainConfig runs prep over ten annotated clips and returns a config
// whose TRAIN section points at the resulting dataset.
func preparedTrainConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	writeClips(t, dataDir, 10)
	base := []testsupport.ConfigOption{
		testsupport.WithPrep(dataDir, "npz", []string{"a", "b"}),
		testsupport.WithDurations(testsupport.Float(6), testsupport.Float(2), nil),
		testsupport.WithTrain(""),
	}
	cfg := testsupport.NewConfig(t, append(base, opts...)...)
	cfg.DataLoader.WindowSize = 20
	writeConfigFile(t, cfg, "[TRAIN]\nmodels = [\"TweetyNet\"]\n")
	if _, err := newEngine(t, cfg, nil).Prep(context.Background()); err != nil {
		t.Fatalf("Prep: %v", err)
	}
	return cfg
}

func TestTrainWritesArtifactsAndRecordsRun(t *testing.T) {
	cfg := preparedTrainConfig(t, testsupport.WithStubbedBinaries())
	fake := &fakeRunner{}
	var bars bytes.Buffer

	res, err := newEngine(t, cfg, fake, engine.WithProgress(&bars)).Train(context.Background())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	wantDir := filepath.Join(cfg.Train.RootResultsDir, "results_261019_120000")
	if res.ResultsDir != wantDir {
		t.Fatalf("results dir = %q, want %q", res.ResultsDir, wantDir)
	}

	lm, err := labels.Load(res.LabelmapPath)
	if err != nil {
		t.Fatalf("load labelmap: %v", err)
	}
	if lm[labels.Unlabeled] != 0 || lm["a"] != 1 || lm["b"] != 2 {
		t.Fatalf("labelmap = %v", lm)
	}
	if res.SpectScalerPath != filepath.Join(wantDir, transforms.SpectScalerName) {
		t.Fatalf("scaler path = %q", res.SpectScalerPath)
	}
	if _, err := transforms.LoadStandardizeSpect(res.SpectScalerPath); err != nil {
		t.Fatalf("load scaler: %v", err)
	}
	trainWindows, err := windows.Load(filepath.Join(wantDir, "train_"+windows.FileName))
	if err != nil {
		t.Fatalf("load train windows: %v", err)
	}
	if trainWindows.Len() != 6*clipTimebins {
		t.Fatalf("train windows cover %d bins, want %d", trainWindows.Len(), 6*clipTimebins)
	}
	mustExist(t, filepath.Join(wantDir, "val_"+windows.FileName))
	mustExist(t, filepath.Join(wantDir, "vak.log"))
	mustExist(t, filepath.Join(wantDir, filepath.Base(cfg.Path)))
	if _, err := os.Stat(filepath.Join(wantDir, ".vak.lock")); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after the run, stat err = %v", err)
	}

	jobs := fake.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.Command != runner.CommandTrain || job.Model != "TweetyNet" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.DatasetPath != cfg.Train.CSVPath || job.LabelmapPath != res.LabelmapPath || job.SpectScalerPath != res.SpectScalerPath {
		t.Fatalf("job paths not wired: %+v", job)
	}
	if job.Windows["train"] == "" || job.Windows["val"] == "" {
		t.Fatalf("job windows = %v", job.Windows)
	}
	if job.WindowSize != 20 || job.NumEpochs != 2 {
		t.Fatalf("job options = window %d epochs %d", job.WindowSize, job.NumEpochs)
	}

	if len(res.Models) != 1 {
		t.Fatalf("expected 1 model result, got %d", len(res.Models))
	}
	metrics, err := os.ReadFile(filepath.Join(res.Models[0].Dir, engine.MetricsFileName))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metrics), "val,acc,0.9") {
		t.Fatalf("metrics.csv missing val acc:\n%s", metrics)
	}

	list := listRuns(t, cfg.Train.RootResultsDir)
	if len(list) != 1 {
		t.Fatalf("expected 1 run, got %d", len(list))
	}
	run := list[0]
	if run.Command != "train" || run.Model != "TweetyNet" || run.Status != runs.StatusCompleted {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.ResultsDir != res.Models[0].Dir || run.ID != res.Models[0].RunID {
		t.Fatalf("run results dir = %q id = %q", run.ResultsDir, run.ID)
	}
	if run.Metrics["val"]["acc"] != 0.9 {
		t.Fatalf("run metrics = %v", run.Metrics)
	}
}

func TestTrainRecordsFailedRun(t *testing.T) {
	cfg := preparedTrainConfig(t, testsupport.WithStubbedBinaries())
	fake := &fakeRunner{err: errors.New("cuda out of memory")}

	if _, err := newEngine(t, cfg, fake).Train(context.Background()); err == nil {
		t.Fatal("expected train to fail")
	}
	list := listRuns(t, cfg.Train.RootResultsDir)
	if len(list) != 1 || list[0].Status != runs.StatusFailed {
		t.Fatalf("expected one failed run, got %+v", list)
	}
	if !strings.Contains(list[0].ErrorMessage, "cuda out of memory") {
		t.Fatalf("error message = %q", list[0].ErrorMessage)
	}
}

func TestTrainLogsFailureWithRunContext(t *testing.T) {
	cfg := preparedTrainConfig(t, testsupport.WithStubbedBinaries())
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	e, err := engine.New(cfg, logger,
		engine.WithClock(func() time.Time { return fixedNow }),
		engine.WithRand(rand.New(rand.NewPCG(1, 2))),
		engine.WithRunner(&fakeRunner{err: errors.New("cuda out of memory")}),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if _, err := e.Train(context.Background()); err == nil {
		t.Fatal("expected train to fail")
	}

	list := listRuns(t, cfg.Train.RootResultsDir)
	if len(list) != 1 {
		t.Fatalf("expected one run, got %d", len(list))
	}
	var failure map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if record[logging.FieldEventType] == "run_failed" {
			failure = record
		}
	}
	if failure == nil {
		t.Fatalf("no run_failed record in:\n%s", buf.String())
	}
	if failure[logging.FieldRunID] != list[0].ID || failure[logging.FieldCommand] != "train" {
		t.Fatalf("failure record lacks run context: %v", failure)
	}
	if hint, _ := failure[logging.FieldErrorHint].(string); !strings.Contains(hint, list[0].ID) {
		t.Fatalf("error hint = %q", hint)
	}
}

func TestTrainRefusesLockedResultsDir(t *testing.T) {
	cfg := preparedTrainConfig(t, testsupport.WithStubbedBinaries())
	dir := filepath.Join(cfg.Train.RootResultsDir, "results_261019_120000")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(dir, ".vak.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("lock results dir: locked=%v err=%v", locked, err)
	}
	defer lock.Unlock()

	_, err = newEngine(t, cfg, &fakeRunner{}).Train(context.Background())
	if !errors.Is(err, engine.ErrResultsDirBusy) {
		t.Fatalf("expected ErrResultsDirBusy, got %v", err)
	}
}

func TestTrainRequiresPreparedDataset(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrain(""), testsupport.WithStubbedBinaries())
	_, err := newEngine(t, cfg, &fakeRunner{}).Train(context.Background())
	if err == nil || !strings.Contains(err.Error(), "vak prep") {
		t.Fatalf("expected hint to run prep, got %v", err)
	}
}

func TestTrainRunsFrameworkProcess(t *testing.T) {
	script := `#!/bin/sh
job="$3"
[ -f "$job" ] || { echo "missing job file $job" >&2; exit 2; }
echo "loading framework"
echo '{"event":"progress","epoch":1,"step":1,"total_steps":1,"loss":0.5}'
echo '{"event":"checkpoint","path":"/tmp/max-val-acc.pt"}'
echo '{"event":"metrics","split":"val","metrics":{"acc":0.75}}'
`
	cfg := preparedTrainConfig(t, testsupport.WithRunnerScript(script))

	res, err := newEngine(t, cfg, nil).Train(context.Background())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	mr := res.Models[0]
	if len(mr.Checkpoints) != 1 || mr.Checkpoints[0] != "/tmp/max-val-acc.pt" {
		t.Fatalf("checkpoints = %v", mr.Checkpoints)
	}
	data, err := os.ReadFile(filepath.Join(mr.Dir, runner.JobFileName))
	if err != nil {
		t.Fatalf("read job file: %v", err)
	}
	var job runner.Job
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("decode job file: %v", err)
	}
	if job.Command != runner.CommandTrain || job.ResultsDir != mr.Dir {
		t.Fatalf("job file = %+v", job)
	}
	metrics, err := os.ReadFile(filepath.Join(mr.Dir, engine.MetricsFileName))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metrics), "val,acc,0.75") {
		t.Fatalf("metrics.csv = %s", metrics)
	}
}
