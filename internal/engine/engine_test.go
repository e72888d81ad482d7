package engine_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vak/internal/config"
	"vak/internal/engine"
	"vak/internal/runs"
	"vak/internal/services/runner"
	"vak/internal/testsupport"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

const (
	clipTimebins   = 100
	clipTimebinDur = 0.01
)

// writeClips writes n one-second spectrogram clips, each annotated with an
// "a" and a "b" segment separated by silence.
func writeClips(t *testing.T, dir string, n int) {
	t.Helper()
	for i := range n {
		path := filepath.Join(dir, fmt.Sprintf("bird%02d.wav.npz", i))
		testsupport.WriteSpectNPZ(t, path, 4, clipTimebins, clipTimebinDur)
		testsupport.WriteAnnotCSV(t, path+".csv", []testsupport.Segment{
			{Onset: 0.1, Offset: 0.3, Label: "a"},
			{Onset: 0.5, Offset: 0.7, Label: "b"},
		})
	}
}

// writeConfigFile gives cfg a file on disk for prep to record csv_path in.
func writeConfigFile(t *testing.T, cfg *config.Config, contents string) {
	t.Helper()
	if err := os.WriteFile(cfg.Path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

type fakeRunner struct {
	mu          sync.Mutex
	jobs        []runner.Job
	predictions []runner.Prediction
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, job runner.Job, onProgress func(runner.Progress)) (*runner.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		onProgress(runner.Progress{Epoch: 1, Step: 1, TotalSteps: 2})
	}
	switch job.Command {
	case runner.CommandTrain:
		return &runner.Result{
			Checkpoints: []string{filepath.Join(job.ResultsDir, "checkpoints", "max-val-acc.pt")},
			Metrics:     map[string]map[string]float64{"val": {"acc": 0.9}},
		}, nil
	case runner.CommandEval:
		return &runner.Result{
			Metrics: map[string]map[string]float64{"test": {"acc": 0.8, "segment_error_rate": 0.25}},
		}, nil
	default:
		return &runner.Result{Predictions: f.predictions}, nil
	}
}

func (f *fakeRunner) Jobs() []runner.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Job(nil), f.jobs...)
}

func newEngine(t *testing.T, cfg *config.Config, r engine.Runner, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithClock(func() time.Time { return fixedNow }),
		engine.WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	if r != nil {
		base = append(base, engine.WithRunner(r))
	}
	e, err := engine.New(cfg, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func listRuns(t *testing.T, root string) []*runs.Run {
	t.Helper()
	store, err := runs.OpenRoot(root)
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	defer store.Close()
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	return list
}

func mustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := engine.New(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
