package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/engine"
	"vak/internal/labels"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
	"vak/internal/testsupport"
)

// writeDataset writes n annotated clips under dir as a dataset CSV with every
// clip in split, and returns the CSV path.
func writeDataset(t *testing.T, dir string, n int, split string) string {
	t.Helper()
	writeClips(t, dir, n)
	files, err := dataset.FindFiles(dir, "npz")
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	ds := &dataset.Dataset{}
	for _, path := range files {
		ds.Clips = append(ds.Clips, dataset.Clip{
			SpectPath:   path,
			AnnotPath:   dataset.AnnotPathFor(path),
			AnnotFormat: dataset.AnnotFormatCSV,
			Duration:    clipTimebins * clipTimebinDur,
			TimebinDur:  clipTimebinDur,
			Split:       split,
		})
	}
	csvPath := filepath.Join(dir, "dataset.csv")
	if err := ds.WriteCSV(csvPath); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	return csvPath
}

func writeLabelmap(t *testing.T, path string, labelset []string, unlabeled bool) {
	t.Helper()
	lm, err := labels.ToMap(labelset, unlabeled)
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	if err := lm.Save(path); err != nil {
		t.Fatalf("save labelmap: %v", err)
	}
}

func evalConfig(t *testing.T, labelset []string) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	csvPath := writeDataset(t, filepath.Join(base, "data"), 2, dataset.SplitTest)
	labelmapPath := filepath.Join(base, "labelmap.json")
	writeLabelmap(t, labelmapPath, labelset, true)
	cfg.DataLoader.WindowSize = 20
	cfg.Eval = &config.Eval{
		Models:         []string{"TweetyNet"},
		CSVPath:        csvPath,
		CheckpointPath: filepath.Join(base, "max-val-acc.pt"),
		LabelmapPath:   labelmapPath,
		OutputDir:      filepath.Join(base, "eval"),
		BatchSize:      4,
		Device:         "cpu",
	}
	return cfg
}

func TestEvalWritesMetrics(t *testing.T) {
	cfg := evalConfig(t, []string{"a", "b"})
	fake := &fakeRunner{}

	res, err := newEngine(t, cfg, fake).Eval(context.Background())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	jobs := fake.Jobs()
	if len(jobs) != 1 || jobs[0].Command != runner.CommandEval {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].CheckpointPath != cfg.Eval.CheckpointPath || jobs[0].LabelmapPath != cfg.Eval.LabelmapPath {
		t.Fatalf("eval job paths not wired: %+v", jobs[0])
	}
	if !strings.HasPrefix(res.ResultsDir, cfg.Eval.OutputDir) {
		t.Fatalf("results dir %q outside output dir", res.ResultsDir)
	}

	data, err := os.ReadFile(filepath.Join(res.Models[0].Dir, engine.MetricsFileName))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	want := "split,metric,value\ntest,acc,0.8\ntest,segment_error_rate,0.25\n"
	if string(data) != want {
		t.Fatalf("metrics.csv = %q, want %q", data, want)
	}

	list := listRuns(t, cfg.Eval.OutputDir)
	if len(list) != 1 || list[0].Command != "eval" || list[0].Status != runs.StatusCompleted {
		t.Fatalf("runs = %+v", list)
	}
}

func TestEvalRejectsUnmappedLabels(t *testing.T) {
	cfg := evalConfig(t, []string{"a"})

	_, err := newEngine(t, cfg, &fakeRunner{}).Eval(context.Background())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEvalRequiresTestSplit(t *testing.T) {
	cfg := evalConfig(t, []string{"a", "b"})
	cfg.Eval.CSVPath = writeDataset(t, filepath.Join(testsupport.BaseDir(cfg), "train-only"), 1, dataset.SplitTrain)

	_, err := newEngine(t, cfg, &fakeRunner{}).Eval(context.Background())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
