package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
	"vak/internal/testsupport"
)

// framesWith returns clipTimebins frames of class 0 with the given classes
// written over [start, end) ranges.
func framesWith(spans ...[3]int) []int {
	frames := make([]int, clipTimebins)
	for _, s := range spans {
		for i := s[0]; i < s[1]; i++ {
			frames[i] = s[2]
		}
	}
	return frames
}

func predictConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	csvPath := writeDataset(t, filepath.Join(base, "data"), 2, dataset.SplitPredict)
	labelmapPath := filepath.Join(base, "labelmap.json")
	writeLabelmap(t, labelmapPath, []string{"a", "b"}, true)
	cfg.DataLoader.WindowSize = 20
	cfg.Predict = &config.Predict{
		Models:         []string{"TweetyNet"},
		CSVPath:        csvPath,
		CheckpointPath: filepath.Join(base, "max-val-acc.pt"),
		LabelmapPath:   labelmapPath,
		OutputDir:      filepath.Join(base, "predict"),
		BatchSize:      4,
		Device:         "cpu",
	}
	return cfg
}

func TestPredictWritesAnnotations(t *testing.T) {
	cfg := predictConfig(t)
	fake := &fakeRunner{predictions: []runner.Prediction{
		{Source: "bird00.wav.npz", Frames: framesWith([3]int{10, 20, 1}, [3]int{50, 60, 2})},
		{Source: "bird01.wav.npz", Frames: framesWith([3]int{30, 40, 2})},
	}}

	res, err := newEngine(t, cfg, fake).Predict(context.Background())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	annotPath := res.AnnotPaths["TweetyNet"]
	if annotPath != filepath.Join(cfg.Predict.OutputDir, "dataset.annot.csv") {
		t.Fatalf("annotation path = %q", annotPath)
	}
	if jobs := fake.Jobs(); len(jobs) != 1 || jobs[0].Command != runner.CommandPredict {
		t.Fatalf("jobs = %+v", jobs)
	}

	got, err := dataset.ReadAnnotations(annotPath)
	if err != nil {
		t.Fatalf("ReadAnnotations: %v", err)
	}
	tbd := clipTimebinDur
	first := got["bird00.wav"]
	if len(first) != 2 {
		t.Fatalf("bird00 segments = %+v", first)
	}
	if first[0].Label != "a" || first[0].Onset != float64(10)*tbd || first[0].Offset != float64(19)*tbd {
		t.Fatalf("first segment = %+v", first[0])
	}
	if first[1].Label != "b" || first[1].Onset != float64(50)*tbd {
		t.Fatalf("second segment = %+v", first[1])
	}
	if second := got["bird01.wav"]; len(second) != 1 || second[0].Label != "b" {
		t.Fatalf("bird01 segments = %+v", second)
	}

	list := listRuns(t, cfg.Predict.OutputDir)
	if len(list) != 1 || list[0].Command != "predict" || list[0].Status != runs.StatusCompleted {
		t.Fatalf("runs = %+v", list)
	}
	if list[0].Metrics[dataset.SplitPredict]["segments"] != 3 {
		t.Fatalf("predict metrics = %v", list[0].Metrics)
	}
}

func TestPredictRejectsUnknownSource(t *testing.T) {
	cfg := predictConfig(t)
	fake := &fakeRunner{predictions: []runner.Prediction{
		{Source: "elsewhere.npz", Frames: framesWith()},
	}}

	_, err := newEngine(t, cfg, fake).Predict(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	list := listRuns(t, cfg.Predict.OutputDir)
	if len(list) != 1 || list[0].Status != runs.StatusFailed {
		t.Fatalf("expected a failed run, got %+v", list)
	}
}
