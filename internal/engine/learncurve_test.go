package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/engine"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
	"vak/internal/testsupport"
	"vak/internal/windows"
)

func learncurveConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	writeClips(t, dataDir, 10)
	cfg := testsupport.NewConfig(t,
		testsupport.WithPrep(dataDir, "npz", []string{"a", "b"}),
		testsupport.WithDurations(testsupport.Float(6), testsupport.Float(2), testsupport.Float(2)),
		testsupport.WithStubbedBinaries(),
	)
	cfg.DataLoader.WindowSize = 20
	cfg.Learncurve = &config.Learncurve{
		Train: config.Train{
			Models:                []string{"TweetyNet"},
			RootResultsDir:        filepath.Join(testsupport.BaseDir(cfg), "results"),
			NumEpochs:             1,
			BatchSize:             4,
			NormalizeSpectrograms: true,
			Device:                "cpu",
		},
		TrainSetDurs:  []float64{1.5, 3},
		NumReplicates: 2,
	}
	writeConfigFile(t, cfg, "[LEARNCURVE]\n")
	if _, err := newEngine(t, cfg, nil).Prep(context.Background()); err != nil {
		t.Fatalf("Prep: %v", err)
	}
	return cfg
}

func TestLearncurveTrainsAndEvaluatesEverySubset(t *testing.T) {
	cfg := learncurveConfig(t)
	fake := &fakeRunner{}

	res, err := newEngine(t, cfg, fake).Learncurve(context.Background())
	if err != nil {
		t.Fatalf("Learncurve: %v", err)
	}

	jobs := fake.Jobs()
	if len(jobs) != 8 {
		t.Fatalf("expected 8 jobs (4 subsets x train+eval), got %d", len(jobs))
	}
	for i, job := range jobs {
		want := runner.CommandTrain
		if i%2 == 1 {
			want = runner.CommandEval
		}
		if job.Command != want {
			t.Fatalf("job %d command = %q, want %q", i, job.Command, want)
		}
	}
	evalJob := jobs[1]
	if evalJob.CheckpointPath != filepath.Join(jobs[0].ResultsDir, "checkpoints", "max-val-acc.pt") {
		t.Fatalf("eval checkpoint = %q", evalJob.CheckpointPath)
	}
	if evalJob.ResultsDir != filepath.Join(jobs[0].ResultsDir, "eval") {
		t.Fatalf("eval results dir = %q", evalJob.ResultsDir)
	}

	subsetDir := filepath.Join(res.ResultsDir, "train_dur_1.5s", "replicate_1")
	mustExist(t, filepath.Join(subsetDir, "train_dur_1.5s_replicate_1.csv"))
	cropped, err := windows.Load(filepath.Join(subsetDir, "train_"+windows.FileName))
	if err != nil {
		t.Fatalf("load subset windows: %v", err)
	}
	if cropped.Len() != 150 {
		t.Fatalf("cropped subset covers %d bins, want 150", cropped.Len())
	}
	mustExist(t, filepath.Join(subsetDir, "TweetyNet", "eval", engine.MetricsFileName))

	points := res.Curves["TweetyNet"]
	if len(points) != 4 {
		t.Fatalf("expected 4 curve points, got %d", len(points))
	}
	if points[0].TrainDur != 1.5 || points[0].Metrics["acc"] != 0.8 {
		t.Fatalf("first point = %+v", points[0])
	}

	summary, err := os.ReadFile(res.SummaryPaths["TweetyNet"])
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(summary)), "\n")
	if len(lines) != 5 || lines[0] != "train_dur,replicate,acc,segment_error_rate" {
		t.Fatalf("summary csv:\n%s", summary)
	}
	mustExist(t, res.PlotPaths["TweetyNet"])

	list := listRuns(t, cfg.Learncurve.RootResultsDir)
	if len(list) != 1 || list[0].Command != "learncurve" || list[0].Status != runs.StatusCompleted {
		t.Fatalf("runs = %+v", list)
	}
	if list[0].Metrics["train_dur_3s"]["acc"] != 0.8 {
		t.Fatalf("run metrics = %v", list[0].Metrics)
	}
}

func TestLearncurveReusesPreviousRunSubsets(t *testing.T) {
	cfg := learncurveConfig(t)
	first, err := newEngine(t, cfg, &fakeRunner{}).Learncurve(context.Background())
	if err != nil {
		t.Fatalf("first Learncurve: %v", err)
	}

	cfg.Learncurve.PreviousRunPath = first.ResultsDir
	later := engine.WithClock(func() time.Time { return fixedNow.Add(time.Hour) })
	second, err := newEngine(t, cfg, &fakeRunner{}, later).Learncurve(context.Background())
	if err != nil {
		t.Fatalf("second Learncurve: %v", err)
	}
	if second.ResultsDir == first.ResultsDir {
		t.Fatal("second run reused the first results directory")
	}

	rel := filepath.Join("train_dur_1.5s", "replicate_2", "train_dur_1.5s_replicate_2.csv")
	if got, want := trainSources(t, filepath.Join(second.ResultsDir, rel)), trainSources(t, filepath.Join(first.ResultsDir, rel)); !slices.Equal(got, want) {
		t.Fatalf("reused subset = %v, want %v", got, want)
	}
}

func TestLearncurveRejectsDurationLongerThanTrainSplit(t *testing.T) {
	cfg := learncurveConfig(t)
	cfg.Learncurve.TrainSetDurs = []float64{60}

	_, err := newEngine(t, cfg, &fakeRunner{}).Learncurve(context.Background())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func trainSources(t *testing.T, csvPath string) []string {
	t.Helper()
	ds, err := dataset.ReadCSV(csvPath)
	if err != nil {
		t.Fatalf("ReadCSV %s: %v", csvPath, err)
	}
	var out []string
	for _, clip := range ds.Split(dataset.SplitTrain).Clips {
		out = append(out, clip.Source())
	}
	return out
}
