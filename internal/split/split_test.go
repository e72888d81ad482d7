package split_test

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"vak/internal/dataset"
	"vak/internal/split"
)

func ptr(v float64) *float64 { return &v }

func seeded() split.Options {
	return split.Options{Rand: rand.New(rand.NewPCG(7, 11))}
}

func TestValidateDurations(t *testing.T) {
	tests := []struct {
		name             string
		train, val, test *float64
		total            float64
		want             split.Durations
		wantErr          string
	}{
		{name: "train and test", train: ptr(20), test: ptr(5), total: 25, want: split.Durations{Train: 20, Test: 5}},
		{name: "unset becomes zero", train: ptr(10), total: 25, want: split.Durations{Train: 10}},
		{name: "remainder", train: ptr(-1), test: ptr(5), total: 25, want: split.Durations{Train: -1, Test: 5}},
		{name: "only val", val: ptr(5), total: 25, wantErr: "only val_dur"},
		{name: "only val zero", val: ptr(0), total: 25, want: split.Durations{}},
		{name: "nothing set", total: 25, wantErr: "all unset"},
		{name: "only remainder", train: ptr(-1), total: 25, wantErr: "all unset"},
		{name: "negative", train: ptr(-2), test: ptr(5), total: 25, wantErr: "non-negative"},
		{name: "two remainders", train: ptr(-1), test: ptr(-1), val: ptr(2), total: 25, wantErr: "more than one"},
		{name: "exceeds total", train: ptr(20), test: ptr(10), total: 25, wantErr: "more than the dataset total"},
		{name: "others exceed total", train: ptr(-1), test: ptr(30), total: 25, wantErr: "not set to -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := split.ValidateDurations(tt.train, tt.val, tt.test, tt.total)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateDurations returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func uniformClips() ([]float64, [][]string) {
	durs := []float64{5, 5, 5, 5, 5}
	labels := make([][]string, len(durs))
	for i := range labels {
		labels[i] = []string{"a", "b", "c", "d", "e"}
	}
	return durs, labels
}

func mixedClips() ([]float64, [][]string) {
	durs := []float64{3, 2, 1, 3, 2, 3, 2, 1, 3, 2}
	labels := [][]string{
		{"a", "b", "c"}, {"a", "b"}, {"c"}, {"c", "d", "e"}, {"d", "e"},
		{"a", "b", "c"}, {"a", "b"}, {"c"}, {"c", "d", "e"}, {"d", "e"},
	}
	return durs, labels
}

var labelset = []string{"a", "b", "c", "d", "e"}

func assertDisjointAndComplete(t *testing.T, result split.Result, n int) {
	t.Helper()
	seen := map[int]string{}
	for name, indices := range map[string][]int{"train": result.Train, "val": result.Val, "test": result.Test} {
		for _, idx := range indices {
			if idx < 0 || idx >= n {
				t.Fatalf("%s index %d out of range", name, idx)
			}
			if other, ok := seen[idx]; ok {
				t.Fatalf("index %d in both %s and %s", idx, other, name)
			}
			seen[idx] = name
		}
	}
	if len(seen) != n {
		t.Fatalf("expected all %d indices used, got %d", n, len(seen))
	}
}

func sum(durs []float64, indices []int) float64 {
	var total float64
	for _, idx := range indices {
		total += durs[idx]
	}
	return total
}

func TestIndicesUniformClips(t *testing.T) {
	durs, labels := uniformClips()
	result, err := split.Indices(durs, labels, labelset, split.Durations{Train: 20, Test: 5}, seeded())
	if err != nil {
		t.Fatalf("Indices returned error: %v", err)
	}
	assertDisjointAndComplete(t, result, len(durs))
	if sum(durs, result.Train) != 20 || sum(durs, result.Test) != 5 || len(result.Val) != 0 {
		t.Fatalf("unexpected split %+v", result)
	}
}

func TestIndicesMixedClips(t *testing.T) {
	durs, labels := mixedClips()
	tests := []struct {
		name      string
		durations split.Durations
	}{
		{name: "train and test", durations: split.Durations{Train: 18, Test: 4}},
		{name: "train val and test", durations: split.Durations{Train: 14, Val: 4, Test: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := split.Indices(durs, labels, labelset, tt.durations, seeded())
			if err != nil {
				t.Fatalf("Indices returned error: %v", err)
			}
			assertDisjointAndComplete(t, result, len(durs))
			if sum(durs, result.Test) < tt.durations.Test {
				t.Fatalf("test split %v below target %v", sum(durs, result.Test), tt.durations.Test)
			}
		})
	}
}

func TestIndicesLabelCoverageFailure(t *testing.T) {
	durs, labels := mixedClips()
	opts := seeded()
	opts.MaxIter = 200
	_, err := split.Indices(durs, labels, labelset, split.Durations{Train: 16, Val: 2, Test: 4}, opts)
	if !errors.Is(err, split.ErrLabelCoverage) {
		t.Fatalf("expected ErrLabelCoverage, got %v", err)
	}
}

func TestIndicesRemainder(t *testing.T) {
	durs, labels := mixedClips()
	result, err := split.Indices(durs, labels, nil, split.Durations{Train: -1, Test: 4}, seeded())
	if err != nil {
		t.Fatalf("Indices returned error: %v", err)
	}
	assertDisjointAndComplete(t, result, len(durs))
	if sum(durs, result.Test) < 4 {
		t.Fatalf("test split below target: %v", result.Test)
	}
}

func TestIndicesLeavesLeftoversUnassigned(t *testing.T) {
	durs, labels := uniformClips()
	result, err := split.Indices(durs, labels, nil, split.Durations{Train: 5, Test: 5}, seeded())
	if err != nil {
		t.Fatalf("Indices returned error: %v", err)
	}
	if len(result.Train) != 1 || len(result.Test) != 1 {
		t.Fatalf("expected one clip per split, got %+v", result)
	}
}

func TestIndicesDeterministicWithSeed(t *testing.T) {
	durs, labels := mixedClips()
	first, err := split.Indices(durs, labels, labelset, split.Durations{Train: 14, Val: 4, Test: 4}, seeded())
	if err != nil {
		t.Fatalf("Indices returned error: %v", err)
	}
	second, err := split.Indices(durs, labels, labelset, split.Durations{Train: 14, Val: 4, Test: 4}, seeded())
	if err != nil {
		t.Fatalf("Indices returned error: %v", err)
	}
	if !slices.Equal(first.Train, second.Train) || !slices.Equal(first.Val, second.Val) || !slices.Equal(first.Test, second.Test) {
		t.Fatalf("same seed gave different splits: %+v vs %+v", first, second)
	}
}

func TestIndicesLengthMismatch(t *testing.T) {
	if _, err := split.Indices([]float64{1, 2}, [][]string{{"a"}}, nil, split.Durations{Train: 1}, seeded()); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestDatasetAssignsSplitColumn(t *testing.T) {
	durs, labels := mixedClips()
	ds := &dataset.Dataset{}
	for i, dur := range durs {
		clip := dataset.Clip{AudioPath: string(rune('a'+i)) + ".wav", Duration: dur}
		for _, label := range labels[i] {
			clip.Segments = append(clip.Segments, dataset.Segment{Label: label})
		}
		ds.Clips = append(ds.Clips, clip)
	}
	if _, err := split.Dataset(ds, labelset, split.Durations{Train: 18, Test: 4}, seeded()); err != nil {
		t.Fatalf("Dataset returned error: %v", err)
	}
	counts := map[string]int{}
	for _, clip := range ds.Clips {
		counts[clip.Split]++
	}
	if counts[dataset.SplitTrain] == 0 || counts[dataset.SplitTest] == 0 || counts[dataset.SplitTrain]+counts[dataset.SplitTest] != len(durs) {
		t.Fatalf("unexpected split counts %v", counts)
	}
}
