package labels_test

import (
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"vak/internal/dataset"
	"vak/internal/labels"
)

func TestToMap(t *testing.T) {
	got, err := labels.ToMap([]string{"c", "a", "b"}, true)
	if err != nil {
		t.Fatalf("ToMap returned error: %v", err)
	}
	want := labels.Labelmap{"unlabeled": 0, "a": 1, "b": 2, "c": 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	plain, err := labels.ToMap([]string{"b", "a"}, false)
	if err != nil {
		t.Fatalf("ToMap returned error: %v", err)
	}
	if !reflect.DeepEqual(plain, labels.Labelmap{"a": 0, "b": 1}) || plain.HasUnlabeledClass() {
		t.Fatalf("unexpected labelmap %v", plain)
	}

	if _, err := labels.ToMap(nil, true); err == nil {
		t.Fatal("expected error for empty labelset")
	}
	if _, err := labels.ToMap([]string{"a", "a"}, false); err == nil {
		t.Fatal("expected error for duplicate label")
	}
}

func TestLabelmapSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "labelmap.json")
	m, err := labels.ToMap([]string{"i", "a", "b"}, true)
	if err != nil {
		t.Fatalf("ToMap returned error: %v", err)
	}
	if err := m.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	loaded, err := labels.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(loaded, m) {
		t.Fatalf("loaded %v, want %v", loaded, m)
	}
	if got := loaded.Labels(); !reflect.DeepEqual(got, []string{"unlabeled", "a", "b", "i"}) {
		t.Fatalf("Labels = %v", got)
	}
}

func TestMultiCharToSingle(t *testing.T) {
	m := labels.Labelmap{"unlabeled": 0, "a": 1, "bb": 2, "cc": 3}
	single, replaced := m.MultiCharToSingle()
	if len(single) != len(m) {
		t.Fatalf("expected %d labels, got %v", len(m), single)
	}
	if single["unlabeled"] != 0 || single["a"] != 1 {
		t.Fatalf("single-character labels changed: %v", single)
	}
	for _, old := range []string{"bb", "cc"} {
		r, ok := replaced[old]
		if !ok || len([]rune(r)) != 1 || r == "a" {
			t.Fatalf("bad replacement for %q: %q", old, r)
		}
		if single[r] != m[old] {
			t.Fatalf("replacement %q has class %d, want %d", r, single[r], m[old])
		}
	}
	if replaced["bb"] == replaced["cc"] {
		t.Fatalf("replacements collide: %v", replaced)
	}
}

func TestLabelTimebins(t *testing.T) {
	m := labels.Labelmap{"unlabeled": 0, "a": 1, "b": 2}
	timebins := labels.TimebinVector(10, 0.1)
	segs := []dataset.Segment{
		{Onset: 0.1, Offset: 0.3, Label: "a"},
		{Onset: 0.61, Offset: 0.79, Label: "b"},
	}
	got, err := labels.LabelTimebins(segs, m, timebins, 0)
	if err != nil {
		t.Fatalf("LabelTimebins returned error: %v", err)
	}
	want := []int{0, 1, 1, 1, 0, 0, 2, 2, 2, 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := labels.LabelTimebins([]dataset.Segment{{Onset: 0, Offset: 0.1, Label: "z"}}, m, timebins, 0); err == nil {
		t.Fatal("expected error for label missing from labelmap")
	}
}

func TestHasUnlabeled(t *testing.T) {
	full := []dataset.Segment{{Onset: 0, Offset: 0.9, Label: "a"}}
	if labels.HasUnlabeled(full, 1.0, 0.1) {
		t.Fatal("fully covered clip reported unlabeled frames")
	}
	gap := []dataset.Segment{{Onset: 0, Offset: 0.3, Label: "a"}, {Onset: 0.6, Offset: 0.9, Label: "b"}}
	if !labels.HasUnlabeled(gap, 1.0, 0.1) {
		t.Fatal("gap between segments not detected")
	}
	if !labels.HasUnlabeled(nil, 1.0, 0.1) {
		t.Fatal("clip without segments not reported")
	}
}

func TestToSegments(t *testing.T) {
	m := labels.Labelmap{"unlabeled": 0, "a": 1, "b": 2}
	timebins := labels.TimebinVector(12, 0.01)

	tests := []struct {
		name   string
		frames []int
		opts   labels.SegmentOptions
		want   []dataset.Segment
	}{
		{
			name:   "plain",
			frames: []int{0, 1, 1, 1, 0, 2, 2, 0, 0, 1, 0, 0},
			want: []dataset.Segment{
				{Onset: 0.01, Offset: 0.03, Label: "a"},
				{Onset: 0.05, Offset: 0.06, Label: "b"},
				{Onset: 0.09, Offset: 0.09, Label: "a"},
			},
		},
		{
			name:   "min segment duration",
			frames: []int{0, 1, 1, 1, 0, 2, 2, 0, 0, 1, 0, 0},
			opts:   labels.SegmentOptions{MinSegmentDur: 0.025},
			want:   []dataset.Segment{{Onset: 0.01, Offset: 0.03, Label: "a"}},
		},
		{
			name:   "majority vote",
			frames: []int{0, 1, 1, 2, 1, 0, 2, 2, 1, 0, 0, 0},
			opts:   labels.SegmentOptions{MajorityVote: true},
			want: []dataset.Segment{
				{Onset: 0.01, Offset: 0.04, Label: "a"},
				{Onset: 0.06, Offset: 0.08, Label: "b"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := labels.ToSegments(tt.frames, timebins, m, tt.opts)
			if err != nil {
				t.Fatalf("ToSegments returned error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Label != tt.want[i].Label ||
					math.Abs(got[i].Onset-tt.want[i].Onset) > 1e-9 ||
					math.Abs(got[i].Offset-tt.want[i].Offset) > 1e-9 {
					t.Fatalf("segment %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestToSegmentsRoundTrip(t *testing.T) {
	m := labels.Labelmap{"unlabeled": 0, "a": 1, "b": 2}
	timebins := labels.TimebinVector(20, 0.005)
	segs := []dataset.Segment{
		{Onset: 0.01, Offset: 0.03, Label: "a"},
		{Onset: 0.05, Offset: 0.08, Label: "b"},
	}
	frames, err := labels.LabelTimebins(segs, m, timebins, 0)
	if err != nil {
		t.Fatalf("LabelTimebins returned error: %v", err)
	}
	got, err := labels.ToSegments(frames, timebins, m, labels.SegmentOptions{})
	if err != nil {
		t.Fatalf("ToSegments returned error: %v", err)
	}
	if len(got) != 2 || got[0].Label != "a" || got[1].Label != "b" {
		t.Fatalf("unexpected segments %+v", got)
	}
	for i := range got {
		if math.Abs(got[i].Onset-segs[i].Onset) > 1e-9 || math.Abs(got[i].Offset-segs[i].Offset) > 1e-9 {
			t.Fatalf("segment %d = %+v, want %+v", i, got[i], segs[i])
		}
	}
}

func TestToSegmentsLengthMismatch(t *testing.T) {
	if _, err := labels.ToSegments([]int{0, 1}, []float64{0}, labels.Labelmap{"a": 1}, labels.SegmentOptions{}); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}
