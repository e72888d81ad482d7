package dataset

import (
	"math"
	"path/filepath"
	"sort"
	"strings"
)

// Split names stored in the split column.
const (
	SplitTrain   = "train"
	SplitVal     = "val"
	SplitTest    = "test"
	SplitPredict = "predict"
	SplitNone    = "None"
)

// Segment is one annotated syllable: onset and offset in seconds plus label.
type Segment struct {
	Onset  float64
	Offset float64
	Label  string
}

// Clip is one row of a dataset.
type Clip struct {
	AudioPath   string
	SpectPath   string
	AnnotPath   string
	AnnotFormat string
	Duration    float64
	TimebinDur  float64
	Split       string

	// Segments are loaded from the annotation and not persisted in the CSV.
	Segments []Segment
}

// Source returns the file the clip was built from, preferring the spectrogram.
func (c Clip) Source() string {
	if c.SpectPath != "" {
		return c.SpectPath
	}
	return c.AudioPath
}

// Labels returns the labels of the clip's segments in order of appearance.
func (c Clip) Labels() []string {
	labels := make([]string, len(c.Segments))
	for i, seg := range c.Segments {
		labels[i] = seg.Label
	}
	return labels
}

// NumTimebins returns how many spectrogram frames the clip spans.
func (c Clip) NumTimebins() int {
	if c.TimebinDur <= 0 {
		return 0
	}
	return int(math.Round(c.Duration / c.TimebinDur))
}

// Dataset is an ordered collection of clips.
type Dataset struct {
	Clips []Clip
}

// Len returns the number of clips.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Clips)
}

// Durations returns the duration of every clip in order.
func (d *Dataset) Durations() []float64 {
	out := make([]float64, len(d.Clips))
	for i, clip := range d.Clips {
		out[i] = clip.Duration
	}
	return out
}

// Labels returns the label sequence of every clip in order.
func (d *Dataset) Labels() [][]string {
	out := make([][]string, len(d.Clips))
	for i, clip := range d.Clips {
		out[i] = clip.Labels()
	}
	return out
}

// TotalDuration sums clip durations.
func (d *Dataset) TotalDuration() float64 {
	var total float64
	for _, clip := range d.Clips {
		total += clip.Duration
	}
	return total
}

// Split returns a dataset holding the clips assigned to name.
func (d *Dataset) Split(name string) *Dataset {
	out := &Dataset{}
	for _, clip := range d.Clips {
		if clip.Split == name {
			out.Clips = append(out.Clips, clip)
		}
	}
	return out
}

// Subset returns a dataset with the clips at the given indices.
func (d *Dataset) Subset(indices []int) *Dataset {
	out := &Dataset{Clips: make([]Clip, 0, len(indices))}
	for _, idx := range indices {
		out.Clips = append(out.Clips, d.Clips[idx])
	}
	return out
}

// SplitSummary describes one split of a dataset.
type SplitSummary struct {
	Name     string
	Clips    int
	Duration float64
	Labels   []string
}

// Splits summarizes every split present, ordered train, val, test, predict,
// then anything else alphabetically.
func (d *Dataset) Splits() []SplitSummary {
	byName := map[string]*SplitSummary{}
	labelSets := map[string]map[string]struct{}{}
	for _, clip := range d.Clips {
		name := clip.Split
		if name == "" {
			name = SplitNone
		}
		summary, ok := byName[name]
		if !ok {
			summary = &SplitSummary{Name: name}
			byName[name] = summary
			labelSets[name] = map[string]struct{}{}
		}
		summary.Clips++
		summary.Duration += clip.Duration
		for _, seg := range clip.Segments {
			labelSets[name][seg.Label] = struct{}{}
		}
	}
	out := make([]SplitSummary, 0, len(byName))
	for name, summary := range byName {
		for label := range labelSets[name] {
			summary.Labels = append(summary.Labels, label)
		}
		sort.Strings(summary.Labels)
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := splitRank(out[i].Name), splitRank(out[j].Name)
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func splitRank(name string) int {
	switch name {
	case SplitTrain:
		return 0
	case SplitVal:
		return 1
	case SplitTest:
		return 2
	case SplitPredict:
		return 3
	default:
		return 4
	}
}

// AnnotKey is the name used to match a clip against rows of a shared
// annotation file: the audio file name, or the spectrogram name with its
// array extension removed ("bird1.wav.npz" -> "bird1.wav").
func (c Clip) AnnotKey() string {
	if c.AudioPath != "" {
		return filepath.Base(c.AudioPath)
	}
	base := filepath.Base(c.SpectPath)
	for _, ext := range []string{".mat", ".npz"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}
