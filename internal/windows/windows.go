// Package windows indexes the fixed-width windows a segmenting network is
// trained on. The time bins of every clip in a split are laid end to end; a
// window may start at any bin whose window stays inside one clip.
package windows

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"vak/internal/dataset"
)

// FileName is the name vectors are saved under in a results directory.
const FileName = "windows.json"

// ErrCropCoverage reports that no crop of the requested duration kept every
// class.
var ErrCropCoverage = errors.New("could not crop to the requested duration while keeping every class")

// Vectors index the concatenated time bins of a split.
type Vectors struct {
	WindowSize int `json:"window_size"`
	// SourceID is the clip index of every time bin.
	SourceID []int `json:"source_id"`
	// SourceIndex is the position of every time bin within its clip.
	SourceIndex []int `json:"source_index"`
	// ValidStarts are the bins where a window of WindowSize fits in one clip.
	ValidStarts []int `json:"valid_starts"`
}

// FromDataset builds vectors for the clips of ds in order.
func FromDataset(ds *dataset.Dataset, windowSize int) (*Vectors, error) {
	counts := make([]int, ds.Len())
	for i, clip := range ds.Clips {
		counts[i] = clip.NumTimebins()
		if counts[i] == 0 {
			return nil, fmt.Errorf("clip %s has no time bins", clip.Source())
		}
	}
	return FromCounts(counts, windowSize)
}

// FromCounts builds vectors from the number of time bins of each clip.
func FromCounts(counts []int, windowSize int) (*Vectors, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	v := &Vectors{WindowSize: windowSize}
	for id, n := range counts {
		for i := range n {
			v.SourceID = append(v.SourceID, id)
			v.SourceIndex = append(v.SourceIndex, i)
		}
	}
	v.ValidStarts = validStarts(v.SourceID, windowSize)
	if len(v.ValidStarts) == 0 {
		return nil, fmt.Errorf("no clip is at least %d time bins long", windowSize)
	}
	return v, nil
}

// Len is the number of time bins indexed.
func (v *Vectors) Len() int {
	return len(v.SourceID)
}

func validStarts(sourceID []int, windowSize int) []int {
	var out []int
	for i := range sourceID {
		end := i + windowSize - 1
		if end >= len(sourceID) {
			break
		}
		if sourceID[end] == sourceID[i] {
			out = append(out, i)
		}
	}
	return out
}

// Crop shortens the vectors to cropDur seconds while every class in classes
// still appears in frameLabels over the kept bins. The head of the split is
// tried first, then the tail, then windows stepping through the middle.
func (v *Vectors) Crop(cropDur, timebinDur float64, frameLabels, classes []int) error {
	if len(frameLabels) != v.Len() {
		return fmt.Errorf("got %d frame labels for %d time bins", len(frameLabels), v.Len())
	}
	if timebinDur <= 0 {
		return fmt.Errorf("time bin duration must be positive, got %v", timebinDur)
	}
	n := int(math.Round(cropDur / timebinDur))
	if n > v.Len() {
		return fmt.Errorf("crop duration %.3f s is longer than the split (%.3f s)", cropDur, float64(v.Len())*timebinDur)
	}
	if n == v.Len() {
		return nil
	}

	starts := []int{0, v.Len() - n}
	for s := v.WindowSize; s < v.Len()-n; s += v.WindowSize {
		starts = append(starts, s)
	}
	for _, start := range starts {
		if !coversClasses(frameLabels[start:start+n], classes) {
			continue
		}
		v.SourceID = slices.Clone(v.SourceID[start : start+n])
		v.SourceIndex = slices.Clone(v.SourceIndex[start : start+n])
		v.ValidStarts = validStarts(v.SourceID, v.WindowSize)
		if len(v.ValidStarts) == 0 {
			return fmt.Errorf("cropped split has no window of %d time bins inside one clip", v.WindowSize)
		}
		return nil
	}
	return fmt.Errorf("%w (%.3f s)", ErrCropCoverage, cropDur)
}

func coversClasses(frames, classes []int) bool {
	present := map[int]struct{}{}
	for _, f := range frames {
		present[f] = struct{}{}
	}
	for _, c := range classes {
		if _, ok := present[c]; !ok {
			return false
		}
	}
	return true
}

// Save writes the vectors as JSON.
func (v *Vectors) Save(path string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode window vectors: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create window vectors directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write window vectors: %w", err)
	}
	return nil
}

// Load reads vectors written by Save.
func Load(path string) (*Vectors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read window vectors: %w", err)
	}
	var v Vectors
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode window vectors %s: %w", path, err)
	}
	if len(v.SourceID) != len(v.SourceIndex) {
		return nil, fmt.Errorf("window vectors %s: source id and index lengths differ", path)
	}
	return &v, nil
}
