package transforms

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PadToWindow pads spect on the right with padVal so its width is a multiple
// of windowSize. The returned crop vector has one entry per padded column and
// is true for columns of the original spectrogram.
func PadToWindow(spect mat.Matrix, windowSize int, padVal float64) (*mat.Dense, []bool, error) {
	if windowSize <= 0 {
		return nil, nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	r, c := spect.Dims()
	target := (c + windowSize - 1) / windowSize * windowSize
	if target == 0 {
		target = windowSize
	}
	padded := mat.NewDense(r, target, nil)
	crop := make([]bool, target)
	for i := range r {
		for j := range target {
			if j < c {
				padded.Set(i, j, spect.At(i, j))
				continue
			}
			padded.Set(i, j, padVal)
		}
	}
	for j := range c {
		crop[j] = true
	}
	return padded, crop, nil
}

// ReshapeToWindow splits spect into consecutive windows of windowSize time
// bins. The width must be a multiple of windowSize; pad with PadToWindow
// first.
func ReshapeToWindow(spect mat.Matrix, windowSize int) ([]*mat.Dense, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	r, c := spect.Dims()
	if c%windowSize != 0 {
		return nil, fmt.Errorf("spectrogram width %d is not a multiple of window size %d", c, windowSize)
	}
	dense := mat.DenseCopyOf(spect)
	windows := make([]*mat.Dense, 0, c/windowSize)
	for start := 0; start < c; start += windowSize {
		view := dense.Slice(0, r, start, start+windowSize)
		windows = append(windows, mat.DenseCopyOf(view))
	}
	return windows, nil
}

// Crop keeps the columns of spect marked true in crop.
func Crop(spect mat.Matrix, crop []bool) (*mat.Dense, error) {
	r, c := spect.Dims()
	if len(crop) != c {
		return nil, fmt.Errorf("crop vector has %d entries for %d columns", len(crop), c)
	}
	var keep []int
	for j, ok := range crop {
		if ok {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("crop vector keeps no columns")
	}
	out := mat.NewDense(r, len(keep), nil)
	for i := range r {
		for k, j := range keep {
			out.Set(i, k, spect.At(i, j))
		}
	}
	return out, nil
}
