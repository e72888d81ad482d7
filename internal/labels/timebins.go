package labels

import (
	"fmt"
	"math"
	"sort"

	"vak/internal/dataset"
)

// TimebinVector returns n bin times spaced by timebinDur starting at zero.
func TimebinVector(n int, timebinDur float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * timebinDur
	}
	return out
}

// LabelTimebins converts segments into one class per time bin. Bins are
// matched to the nearest onset and offset; the offset bin belongs to the
// segment. Bins outside every segment get unlabeled.
func LabelTimebins(segments []dataset.Segment, labelmap Labelmap, timebins []float64, unlabeled int) ([]int, error) {
	frames := make([]int, len(timebins))
	for i := range frames {
		frames[i] = unlabeled
	}
	if len(timebins) == 0 {
		return frames, nil
	}
	for _, seg := range segments {
		class, ok := labelmap[seg.Label]
		if !ok {
			return nil, fmt.Errorf("label %q is not in the labelmap", seg.Label)
		}
		onset := nearest(timebins, seg.Onset)
		offset := nearest(timebins, seg.Offset)
		for i := onset; i <= offset; i++ {
			frames[i] = class
		}
	}
	return frames, nil
}

// HasUnlabeled reports whether the segments leave any time bin of a clip
// uncovered.
func HasUnlabeled(segments []dataset.Segment, duration, timebinDur float64) bool {
	if timebinDur <= 0 {
		return false
	}
	n := int(math.Round(duration / timebinDur))
	if n == 0 {
		return false
	}
	if len(segments) == 0 {
		return true
	}
	timebins := TimebinVector(n, timebinDur)
	covered := make([]bool, n)
	for _, seg := range segments {
		onset := nearest(timebins, seg.Onset)
		offset := nearest(timebins, seg.Offset)
		for i := onset; i <= offset; i++ {
			covered[i] = true
		}
	}
	for _, c := range covered {
		if !c {
			return true
		}
	}
	return false
}

// nearest returns the index of the bin time closest to v. Ties go to the
// earlier bin.
func nearest(timebins []float64, v float64) int {
	i := sort.SearchFloat64s(timebins, v)
	if i == 0 {
		return 0
	}
	if i == len(timebins) {
		return len(timebins) - 1
	}
	if v-timebins[i-1] <= timebins[i]-v {
		return i - 1
	}
	return i
}
