package labels

import (
	"fmt"

	"vak/internal/dataset"
)

// SegmentOptions control the conversion of frame classes into segments.
type SegmentOptions struct {
	// Unlabeled is the class of frames outside segments.
	Unlabeled int
	// MinSegmentDur drops segments shorter than this many seconds.
	MinSegmentDur float64
	// MajorityVote relabels every run of labeled frames with its most
	// frequent class.
	MajorityVote bool
}

// ToSegments converts one class per time bin into labeled segments. Onsets
// and offsets are the times of the first and last bin of each segment.
func ToSegments(frames []int, timebins []float64, labelmap Labelmap, opts SegmentOptions) ([]dataset.Segment, error) {
	if len(frames) != len(timebins) {
		return nil, fmt.Errorf("got %d frame labels for %d time bins", len(frames), len(timebins))
	}
	if len(frames) == 0 {
		return nil, nil
	}
	classes := append([]int(nil), frames...)
	timebinDur := 0.0
	if len(timebins) > 1 {
		timebinDur = (timebins[len(timebins)-1] - timebins[0]) / float64(len(timebins)-1)
	}

	if opts.MinSegmentDur > 0 || opts.MajorityVote {
		for _, run := range labeledRuns(classes, opts.Unlabeled) {
			if opts.MinSegmentDur > 0 && float64(run.end-run.start)*timebinDur < opts.MinSegmentDur {
				for i := run.start; i < run.end; i++ {
					classes[i] = opts.Unlabeled
				}
				continue
			}
			if opts.MajorityVote {
				winner := majority(classes[run.start:run.end])
				for i := run.start; i < run.end; i++ {
					classes[i] = winner
				}
			}
		}
	}

	inverse := labelmap.Inverse()
	var out []dataset.Segment
	for start := 0; start < len(classes); {
		end := start + 1
		for end < len(classes) && classes[end] == classes[start] {
			end++
		}
		if classes[start] != opts.Unlabeled {
			label, ok := inverse[classes[start]]
			if !ok {
				return nil, fmt.Errorf("class %d is not in the labelmap", classes[start])
			}
			out = append(out, dataset.Segment{
				Onset:  timebins[start],
				Offset: timebins[end-1],
				Label:  label,
			})
		}
		start = end
	}
	return out, nil
}

type run struct{ start, end int }

// labeledRuns returns maximal runs of frames that are not unlabeled,
// regardless of class changes inside the run.
func labeledRuns(classes []int, unlabeled int) []run {
	var runs []run
	for i := 0; i < len(classes); {
		if classes[i] == unlabeled {
			i++
			continue
		}
		start := i
		for i < len(classes) && classes[i] != unlabeled {
			i++
		}
		runs = append(runs, run{start: start, end: i})
	}
	return runs
}

// majority returns the most frequent class; ties go to the smaller class.
func majority(classes []int) int {
	counts := map[int]int{}
	for _, c := range classes {
		counts[c]++
	}
	best, bestCount := 0, -1
	for c, n := range counts {
		if n > bestCount || (n == bestCount && c < best) {
			best, bestCount = c, n
		}
	}
	return best
}
