package split

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

// MaxIter is the default number of partitions tried before giving up on
// label coverage.
const MaxIter = 5000

// ErrLabelCoverage reports that no partition found within the iteration limit
// put every label in every split.
var ErrLabelCoverage = errors.New("could not divide the dataset into splits that each contain every label")

const (
	nameTrain = "train"
	nameVal   = "val"
	nameTest  = "test"
)

type target struct {
	name string
	dur  float64
}

// Options tune the search.
type Options struct {
	// Rand drives shuffling and split choice. A time-seeded source is used
	// when nil.
	Rand *rand.Rand
	// MaxIter overrides the attempt limit when positive.
	MaxIter int
}

// Result holds clip indices per split. Indices not present in any split are
// unassigned.
type Result struct {
	Train []int
	Val   []int
	Test  []int
}

func (r Result) byName(name string) []int {
	switch name {
	case nameTrain:
		return r.Train
	case nameVal:
		return r.Val
	default:
		return r.Test
	}
}

// Indices divides clips with the given durations and label sequences into
// splits.
func Indices(durs []float64, labels [][]string, labelset []string, durations Durations, opts Options) (Result, error) {
	if len(durs) != len(labels) {
		return Result{}, fmt.Errorf("got %d durations but %d label sequences", len(durs), len(labels))
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = MaxIter
	}

	for range maxIter {
		result := fill(durs, durations, rng)
		if coversLabels(result, labels, labelset, durations) {
			return result, nil
		}
	}
	return Result{}, fmt.Errorf("%w after %d iterations; try a larger dataset or smaller split durations", ErrLabelCoverage, maxIter)
}

// fill makes one randomized partition.
func fill(durs []float64, durations Durations, rng *rand.Rand) Result {
	candidates := make([]int, len(durs))
	for i := range candidates {
		candidates[i] = i
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	var choices []target
	for _, t := range durations.byName() {
		if t.dur > 0 {
			choices = append(choices, t)
		}
	}
	assigned := map[string][]int{}
	totals := map[string]float64{}

	for len(choices) > 0 && len(candidates) > 0 {
		idx := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		pick := rng.IntN(len(choices))
		chosen := choices[pick]
		assigned[chosen.name] = append(assigned[chosen.name], idx)
		totals[chosen.name] += durs[idx]
		if totals[chosen.name] >= chosen.dur {
			choices = slices.Delete(choices, pick, pick+1)
		}
	}

	if len(candidates) > 0 {
		for _, t := range durations.byName() {
			if t.dur == Remainder {
				assigned[t.name] = append(assigned[t.name], candidates...)
			}
		}
	}
	return Result{
		Train: assigned[nameTrain],
		Val:   assigned[nameVal],
		Test:  assigned[nameTest],
	}
}

func coversLabels(result Result, labels [][]string, labelset []string, durations Durations) bool {
	if len(labelset) == 0 {
		return true
	}
	for _, t := range durations.byName() {
		if t.dur == 0 {
			continue
		}
		seen := map[string]struct{}{}
		for _, idx := range result.byName(t.name) {
			for _, label := range labels[idx] {
				seen[label] = struct{}{}
			}
		}
		for _, label := range labelset {
			if _, ok := seen[label]; !ok {
				return false
			}
		}
	}
	return true
}
