package split

import (
	"vak/internal/dataset"
)

// Dataset assigns the split of every clip in ds. Clips left out of every
// split are marked dataset.SplitNone. Durations must already be validated
// against ds.TotalDuration.
func Dataset(ds *dataset.Dataset, labelset []string, durations Durations, opts Options) (Result, error) {
	result, err := Indices(ds.Durations(), ds.Labels(), labelset, durations, opts)
	if err != nil {
		return Result{}, err
	}
	for i := range ds.Clips {
		ds.Clips[i].Split = dataset.SplitNone
	}
	assign := func(indices []int, name string) {
		for _, idx := range indices {
			ds.Clips[idx].Split = name
		}
	}
	assign(result.Train, dataset.SplitTrain)
	assign(result.Val, dataset.SplitVal)
	assign(result.Test, dataset.SplitTest)
	return result, nil
}
