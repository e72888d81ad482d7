package engine

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotLearncurve draws the mean of every test metric across replicates
// against training set duration and saves it as PNG.
func plotLearncurve(path, model string, points []CurvePoint) error {
	p := plot.New()
	p.Title.Text = model + " learning curve"
	p.X.Label.Text = "training set duration (s)"
	p.Y.Label.Text = "test metric"
	p.Legend.Top = true

	var lines []any
	for _, name := range curveMetricNames(points) {
		lines = append(lines, name, meanByDuration(points, name))
	}
	if len(lines) == 0 {
		return fmt.Errorf("plot learning curve: no metrics reported")
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return fmt.Errorf("plot learning curve: %w", err)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save learning curve plot: %w", err)
	}
	return nil
}

// meanByDuration averages metric over replicates, one point per duration
// in ascending order.
func meanByDuration(points []CurvePoint, metric string) plotter.XYs {
	sums := map[float64]float64{}
	counts := map[float64]int{}
	for _, pt := range points {
		v, ok := pt.Metrics[metric]
		if !ok {
			continue
		}
		sums[pt.TrainDur] += v
		counts[pt.TrainDur]++
	}
	durs := make([]float64, 0, len(sums))
	for d := range sums {
		durs = append(durs, d)
	}
	sort.Float64s(durs)
	xys := make(plotter.XYs, len(durs))
	for i, d := range durs {
		xys[i].X = d
		xys[i].Y = sums[d] / float64(counts[d])
	}
	return xys
}

func curveMetricNames(points []CurvePoint) []string {
	seen := map[string]struct{}{}
	for _, pt := range points {
		for name := range pt.Metrics {
			seen[name] = struct{}{}
		}
	}
	return sortedKeys(seen)
}
