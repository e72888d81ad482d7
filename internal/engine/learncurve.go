package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/labels"
	"vak/internal/logging"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
	"vak/internal/split"
	"vak/internal/windows"
)

// CurvePoint is the test performance of one training subset.
type CurvePoint struct {
	TrainDur  float64
	Replicate int
	Dir       string
	Metrics   map[string]float64
}

// LearncurveResult describes a finished learning curve.
type LearncurveResult struct {
	ResultsDir string
	// Curves, SummaryPaths and PlotPaths are keyed by model.
	Curves       map[string][]CurvePoint
	SummaryPaths map[string]string
	PlotPaths    map[string]string
}

// trainSubset is one training set duration and replicate, shared by every
// model of the curve.
type trainSubset struct {
	TrainDur    float64
	Replicate   int
	Dir         string
	CSVPath     string
	WindowsPath string
	ScalerPath  string
}

// Learncurve trains every model on subsets of the train split of increasing
// duration, evaluates each on the test split and summarizes test metrics
// against training set duration.
func (e *Engine) Learncurve(ctx context.Context) (*LearncurveResult, error) {
	lc := e.cfg.Learncurve
	if lc == nil {
		return nil, services.Wrap(services.ErrConfiguration, "learncurve", "", "config has no LEARNCURVE section", nil)
	}
	tc := &lc.Train
	if err := e.preflight("learncurve"); err != nil {
		return nil, err
	}
	ds, err := loadDataset(config.SectionLearncurve, tc.CSVPath)
	if err != nil {
		return nil, err
	}
	train, err := requireSplit(ds, config.SectionLearncurve, dataset.SplitTrain)
	if err != nil {
		return nil, err
	}
	if _, err := requireSplit(ds, config.SectionLearncurve, dataset.SplitTest); err != nil {
		return nil, err
	}
	for _, dur := range lc.TrainSetDurs {
		if dur > train.TotalDuration() {
			return nil, services.Wrap(services.ErrValidation, "learncurve", "check durations",
				fmt.Sprintf("train_set_durs value %g s is longer than the train split (%.3f s)", dur, train.TotalDuration()), nil)
		}
	}

	rd, err := e.createResultsDir(tc.RootResultsDir)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	runLog, err := e.openRunLog(rd.Path)
	if err != nil {
		return nil, err
	}
	defer runLog.Close()
	logger := runLog.Logger

	lm, labelmapPath, err := e.writeLabelmap(train, rd.Path)
	if err != nil {
		return nil, err
	}
	valWindows, err := e.writeWindows(ds, rd.Path, dataset.SplitVal)
	if err != nil {
		return nil, err
	}
	subsets, err := e.learncurveSubsets(logger, ds, train, lm, rd.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("learning curve started",
		logging.String("results_dir", rd.Path),
		logging.Int("subsets", len(subsets)),
		logging.Int("models", len(tc.Models)),
	)

	result := &LearncurveResult{
		ResultsDir:   rd.Path,
		Curves:       map[string][]CurvePoint{},
		SummaryPaths: map[string]string{},
		PlotPaths:    map[string]string{},
	}
	for _, model := range tc.Models {
		var points []CurvePoint
		_, err := e.track(ctx, tc.RootResultsDir, "learncurve", model, func(ctx context.Context, run *runs.Run) (map[string]map[string]float64, error) {
			run.ResultsDir = rd.Path
			modelLogger := logging.WithContext(ctx, logger)
			for _, sub := range subsets {
				point, err := e.learncurvePoint(ctx, modelLogger, tc, model, sub, labelmapPath, valWindows)
				if err != nil {
					return nil, err
				}
				points = append(points, point)
			}
			summaryPath := filepath.Join(rd.Path, model+"_learncurve.csv")
			if err := writeCurveCSV(summaryPath, points); err != nil {
				return nil, err
			}
			result.SummaryPaths[model] = summaryPath
			plotPath := filepath.Join(rd.Path, model+"_learncurve.png")
			if err := plotLearncurve(plotPath, model, points); err != nil {
				logging.WarnWithContext(modelLogger, "learning curve plot not written", "plot_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "summary CSV is still available"),
				)
			} else {
				result.PlotPaths[model] = plotPath
			}
			return curveSummary(points), nil
		})
		result.Curves[model] = points
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// learncurveSubsets draws the training subsets and writes their dataset
// CSV, windows and scaler. With previous_run_path the subsets of that run
// are reused instead of drawing new ones.
func (e *Engine) learncurveSubsets(logger *slog.Logger, ds, train *dataset.Dataset, lm labels.Labelmap, root string) ([]trainSubset, error) {
	lc := e.cfg.Learncurve
	labelset := e.labelsetFor(train)
	heldOut := append(ds.Split(dataset.SplitVal).Clips, ds.Split(dataset.SplitTest).Clips...)

	var out []trainSubset
	for _, dur := range lc.TrainSetDurs {
		for rep := 1; rep <= lc.NumReplicates; rep++ {
			rel := filepath.Join("train_dur_"+formatFloat(dur)+"s", "replicate_"+strconv.Itoa(rep))
			csvName := fmt.Sprintf("train_dur_%ss_replicate_%d.csv", formatFloat(dur), rep)
			sub := trainSubset{TrainDur: dur, Replicate: rep, Dir: filepath.Join(root, rel)}
			sub.CSVPath = filepath.Join(sub.Dir, csvName)

			var subTrain *dataset.Dataset
			if lc.PreviousRunPath != "" {
				prev, err := loadDataset(config.SectionLearncurve, filepath.Join(lc.PreviousRunPath, rel, csvName))
				if err != nil {
					return nil, fmt.Errorf("reuse subset from previous run: %w", err)
				}
				subTrain = prev.Split(dataset.SplitTrain)
			} else {
				res, err := split.Indices(train.Durations(), train.Labels(), labelset, split.Durations{Train: dur}, split.Options{Rand: e.rng})
				if err != nil {
					return nil, fmt.Errorf("train_dur %g s replicate %d: %w", dur, rep, err)
				}
				subTrain = train.Subset(res.Train)
			}
			if subTrain.Len() == 0 {
				return nil, fmt.Errorf("train_dur %g s replicate %d: subset has no clips", dur, rep)
			}

			combined := &dataset.Dataset{Clips: append(append([]dataset.Clip(nil), subTrain.Clips...), heldOut...)}
			if err := combined.WriteCSV(sub.CSVPath); err != nil {
				return nil, err
			}
			var err error
			if sub.WindowsPath, err = e.subsetWindows(logger, subTrain, lm, dur, sub.Dir); err != nil {
				return nil, fmt.Errorf("train_dur %g s replicate %d: %w", dur, rep, err)
			}
			if sub.ScalerPath, err = e.spectScaler(logger, &lc.Train, subTrain, sub.Dir); err != nil {
				return nil, err
			}
			logger.Debug("training subset prepared",
				logging.Float64("train_dur", dur),
				logging.Int("replicate", rep),
				logging.Int("clips", subTrain.Len()),
				logging.Float64("duration", subTrain.TotalDuration()),
			)
			out = append(out, sub)
		}
	}
	return out, nil
}

// subsetWindows writes train windows for a subset, cropped to dur seconds
// when the subset is longer.
func (e *Engine) subsetWindows(logger *slog.Logger, subTrain *dataset.Dataset, lm labels.Labelmap, dur float64, dir string) (string, error) {
	v, err := windows.FromDataset(subTrain, e.cfg.DataLoader.WindowSize)
	if err != nil {
		return "", err
	}
	timebinDur := subTrain.Clips[0].TimebinDur
	if int(math.Round(dur/timebinDur)) < v.Len() {
		unlabeled := -1
		if lm.HasUnlabeledClass() {
			unlabeled = lm[labels.Unlabeled]
		}
		var frames []int
		for _, clip := range subTrain.Clips {
			tb := labels.TimebinVector(clip.NumTimebins(), clip.TimebinDur)
			clipFrames, err := labels.LabelTimebins(clip.Segments, lm, tb, unlabeled)
			if err != nil {
				return "", fmt.Errorf("frame labels for %s: %w", clip.Source(), err)
			}
			frames = append(frames, clipFrames...)
		}
		var classes []int
		for label, class := range lm {
			if label != labels.Unlabeled {
				classes = append(classes, class)
			}
		}
		if err := v.Crop(dur, timebinDur, frames, classes); err != nil {
			if !errors.Is(err, windows.ErrCropCoverage) {
				return "", err
			}
			logging.WarnWithContext(logger, "training subset not cropped", "crop_skipped",
				logging.Float64("train_dur", dur),
				logging.Error(err),
				logging.String(logging.FieldImpact, "subset trains on slightly more than train_dur seconds"),
			)
		}
	}
	path := windowsPath(dir, dataset.SplitTrain)
	if err := v.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// learncurvePoint trains model on one subset and evaluates the final
// checkpoint on the test split.
func (e *Engine) learncurvePoint(ctx context.Context, logger *slog.Logger, tc *config.Train, model string, sub trainSubset, labelmapPath string, valWindows map[string]string) (CurvePoint, error) {
	modelDir := filepath.Join(sub.Dir, model)
	job := e.trainJob(tc, model)
	job.DatasetPath = sub.CSVPath
	job.ResultsDir = modelDir
	job.LabelmapPath = labelmapPath
	job.SpectScalerPath = sub.ScalerPath
	job.CheckpointPath = tc.CheckpointPath
	job.Windows = map[string]string{dataset.SplitTrain: sub.WindowsPath}
	if path, ok := valWindows[dataset.SplitVal]; ok {
		job.Windows[dataset.SplitVal] = path
	}

	label := fmt.Sprintf("%s %ss #%d", model, formatFloat(sub.TrainDur), sub.Replicate)
	trained, err := e.runJob(ctx, logger, job, "train "+label)
	if err != nil {
		return CurvePoint{}, err
	}
	checkpoint := lastCheckpoint(trained)
	if checkpoint == "" {
		return CurvePoint{}, services.Wrap(services.ErrExternalTool, "learncurve", "train "+label, "runner reported no checkpoint", nil)
	}

	evalDir := filepath.Join(modelDir, "eval")
	evaluated, err := e.runJob(ctx, logger, runner.Job{
		Command:         runner.CommandEval,
		Model:           model,
		ModelConfig:     e.modelConfig(model),
		DatasetPath:     sub.CSVPath,
		ResultsDir:      evalDir,
		LabelmapPath:    labelmapPath,
		SpectScalerPath: sub.ScalerPath,
		CheckpointPath:  checkpoint,
		WindowSize:      e.cfg.DataLoader.WindowSize,
		SpectKeys:       e.jobSpectKeys(),
		BatchSize:       tc.BatchSize,
		NumWorkers:      tc.NumWorkers,
		Device:          tc.Device,
	}, "eval "+label)
	if err != nil {
		return CurvePoint{}, err
	}
	if err := writeMetricsCSV(filepath.Join(evalDir, MetricsFileName), evaluated.Metrics); err != nil {
		return CurvePoint{}, err
	}
	logger.Info("learning curve point",
		logging.Float64("train_dur", sub.TrainDur),
		logging.Int("replicate", sub.Replicate),
		logging.String("checkpoint", checkpoint),
	)
	return CurvePoint{
		TrainDur:  sub.TrainDur,
		Replicate: sub.Replicate,
		Dir:       modelDir,
		Metrics:   evaluated.Metrics[dataset.SplitTest],
	}, nil
}

// writeCurveCSV writes one row per point: train_dur, replicate and every
// test metric.
func writeCurveCSV(path string, points []CurvePoint) error {
	names := curveMetricNames(points)
	records := [][]string{append([]string{"train_dur", "replicate"}, names...)}
	for _, pt := range points {
		row := []string{formatFloat(pt.TrainDur), strconv.Itoa(pt.Replicate)}
		for _, name := range names {
			value, ok := pt.Metrics[name]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, formatFloat(value))
		}
		records = append(records, row)
	}
	return writeRecords(path, records)
}

// curveSummary averages metrics across replicates, keyed
// "train_dur_<seconds>s".
func curveSummary(points []CurvePoint) map[string]map[string]float64 {
	out := map[string]map[string]float64{}
	for _, name := range curveMetricNames(points) {
		for _, xy := range meanByDuration(points, name) {
			key := "train_dur_" + formatFloat(xy.X) + "s"
			if out[key] == nil {
				out[key] = map[string]float64{}
			}
			out[key][name] = xy.Y
		}
	}
	return out
}
