package engine

import (
	"context"
	"path/filepath"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/logging"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
)

// ModelResult is the outcome of one model's job.
type ModelResult struct {
	Model       string
	RunID       string
	Dir         string
	Checkpoints []string
	Metrics     map[string]map[string]float64
}

// TrainResult describes a finished training run.
type TrainResult struct {
	ResultsDir      string
	LabelmapPath    string
	SpectScalerPath string
	Models          []ModelResult
}

// Train trains every model listed in TRAIN.models on the train split of the
// dataset, validating on the val split when it has clips.
func (e *Engine) Train(ctx context.Context) (*TrainResult, error) {
	tc := e.cfg.Train
	if tc == nil {
		return nil, services.Wrap(services.ErrConfiguration, "train", "", "config has no TRAIN section", nil)
	}
	if err := e.preflight("train"); err != nil {
		return nil, err
	}
	ds, err := loadDataset(config.SectionTrain, tc.CSVPath)
	if err != nil {
		return nil, err
	}
	train, err := requireSplit(ds, config.SectionTrain, dataset.SplitTrain)
	if err != nil {
		return nil, err
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

	_, labelmapPath, err := e.writeLabelmap(train, rd.Path)
	if err != nil {
		return nil, err
	}
	scalerPath, err := e.spectScaler(logger, tc, train, rd.Path)
	if err != nil {
		return nil, err
	}
	windowPaths, err := e.writeWindows(ds, rd.Path, dataset.SplitTrain, dataset.SplitVal)
	if err != nil {
		return nil, err
	}
	logger.Info("training started",
		logging.String("results_dir", rd.Path),
		logging.Int("train_clips", train.Len()),
		logging.Int("val_clips", ds.Split(dataset.SplitVal).Len()),
	)

	result := &TrainResult{ResultsDir: rd.Path, LabelmapPath: labelmapPath, SpectScalerPath: scalerPath}
	for _, model := range tc.Models {
		mr := ModelResult{Model: model, Dir: filepath.Join(rd.Path, model)}
		run, err := e.track(ctx, tc.RootResultsDir, "train", model, func(ctx context.Context, run *runs.Run) (map[string]map[string]float64, error) {
			run.ResultsDir = mr.Dir
			job := e.trainJob(tc, model)
			job.DatasetPath = tc.CSVPath
			job.ResultsDir = mr.Dir
			job.LabelmapPath = labelmapPath
			job.SpectScalerPath = scalerPath
			job.CheckpointPath = tc.CheckpointPath
			job.Windows = windowPaths

			res, err := e.runJob(ctx, logging.WithContext(ctx, logger), job, "train "+model)
			if err != nil {
				return nil, err
			}
			mr.Checkpoints = res.Checkpoints
			mr.Metrics = res.Metrics
			if err := writeMetricsCSV(filepath.Join(mr.Dir, MetricsFileName), res.Metrics); err != nil {
				return nil, err
			}
			return res.Metrics, nil
		})
		if run != nil {
			mr.RunID = run.ID
		}
		if err != nil {
			return result, err
		}
		result.Models = append(result.Models, mr)
	}
	return result, nil
}

// lastCheckpoint returns the final checkpoint a job reported.
func lastCheckpoint(res *runner.Result) string {
	if res == nil || len(res.Checkpoints) == 0 {
		return ""
	}
	return res.Checkpoints[len(res.Checkpoints)-1]
}
