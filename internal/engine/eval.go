package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/labels"
	"vak/internal/logging"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
)

// EvalResult describes a finished evaluation.
type EvalResult struct {
	ResultsDir string
	Models     []ModelResult
}

// Eval evaluates EVAL.checkpoint_path on the test split of the dataset.
func (e *Engine) Eval(ctx context.Context) (*EvalResult, error) {
	ec := e.cfg.Eval
	if ec == nil {
		return nil, services.Wrap(services.ErrConfiguration, "eval", "", "config has no EVAL section", nil)
	}
	if err := e.preflight("eval"); err != nil {
		return nil, err
	}
	ds, err := loadDataset(config.SectionEval, ec.CSVPath)
	if err != nil {
		return nil, err
	}
	test, err := requireSplit(ds, config.SectionEval, dataset.SplitTest)
	if err != nil {
		return nil, err
	}
	lm, err := labels.Load(ec.LabelmapPath)
	if err != nil {
		return nil, err
	}
	if err := checkLabelsMapped(test, lm); err != nil {
		return nil, err
	}

	rd, err := e.createResultsDir(ec.OutputDir)
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
	logger.Info("evaluation started",
		logging.String("results_dir", rd.Path),
		logging.String("checkpoint", ec.CheckpointPath),
		logging.Int("test_clips", test.Len()),
	)

	result := &EvalResult{ResultsDir: rd.Path}
	for _, model := range ec.Models {
		mr := ModelResult{Model: model, Dir: filepath.Join(rd.Path, model)}
		run, err := e.track(ctx, ec.OutputDir, "eval", model, func(ctx context.Context, run *runs.Run) (map[string]map[string]float64, error) {
			run.ResultsDir = mr.Dir
			job := runner.Job{
				Command:         runner.CommandEval,
				Model:           model,
				ModelConfig:     e.modelConfig(model),
				DatasetPath:     ec.CSVPath,
				ResultsDir:      mr.Dir,
				LabelmapPath:    ec.LabelmapPath,
				SpectScalerPath: ec.SpectScalerPath,
				CheckpointPath:  ec.CheckpointPath,
				WindowSize:      e.cfg.DataLoader.WindowSize,
				SpectKeys:       e.jobSpectKeys(),
				BatchSize:       ec.BatchSize,
				NumWorkers:      ec.NumWorkers,
				Device:          ec.Device,
			}
			res, err := e.runJob(ctx, logging.WithContext(ctx, logger), job, "eval "+model)
			if err != nil {
				return nil, err
			}
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

// checkLabelsMapped fails when ds holds labels the labelmap has no class for.
func checkLabelsMapped(ds *dataset.Dataset, lm labels.Labelmap) error {
	for _, clip := range ds.Clips {
		for _, seg := range clip.Segments {
			if _, ok := lm[seg.Label]; !ok {
				return services.Wrap(services.ErrValidation, "eval", "check labels",
					fmt.Sprintf("%s has label %q that is not in the labelmap", clip.Source(), seg.Label), nil)
			}
		}
	}
	return nil
}
