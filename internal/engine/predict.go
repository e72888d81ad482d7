package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/labels"
	"vak/internal/logging"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
)

// PredictResult describes finished inference.
type PredictResult struct {
	ResultsDir string
	// AnnotPaths maps each model to the annotation CSV written for it.
	AnnotPaths map[string]string
	Models     []ModelResult
}

// Predict runs PREDICT.checkpoint_path over the dataset and converts the
// predicted frame classes into an annotation CSV.
func (e *Engine) Predict(ctx context.Context) (*PredictResult, error) {
	pc := e.cfg.Predict
	if pc == nil {
		return nil, services.Wrap(services.ErrConfiguration, "predict", "", "config has no PREDICT section", nil)
	}
	if err := e.preflight("predict"); err != nil {
		return nil, err
	}
	ds, err := loadDataset(config.SectionPredict, pc.CSVPath)
	if err != nil {
		return nil, err
	}
	clips := ds.Split(dataset.SplitPredict)
	if clips.Len() == 0 {
		clips = ds
	}
	lm, err := labels.Load(pc.LabelmapPath)
	if err != nil {
		return nil, err
	}
	outDir := pc.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(pc.CSVPath)
	}

	rd, err := e.createResultsDir(outDir)
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

	opts := labels.SegmentOptions{Unlabeled: -1, MajorityVote: pc.MajorityVote}
	if pc.MinSegmentDur != nil {
		opts.MinSegmentDur = *pc.MinSegmentDur
	}
	if lm.HasUnlabeledClass() {
		opts.Unlabeled = lm[labels.Unlabeled]
	} else if opts.MajorityVote || opts.MinSegmentDur > 0 {
		logging.WarnWithContext(logger, "segment cleanup disabled", "cleanup_disabled",
			logging.String("reason", "labelmap has no unlabeled class"),
			logging.String(logging.FieldImpact, "majority_vote and min_segment_dur are ignored"),
			logging.String(logging.FieldErrorHint, "train with a dataset whose annotations leave gaps between segments"),
		)
		opts.MajorityVote, opts.MinSegmentDur = false, 0
	}

	result := &PredictResult{ResultsDir: rd.Path, AnnotPaths: map[string]string{}}
	for _, model := range pc.Models {
		mr := ModelResult{Model: model, Dir: filepath.Join(rd.Path, model)}
		annotName := pc.AnnotCSVName()
		if len(pc.Models) > 1 {
			annotName = model + "." + annotName
		}
		annotPath := filepath.Join(outDir, annotName)
		run, err := e.track(ctx, outDir, "predict", model, func(ctx context.Context, run *runs.Run) (map[string]map[string]float64, error) {
			run.ResultsDir = mr.Dir
			job := runner.Job{
				Command:         runner.CommandPredict,
				Model:           model,
				ModelConfig:     e.modelConfig(model),
				DatasetPath:     pc.CSVPath,
				ResultsDir:      mr.Dir,
				LabelmapPath:    pc.LabelmapPath,
				SpectScalerPath: pc.SpectScalerPath,
				CheckpointPath:  pc.CheckpointPath,
				WindowSize:      e.cfg.DataLoader.WindowSize,
				SpectKeys:       e.jobSpectKeys(),
				BatchSize:       pc.BatchSize,
				NumWorkers:      pc.NumWorkers,
				Device:          pc.Device,
				SaveNetOutputs:  pc.SaveNetOutputs,
			}
			modelLogger := logging.WithContext(ctx, logger)
			res, err := e.runJob(ctx, modelLogger, job, "predict "+model)
			if err != nil {
				return nil, err
			}
			segments, err := e.predictionSegments(modelLogger, clips, res.Predictions, lm, opts)
			if err != nil {
				return nil, err
			}
			keys := make([]string, clips.Len())
			for i, clip := range clips.Clips {
				keys[i] = clip.AnnotKey()
			}
			if err := dataset.WriteAnnotations(annotPath, keys, segments); err != nil {
				return nil, err
			}
			total := 0
			for _, segs := range segments {
				total += len(segs)
			}
			modelLogger.Info("annotations written",
				logging.String("path", annotPath),
				logging.Int("clips", clips.Len()),
				logging.Int("segments", total),
				logging.String(logging.FieldEventType, "predict_complete"),
			)
			return map[string]map[string]float64{
				dataset.SplitPredict: {"clips": float64(clips.Len()), "segments": float64(total)},
			}, nil
		})
		if run != nil {
			mr.RunID = run.ID
		}
		if err != nil {
			return result, err
		}
		result.AnnotPaths[model] = annotPath
		result.Models = append(result.Models, mr)
	}
	return result, nil
}

// predictionSegments matches predictions to clips and converts each into
// segments, in clip order.
func (e *Engine) predictionSegments(logger *slog.Logger, clips *dataset.Dataset, predictions []runner.Prediction, lm labels.Labelmap, opts labels.SegmentOptions) ([][]dataset.Segment, error) {
	index := make(map[string]int, 2*clips.Len())
	for i, clip := range clips.Clips {
		index[clip.Source()] = i
		index[filepath.Base(clip.Source())] = i
		if clip.AudioPath != "" {
			index[clip.AudioPath] = i
			index[filepath.Base(clip.AudioPath)] = i
		}
	}
	out := make([][]dataset.Segment, clips.Len())
	seen := make([]bool, clips.Len())
	for _, pred := range predictions {
		i, ok := index[pred.Source]
		if !ok {
			i, ok = index[filepath.Base(pred.Source)]
		}
		if !ok {
			return nil, services.Wrap(services.ErrExternalTool, "predict", "match predictions",
				fmt.Sprintf("prediction for %s matches no clip in the dataset", pred.Source), nil)
		}
		clip := clips.Clips[i]
		segs, err := labels.ToSegments(pred.Frames, e.timebinsFor(clip, len(pred.Frames)), lm, opts)
		if err != nil {
			return nil, fmt.Errorf("segments for %s: %w", clip.Source(), err)
		}
		out[i] = segs
		seen[i] = true
	}
	for i, ok := range seen {
		if !ok {
			logging.WarnWithContext(logger, "no prediction received for clip", "prediction_missing",
				logging.String("clip", clips.Clips[i].Source()),
				logging.String(logging.FieldImpact, "clip has no rows in the annotation CSV"),
			)
		}
	}
	return out, nil
}

// timebinsFor returns the bin times of a clip's frames: the spectrogram's
// own time vector when it matches, otherwise evenly spaced bins.
func (e *Engine) timebinsFor(clip dataset.Clip, n int) []float64 {
	if clip.SpectPath != "" {
		spect, err := dataset.LoadSpect(clip.SpectPath, spectFormat(clip.SpectPath), e.spectKeys())
		if err == nil && len(spect.T) == n {
			return spect.T
		}
	}
	return labels.TimebinVector(n, clip.TimebinDur)
}
