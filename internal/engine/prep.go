package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/logging"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/split"
)

// PrepResult describes a prepared dataset.
type PrepResult struct {
	RunID   string
	CSVPath string
	// Section is the config section csv_path was recorded in.
	Section string
	Dataset *dataset.Dataset
	// Dropped lists clips removed for labels outside the labelset.
	Dropped []string
}

// Prep builds a dataset CSV from PREP.data_dir, assigns splits for the
// command section present in the config and records the CSV path in that
// section of the config file.
func (e *Engine) Prep(ctx context.Context) (*PrepResult, error) {
	p := e.cfg.Prep
	if p == nil {
		return nil, services.Wrap(services.ErrConfiguration, "prep", "", "config has no PREP section", nil)
	}
	section, csvPath, err := prepTarget(e.cfg)
	if err != nil {
		return nil, err
	}
	if csvPath != "" {
		return nil, services.Wrap(services.ErrConfiguration, "prep", "",
			fmt.Sprintf("%s.csv_path is already set to %s; remove it to prepare a new dataset", section, csvPath), nil)
	}
	if err := e.preflight("prep"); err != nil {
		return nil, err
	}

	result := &PrepResult{Section: section}
	run, err := e.track(ctx, p.OutputDir, "prep", "", func(ctx context.Context, run *runs.Run) (map[string]map[string]float64, error) {
		logger := logging.WithContext(ctx, e.logger)
		ds, err := e.buildDataset(ctx, logger)
		if err != nil {
			return nil, err
		}
		if result.Dropped, err = e.filterLabels(logger, ds); err != nil {
			return nil, err
		}
		if err := e.assignSplits(logger, ds, section); err != nil {
			return nil, err
		}

		name := fmt.Sprintf("%s_prep_%s.csv", filepath.Base(p.DataDir), e.now().Format(timestampLayout))
		result.CSVPath = filepath.Join(p.OutputDir, name)
		run.ResultsDir = p.OutputDir
		if err := ds.WriteCSV(result.CSVPath); err != nil {
			return nil, err
		}
		if err := e.recordCSVPath(section, result.CSVPath); err != nil {
			return nil, err
		}
		result.Dataset = ds

		metrics := map[string]map[string]float64{}
		for _, summary := range ds.Splits() {
			metrics[summary.Name] = map[string]float64{
				"clips":    float64(summary.Clips),
				"duration": summary.Duration,
			}
			logger.Info("split prepared",
				logging.String("split", summary.Name),
				logging.String("clips", humanize.Comma(int64(summary.Clips))),
				logging.String("duration", humanize.FtoaWithDigits(summary.Duration, 2)+" s"),
			)
		}
		logger.Info("dataset written",
			logging.String("csv_path", result.CSVPath),
			logging.String("section", section),
			logging.String(logging.FieldEventType, "prep_complete"),
		)
		return metrics, nil
	})
	if run != nil {
		result.RunID = run.ID
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// prepTarget finds the single command section a prepared dataset is for.
func prepTarget(cfg *config.Config) (string, string, error) {
	var (
		sections []string
		csvPath  string
	)
	if cfg.Train != nil {
		sections = append(sections, config.SectionTrain)
		csvPath = cfg.Train.CSVPath
	}
	if cfg.Learncurve != nil {
		sections = append(sections, config.SectionLearncurve)
		csvPath = cfg.Learncurve.CSVPath
	}
	if cfg.Eval != nil {
		sections = append(sections, config.SectionEval)
		csvPath = cfg.Eval.CSVPath
	}
	if cfg.Predict != nil {
		sections = append(sections, config.SectionPredict)
		csvPath = cfg.Predict.CSVPath
	}
	switch len(sections) {
	case 0:
		return "", "", services.Wrap(services.ErrConfiguration, "prep", "",
			"config needs one of TRAIN, LEARNCURVE, EVAL or PREDICT to know what the dataset is for", nil)
	case 1:
		return sections[0], csvPath, nil
	default:
		return "", "", services.Wrap(services.ErrConfiguration, "prep", "",
			fmt.Sprintf("config has sections %v; prep needs exactly one of TRAIN, LEARNCURVE, EVAL or PREDICT", sections), nil)
	}
}

// buildDataset finds the data files and reads their durations and
// annotations.
func (e *Engine) buildDataset(ctx context.Context, logger *slog.Logger) (*dataset.Dataset, error) {
	p := e.cfg.Prep
	ext := p.SpectFormat
	if p.AudioFormat != "" {
		ext = p.AudioFormat
	}
	files, err := dataset.FindFiles(p.DataDir, ext)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrValidation, "prep", "find files",
			fmt.Sprintf("no .%s files found in %s", ext, p.DataDir), nil)
	}
	logger.Info("reading data files", logging.Int("files", len(files)), logging.String("format", ext))

	bar := e.newProgress("reading files", len(files))
	defer bar.finish()
	ds := &dataset.Dataset{Clips: make([]dataset.Clip, 0, len(files))}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prep canceled: %w", err)
		}
		clip, err := e.readClip(path)
		if err != nil {
			return nil, err
		}
		if p.AnnotFormat != "" {
			annotPath := p.AnnotFile
			if annotPath == "" {
				annotPath = dataset.AnnotPathFor(path)
				if _, err := os.Stat(annotPath); errors.Is(err, os.ErrNotExist) {
					return nil, services.Wrap(services.ErrValidation, "prep", "annotations",
						fmt.Sprintf("%s has no annotation file %s", path, annotPath), nil)
				}
			}
			clip.AnnotPath = annotPath
			clip.AnnotFormat = p.AnnotFormat
		}
		ds.Clips = append(ds.Clips, clip)
		bar.add(1)
	}
	if err := ds.LoadAnnotations(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (e *Engine) readClip(path string) (dataset.Clip, error) {
	p := e.cfg.Prep
	if p.AudioFormat != "" {
		info, err := dataset.ReadAudioInfo(path, p.AudioFormat)
		if err != nil {
			return dataset.Clip{}, err
		}
		if info.SampleRate <= 0 {
			return dataset.Clip{}, fmt.Errorf("%s: sample rate is not positive", path)
		}
		return dataset.Clip{
			AudioPath:  path,
			Duration:   info.Duration(),
			TimebinDur: float64(e.cfg.SpectParams.StepSize) / float64(info.SampleRate),
		}, nil
	}
	spect, err := dataset.LoadSpect(path, p.SpectFormat, e.spectKeys())
	if err != nil {
		return dataset.Clip{}, err
	}
	timebinDur, err := spect.TimebinDur()
	if err != nil {
		return dataset.Clip{}, fmt.Errorf("%s: %w", path, err)
	}
	return dataset.Clip{
		SpectPath:  path,
		Duration:   float64(len(spect.T)) * timebinDur,
		TimebinDur: timebinDur,
	}, nil
}

// filterLabels drops clips annotated with labels outside the labelset.
func (e *Engine) filterLabels(logger *slog.Logger, ds *dataset.Dataset) ([]string, error) {
	p := e.cfg.Prep
	if p.AnnotFormat == "" || len(p.Labelset) == 0 {
		return nil, nil
	}
	allowed := make(map[string]struct{}, len(p.Labelset))
	for _, label := range p.Labelset {
		allowed[dataset.NormalizeLabel(label)] = struct{}{}
	}
	var (
		kept    []dataset.Clip
		dropped []string
	)
	for _, clip := range ds.Clips {
		ok := true
		for _, seg := range clip.Segments {
			if _, found := allowed[seg.Label]; !found {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, clip)
		} else {
			dropped = append(dropped, clip.Source())
		}
	}
	if len(dropped) > 0 {
		logging.WarnWithContext(logger, "clips with labels outside the labelset removed", "labels_filtered",
			logging.Int("removed", len(dropped)),
			logging.Int("kept", len(kept)),
			logging.String(logging.FieldImpact, "removed clips are not part of the dataset"),
			logging.String(logging.FieldErrorHint, "add the labels to PREP.labelset to keep those clips"),
		)
	}
	if len(kept) == 0 {
		return dropped, services.Wrap(services.ErrValidation, "prep", "filter labels",
			"every clip has labels outside PREP.labelset", nil)
	}
	ds.Clips = kept
	return dropped, nil
}

// assignSplits sets the split column for the purpose of the dataset.
func (e *Engine) assignSplits(logger *slog.Logger, ds *dataset.Dataset, section string) error {
	p := e.cfg.Prep
	setAll := func(name string) {
		for i := range ds.Clips {
			ds.Clips[i].Split = name
		}
	}
	switch section {
	case config.SectionPredict:
		setAll(dataset.SplitPredict)
		return nil
	case config.SectionEval:
		setAll(dataset.SplitTest)
		return nil
	}
	if p.TrainDur == nil && p.ValDur == nil && p.TestDur == nil {
		setAll(dataset.SplitTrain)
		return nil
	}
	durations, err := split.ValidateDurations(p.TrainDur, p.ValDur, p.TestDur, ds.TotalDuration())
	if err != nil {
		return services.Wrap(services.ErrValidation, "prep", "split", "", err)
	}
	labelset := make([]string, len(p.Labelset))
	for i, label := range p.Labelset {
		labelset[i] = dataset.NormalizeLabel(label)
	}
	result, err := split.Dataset(ds, labelset, durations, split.Options{Rand: e.rng})
	if err != nil {
		return err
	}
	logger.Debug("dataset split",
		logging.Int("train", len(result.Train)),
		logging.Int("val", len(result.Val)),
		logging.Int("test", len(result.Test)),
	)
	return nil
}

// recordCSVPath writes csv_path into the config file and the loaded config.
func (e *Engine) recordCSVPath(section, csvPath string) error {
	if e.cfg.Path != "" {
		if err := config.SetOption(e.cfg.Path, section, "csv_path", csvPath); err != nil {
			return fmt.Errorf("record csv_path: %w", err)
		}
	}
	switch section {
	case config.SectionTrain:
		e.cfg.Train.CSVPath = csvPath
	case config.SectionLearncurve:
		e.cfg.Learncurve.CSVPath = csvPath
	case config.SectionEval:
		e.cfg.Eval.CSVPath = csvPath
	case config.SectionPredict:
		e.cfg.Predict.CSVPath = csvPath
	}
	return nil
}
