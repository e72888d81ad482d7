package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"vak/internal/config"
	"vak/internal/dataset"
	"vak/internal/fileutil"
	"vak/internal/labels"
	"vak/internal/logging"
	"vak/internal/services"
	"vak/internal/services/runner"
	"vak/internal/transforms"
	"vak/internal/windows"
)

// LabelmapFileName is the labelmap written to every training results
// directory.
const LabelmapFileName = "labelmap.json"

// loadDataset reads a prepared dataset CSV and its annotations.
func loadDataset(section, csvPath string) (*dataset.Dataset, error) {
	if csvPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, strings.ToLower(section), "load dataset",
			fmt.Sprintf("%s.csv_path is not set; run `vak prep` with this config first", section), nil)
	}
	ds, err := dataset.ReadCSV(csvPath)
	if err != nil {
		return nil, err
	}
	if err := ds.LoadAnnotations(); err != nil {
		return nil, err
	}
	return ds, nil
}

func requireSplit(ds *dataset.Dataset, section, name string) (*dataset.Dataset, error) {
	sub := ds.Split(name)
	if sub.Len() == 0 {
		return nil, services.Wrap(services.ErrValidation, strings.ToLower(section), "load dataset",
			fmt.Sprintf("dataset has no clips in the %s split", name), nil)
	}
	return sub, nil
}

// labelsetFor returns the PREP labelset when configured, otherwise every
// label annotated in ds.
func (e *Engine) labelsetFor(ds *dataset.Dataset) []string {
	if e.cfg.Prep != nil && len(e.cfg.Prep.Labelset) > 0 {
		out := make([]string, len(e.cfg.Prep.Labelset))
		for i, label := range e.cfg.Prep.Labelset {
			out[i] = dataset.NormalizeLabel(label)
		}
		return out
	}
	seen := map[string]struct{}{}
	for _, clip := range ds.Clips {
		for _, seg := range clip.Segments {
			seen[seg.Label] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// writeLabelmap builds the labelmap for a training split and saves it in
// dir. An unlabeled class is added when any clip has gaps between segments.
func (e *Engine) writeLabelmap(train *dataset.Dataset, dir string) (labels.Labelmap, string, error) {
	mapUnlabeled := false
	for _, clip := range train.Clips {
		if labels.HasUnlabeled(clip.Segments, clip.Duration, clip.TimebinDur) {
			mapUnlabeled = true
			break
		}
	}
	lm, err := labels.ToMap(e.labelsetFor(train), mapUnlabeled)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "labelmap", "build", "", err)
	}
	path := filepath.Join(dir, LabelmapFileName)
	if err := lm.Save(path); err != nil {
		return nil, "", err
	}
	return lm, path, nil
}

// spectScaler returns the scaler a job should use. A configured scaler is
// copied into dir; otherwise one is fitted on the training spectrograms when
// normalization is on. Datasets of audio files cannot be fitted here and get
// no scaler.
func (e *Engine) spectScaler(logger *slog.Logger, tc *config.Train, train *dataset.Dataset, dir string) (string, error) {
	if tc.SpectScalerPath != "" {
		path, err := fileutil.CopyInto(tc.SpectScalerPath, dir)
		if err != nil {
			return "", fmt.Errorf("copy spect scaler: %w", err)
		}
		if _, err := transforms.LoadStandardizeSpect(path); err != nil {
			return "", err
		}
		return path, nil
	}
	if !tc.NormalizeSpectrograms {
		return "", nil
	}
	var fitter transforms.Fitter
	for _, clip := range train.Clips {
		if clip.SpectPath == "" {
			logging.WarnWithContext(logger, "spectrogram normalization skipped", "scaler_skipped",
				logging.String("reason", "dataset clips are audio files"),
				logging.String(logging.FieldImpact, "the framework receives unnormalized spectrograms"),
				logging.String(logging.FieldErrorHint, "prepare spectrogram files or set normalize_spectrograms = false"),
			)
			return "", nil
		}
		spect, err := dataset.LoadSpect(clip.SpectPath, spectFormat(clip.SpectPath), e.spectKeys())
		if err != nil {
			return "", err
		}
		if err := fitter.Add(spect.S); err != nil {
			return "", fmt.Errorf("fit spect scaler on %s: %w", clip.SpectPath, err)
		}
	}
	scaler, err := fitter.Scaler()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, transforms.SpectScalerName)
	if err := scaler.Save(path); err != nil {
		return "", err
	}
	logger.Info("spect scaler fitted",
		logging.Int("clips", train.Len()),
		logging.Int("freq_bins", len(scaler.MeanFreqs)),
		logging.String("path", path),
	)
	return path, nil
}

// windowsPath is where the window vectors of a split are saved in dir.
func windowsPath(dir, split string) string {
	return filepath.Join(dir, split+"_"+windows.FileName)
}

// writeWindows saves window vectors for each named split present in ds.
func (e *Engine) writeWindows(ds *dataset.Dataset, dir string, splits ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, name := range splits {
		sub := ds.Split(name)
		if sub.Len() == 0 {
			continue
		}
		v, err := windows.FromDataset(sub, e.cfg.DataLoader.WindowSize)
		if err != nil {
			return nil, fmt.Errorf("%s windows: %w", name, err)
		}
		path := windowsPath(dir, name)
		if err := v.Save(path); err != nil {
			return nil, err
		}
		out[name] = path
	}
	return out, nil
}

func (e *Engine) spectKeys() dataset.SpectKeys {
	sp := e.cfg.SpectParams
	return dataset.SpectKeys{Spect: sp.SpectKey, Freq: sp.FreqKey, Timebins: sp.TimebinsKey}
}

func (e *Engine) jobSpectKeys() runner.SpectKeys {
	sp := e.cfg.SpectParams
	return runner.SpectKeys{Spect: sp.SpectKey, Freq: sp.FreqKey, Timebins: sp.TimebinsKey}
}

func (e *Engine) modelConfig(model string) map[string]any {
	if e.cfg.Models == nil {
		return nil
	}
	return e.cfg.Models[model]
}

// trainJob fills the TRAIN options shared by train and learncurve jobs.
func (e *Engine) trainJob(tc *config.Train, model string) runner.Job {
	return runner.Job{
		Command:     runner.CommandTrain,
		Model:       model,
		ModelConfig: e.modelConfig(model),
		WindowSize:  e.cfg.DataLoader.WindowSize,
		SpectKeys:   e.jobSpectKeys(),
		NumEpochs:   tc.NumEpochs,
		BatchSize:   tc.BatchSize,
		NumWorkers:  tc.NumWorkers,
		Device:      tc.Device,
		Shuffle:     tc.Shuffle,
		ValStep:     tc.ValStep,
		CkptStep:    tc.CkptStep,
		Patience:    tc.Patience,
	}
}

// openRunLog tees the engine logger into dir/vak.log and copies the config
// file alongside it.
func (e *Engine) openRunLog(dir string) (*logging.RunLog, error) {
	runLog, err := logging.OpenRunLog(e.logger, dir)
	if err != nil {
		return nil, err
	}
	if e.cfg.Path != "" {
		if _, err := fileutil.CopyInto(e.cfg.Path, dir); err != nil {
			logging.WarnWithContext(runLog.Logger, "config not copied to results", "config_copy_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "results directory lacks the config that produced it"),
			)
		}
	}
	return runLog, nil
}

// runJob runs one framework job with a progress bar.
func (e *Engine) runJob(ctx context.Context, logger *slog.Logger, job runner.Job, description string) (*runner.Result, error) {
	r, err := e.newRunner(logger)
	if err != nil {
		return nil, err
	}
	bar := e.newProgress(description, -1)
	defer bar.finish()
	return r.Run(ctx, job, bar.onRunner)
}

func spectFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
