package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	audioFormats = []string{"wav", "cbin"}
	spectFormats = []string{"mat", "npz"}
	annotFormats = []string{"csv"}
	transforms   = []string{"", "log_spect", "log_spect_plus_one"}
)

// validateSectionCombinations rejects section pairings that make the prep
// step ambiguous.
func validateSectionCombinations(doc map[string]any) error {
	_, hasTrain := doc[SectionTrain]
	if !hasTrain {
		return nil
	}
	if _, ok := doc[SectionLearncurve]; ok {
		return errors.New("a single config file cannot contain both TRAIN and LEARNCURVE sections, " +
			"because it is unclear which of those two sections to add paths to when running the prep command")
	}
	if prep, ok := doc[SectionPrep].(map[string]any); ok {
		if _, ok := prep["test_dur"]; ok {
			return errors.New("cannot define test_dur in the PREP section when it is used with the train command; " +
				"were you trying to use the learncurve command instead?")
		}
	}
	return nil
}

// Validate ensures the parsed configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSpectParams(); err != nil {
		return err
	}
	if c.DataLoader.WindowSize <= 0 {
		return fmt.Errorf("%w: DATALOADER.window_size must be positive", ErrInvalidValue)
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	if err := c.validatePrep(); err != nil {
		return err
	}
	if c.Train != nil {
		if err := c.Train.validate(SectionTrain); err != nil {
			return err
		}
	}
	if err := c.validateLearncurve(); err != nil {
		return err
	}
	if err := c.validateEval(); err != nil {
		return err
	}
	return c.validatePredict()
}

func (c *Config) validateSpectParams() error {
	sp := c.SpectParams
	if err := ensurePositiveMap(map[string]int{
		"SPECT_PARAMS.fft_size":  sp.FFTSize,
		"SPECT_PARAMS.step_size": sp.StepSize,
	}); err != nil {
		return err
	}
	if len(sp.FreqCutoffs) != 0 {
		if len(sp.FreqCutoffs) != 2 {
			return fmt.Errorf("%w: SPECT_PARAMS.freq_cutoffs must have exactly two values", ErrInvalidValue)
		}
		if sp.FreqCutoffs[0] < 0 || sp.FreqCutoffs[0] >= sp.FreqCutoffs[1] {
			return fmt.Errorf("%w: SPECT_PARAMS.freq_cutoffs must be [low, high] with 0 <= low < high", ErrInvalidValue)
		}
	}
	if !contains(transforms, sp.TransformType) {
		return fmt.Errorf("%w: SPECT_PARAMS.transform_type %q must be one of log_spect, log_spect_plus_one", ErrInvalidValue, sp.TransformType)
	}
	for option, value := range map[string]string{
		"spect_key":    sp.SpectKey,
		"freq_key":     sp.FreqKey,
		"timebins_key": sp.TimebinsKey,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: SPECT_PARAMS.%s must not be empty", ErrInvalidValue, option)
		}
	}
	return nil
}

func (c *Config) validateRunner() error {
	if strings.TrimSpace(c.Runner.Command) == "" {
		return fmt.Errorf("%w: RUNNER.command must be set", ErrMissingOption)
	}
	if c.Runner.Timeout < 0 {
		return fmt.Errorf("%w: RUNNER.timeout must be >= 0", ErrInvalidValue)
	}
	return nil
}

func (c *Config) validatePrep() error {
	p := c.Prep
	if p == nil {
		return nil
	}
	if p.DataDir == "" {
		return missing(SectionPrep, "data_dir")
	}
	if p.OutputDir == "" {
		return missing(SectionPrep, "output_dir")
	}
	if err := ensureDir(SectionPrep, "data_dir", p.DataDir); err != nil {
		return err
	}
	switch {
	case p.AudioFormat == "" && p.SpectFormat == "":
		return fmt.Errorf("%w: PREP must specify either audio_format or spect_format", ErrMissingOption)
	case p.AudioFormat != "" && p.SpectFormat != "":
		return fmt.Errorf("%w: PREP cannot specify both audio_format and spect_format", ErrInvalidValue)
	case p.AudioFormat != "" && !contains(audioFormats, p.AudioFormat):
		return fmt.Errorf("%w: PREP.audio_format %q must be one of %s", ErrInvalidValue, p.AudioFormat, strings.Join(audioFormats, ", "))
	case p.SpectFormat != "" && !contains(spectFormats, p.SpectFormat):
		return fmt.Errorf("%w: PREP.spect_format %q must be one of %s", ErrInvalidValue, p.SpectFormat, strings.Join(spectFormats, ", "))
	}
	if p.AnnotFormat != "" {
		if !contains(annotFormats, p.AnnotFormat) {
			return fmt.Errorf("%w: PREP.annot_format %q must be one of %s", ErrInvalidValue, p.AnnotFormat, strings.Join(annotFormats, ", "))
		}
		if len(p.Labelset) == 0 {
			return fmt.Errorf("%w: PREP.labelset is required when annot_format is set", ErrMissingOption)
		}
	}
	if p.AnnotFile != "" {
		if err := ensureFile(SectionPrep, "annot_file", p.AnnotFile); err != nil {
			return err
		}
	}
	for option, value := range map[string]*float64{
		"train_dur": p.TrainDur,
		"val_dur":   p.ValDur,
		"test_dur":  p.TestDur,
	} {
		if value != nil && *value < 0 && *value != -1 {
			return fmt.Errorf("%w: PREP.%s must be a non-negative number of seconds or -1", ErrInvalidValue, option)
		}
	}
	return nil
}

func (t *Train) validate(section string) error {
	if len(t.Models) == 0 {
		return missing(section, "models")
	}
	if t.RootResultsDir == "" {
		return missing(section, "root_results_dir")
	}
	if t.NumEpochs <= 0 {
		return requiredPositive(section, "num_epochs")
	}
	if t.BatchSize <= 0 {
		return requiredPositive(section, "batch_size")
	}
	if t.NumWorkers < 0 {
		return fmt.Errorf("%w: %s.num_workers must be >= 0", ErrInvalidValue, section)
	}
	for option, value := range map[string]int{
		"val_step":  t.ValStep,
		"ckpt_step": t.CkptStep,
		"patience":  t.Patience,
	} {
		if value < 0 {
			return fmt.Errorf("%w: %s.%s must be >= 0", ErrInvalidValue, section, option)
		}
	}
	if t.Patience > 0 && t.ValStep == 0 {
		return fmt.Errorf("%w: %s.patience requires val_step, since early stopping is based on validation", ErrInvalidValue, section)
	}
	if t.CheckpointPath != "" {
		if err := ensureFile(section, "checkpoint_path", t.CheckpointPath); err != nil {
			return err
		}
	}
	if t.SpectScalerPath != "" {
		if err := ensureFile(section, "spect_scaler_path", t.SpectScalerPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLearncurve() error {
	lc := c.Learncurve
	if lc == nil {
		return nil
	}
	if err := lc.Train.validate(SectionLearncurve); err != nil {
		return err
	}
	if len(lc.TrainSetDurs) == 0 {
		return missing(SectionLearncurve, "train_set_durs")
	}
	for i, dur := range lc.TrainSetDurs {
		if dur <= 0 {
			return fmt.Errorf("%w: LEARNCURVE.train_set_durs values must be positive", ErrInvalidValue)
		}
		if i > 0 && dur <= lc.TrainSetDurs[i-1] {
			return fmt.Errorf("%w: LEARNCURVE.train_set_durs must be in ascending order", ErrInvalidValue)
		}
	}
	if lc.NumReplicates <= 0 {
		return requiredPositive(SectionLearncurve, "num_replicates")
	}
	if lc.PreviousRunPath != "" {
		if err := ensureDir(SectionLearncurve, "previous_run_path", lc.PreviousRunPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateEval() error {
	e := c.Eval
	if e == nil {
		return nil
	}
	if len(e.Models) == 0 {
		return missing(SectionEval, "models")
	}
	if e.CheckpointPath == "" {
		return missing(SectionEval, "checkpoint_path")
	}
	if e.LabelmapPath == "" {
		return missing(SectionEval, "labelmap_path")
	}
	if e.OutputDir == "" {
		return missing(SectionEval, "output_dir")
	}
	if e.BatchSize <= 0 {
		return requiredPositive(SectionEval, "batch_size")
	}
	return ensureFiles(SectionEval, map[string]string{
		"checkpoint_path":   e.CheckpointPath,
		"labelmap_path":     e.LabelmapPath,
		"spect_scaler_path": e.SpectScalerPath,
	})
}

func (c *Config) validatePredict() error {
	p := c.Predict
	if p == nil {
		return nil
	}
	if len(p.Models) == 0 {
		return missing(SectionPredict, "models")
	}
	if p.CheckpointPath == "" {
		return missing(SectionPredict, "checkpoint_path")
	}
	if p.LabelmapPath == "" {
		return missing(SectionPredict, "labelmap_path")
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("%w: PREDICT.batch_size must be positive", ErrInvalidValue)
	}
	if p.MinSegmentDur != nil && *p.MinSegmentDur < 0 {
		return fmt.Errorf("%w: PREDICT.min_segment_dur must be >= 0", ErrInvalidValue)
	}
	return ensureFiles(SectionPredict, map[string]string{
		"checkpoint_path":   p.CheckpointPath,
		"labelmap_path":     p.LabelmapPath,
		"spect_scaler_path": p.SpectScalerPath,
	})
}

func missing(section, option string) error {
	return fmt.Errorf("%w: %s.%s", ErrMissingOption, section, option)
}

func requiredPositive(section, option string) error {
	return fmt.Errorf("%w: %s.%s must be set to a positive integer", ErrMissingOption, section, option)
}

func ensureFiles(section string, paths map[string]string) error {
	for option, path := range paths {
		if path == "" {
			continue
		}
		if err := ensureFile(section, option, path); err != nil {
			return err
		}
	}
	return nil
}

func ensureFile(section, option, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %s not found", ErrInvalidValue, section, option, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s.%s: %s is a directory", ErrInvalidValue, section, option, path)
	}
	return nil
}

func ensureDir(section, option, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: directory %s not found", ErrInvalidValue, section, option, path)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s.%s: %s is not a directory", ErrInvalidValue, section, option, path)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, key)
		}
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
