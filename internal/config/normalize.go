package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeRunner(); err != nil {
		return err
	}
	if err := c.normalizePrep(); err != nil {
		return err
	}
	if c.Train != nil {
		if err := c.Train.normalize(SectionTrain); err != nil {
			return err
		}
	}
	if c.Learncurve != nil {
		if err := c.Learncurve.Train.normalize(SectionLearncurve); err != nil {
			return err
		}
		previous, err := expandOption(SectionLearncurve, "previous_run_path", c.Learncurve.PreviousRunPath)
		if err != nil {
			return err
		}
		c.Learncurve.PreviousRunPath = previous
	}
	if err := c.normalizeEval(); err != nil {
		return err
	}
	return c.normalizePredict()
}

func (c *Config) normalizeRunner() error {
	c.Runner.Command = strings.TrimSpace(c.Runner.Command)
	if value, ok := os.LookupEnv("VAK_RUNNER_COMMAND"); ok && strings.TrimSpace(value) != "" {
		if c.Runner.Command == "" || c.Runner.Command == defaultRunnerCommand {
			c.Runner.Command = strings.TrimSpace(value)
		}
	}
	if c.Runner.Command == "" {
		c.Runner.Command = defaultRunnerCommand
	}
	return nil
}

func (c *Config) normalizePrep() error {
	p := c.Prep
	if p == nil {
		return nil
	}
	var err error
	if p.DataDir, err = expandOption(SectionPrep, "data_dir", p.DataDir); err != nil {
		return err
	}
	if p.OutputDir, err = expandOption(SectionPrep, "output_dir", p.OutputDir); err != nil {
		return err
	}
	if p.AnnotFile, err = expandOption(SectionPrep, "annot_file", p.AnnotFile); err != nil {
		return err
	}
	p.AudioFormat = strings.ToLower(strings.TrimSpace(p.AudioFormat))
	p.SpectFormat = strings.ToLower(strings.TrimSpace(p.SpectFormat))
	p.AnnotFormat = strings.ToLower(strings.TrimSpace(p.AnnotFormat))
	return nil
}

func (t *Train) normalize(section string) error {
	var err error
	if t.RootResultsDir, err = expandOption(section, "root_results_dir", t.RootResultsDir); err != nil {
		return err
	}
	if t.CSVPath, err = expandOption(section, "csv_path", t.CSVPath); err != nil {
		return err
	}
	if t.CheckpointPath, err = expandOption(section, "checkpoint_path", t.CheckpointPath); err != nil {
		return err
	}
	if t.SpectScalerPath, err = expandOption(section, "spect_scaler_path", t.SpectScalerPath); err != nil {
		return err
	}
	t.Models = normalizeModels(t.Models)
	t.Device = normalizeDevice(t.Device)
	return nil
}

func (c *Config) normalizeEval() error {
	e := c.Eval
	if e == nil {
		return nil
	}
	var err error
	if e.CSVPath, err = expandOption(SectionEval, "csv_path", e.CSVPath); err != nil {
		return err
	}
	if e.CheckpointPath, err = expandOption(SectionEval, "checkpoint_path", e.CheckpointPath); err != nil {
		return err
	}
	if e.LabelmapPath, err = expandOption(SectionEval, "labelmap_path", e.LabelmapPath); err != nil {
		return err
	}
	if e.OutputDir, err = expandOption(SectionEval, "output_dir", e.OutputDir); err != nil {
		return err
	}
	if e.SpectScalerPath, err = expandOption(SectionEval, "spect_scaler_path", e.SpectScalerPath); err != nil {
		return err
	}
	e.Models = normalizeModels(e.Models)
	e.Device = normalizeDevice(e.Device)
	return nil
}

func (c *Config) normalizePredict() error {
	p := c.Predict
	if p == nil {
		return nil
	}
	var err error
	if p.CSVPath, err = expandOption(SectionPredict, "csv_path", p.CSVPath); err != nil {
		return err
	}
	if p.CheckpointPath, err = expandOption(SectionPredict, "checkpoint_path", p.CheckpointPath); err != nil {
		return err
	}
	if p.LabelmapPath, err = expandOption(SectionPredict, "labelmap_path", p.LabelmapPath); err != nil {
		return err
	}
	if p.SpectScalerPath, err = expandOption(SectionPredict, "spect_scaler_path", p.SpectScalerPath); err != nil {
		return err
	}
	if p.OutputDir, err = expandOption(SectionPredict, "output_dir", p.OutputDir); err != nil {
		return err
	}
	p.AnnotCSVFilename = strings.TrimSpace(p.AnnotCSVFilename)
	p.Models = normalizeModels(p.Models)
	p.Device = normalizeDevice(p.Device)
	return nil
}

func expandOption(section, option, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	expanded, err := expandPath(value)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", section, option, err)
	}
	return expanded, nil
}

func normalizeModels(models []string) []string {
	out := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, model := range models {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		if _, ok := seen[model]; ok {
			continue
		}
		seen[model] = struct{}{}
		out = append(out, model)
	}
	return out
}

func normalizeDevice(device string) string {
	device = strings.ToLower(strings.TrimSpace(device))
	if device == "" {
		return defaultDevice
	}
	return device
}

// AnnotCSVName returns the predict output filename, deriving one from the
// dataset CSV name when the option is unset.
func (p *Predict) AnnotCSVName() string {
	if p.AnnotCSVFilename != "" {
		return p.AnnotCSVFilename
	}
	base := "predictions"
	if p.CSVPath != "" {
		base = strings.TrimSuffix(filepath.Base(p.CSVPath), ".csv")
	}
	return base + defaultAnnotCSVSuffix
}
