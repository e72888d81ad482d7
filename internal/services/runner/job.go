package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Job commands understood by the framework process.
const (
	CommandTrain   = "train"
	CommandEval    = "eval"
	CommandPredict = "predict"
)

// JobFileName is the name of the job file within a results directory.
const JobFileName = "job.json"

// Job is everything the framework process needs for one command.
type Job struct {
	Command     string         `json:"command"`
	Model       string         `json:"model"`
	ModelConfig map[string]any `json:"model_config,omitempty"`

	DatasetPath     string            `json:"dataset_path"`
	ResultsDir      string            `json:"results_dir"`
	LabelmapPath    string            `json:"labelmap_path"`
	SpectScalerPath string            `json:"spect_scaler_path,omitempty"`
	CheckpointPath  string            `json:"checkpoint_path,omitempty"`
	Windows         map[string]string `json:"windows,omitempty"`
	WindowSize      int               `json:"window_size"`
	SpectKeys       SpectKeys         `json:"spect_keys"`

	NumEpochs      int    `json:"num_epochs,omitempty"`
	BatchSize      int    `json:"batch_size"`
	NumWorkers     int    `json:"num_workers"`
	Device         string `json:"device"`
	Shuffle        bool   `json:"shuffle,omitempty"`
	ValStep        int    `json:"val_step,omitempty"`
	CkptStep       int    `json:"ckpt_step,omitempty"`
	Patience       int    `json:"patience,omitempty"`
	SaveNetOutputs bool   `json:"save_net_outputs,omitempty"`
}

// SpectKeys name the arrays inside spectrogram files.
type SpectKeys struct {
	Spect    string `json:"spect"`
	Freq     string `json:"freq"`
	Timebins string `json:"timebins"`
}

func (j Job) validate() error {
	switch j.Command {
	case CommandTrain, CommandEval, CommandPredict:
	default:
		return fmt.Errorf("unknown job command %q", j.Command)
	}
	if j.Model == "" {
		return fmt.Errorf("job has no model")
	}
	if j.ResultsDir == "" {
		return fmt.Errorf("job has no results directory")
	}
	if j.DatasetPath == "" {
		return fmt.Errorf("job has no dataset")
	}
	return nil
}

// write stores the job in its results directory and returns the file path.
func (j Job) write() (string, error) {
	if err := os.MkdirAll(j.ResultsDir, 0o755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	path := filepath.Join(j.ResultsDir, JobFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write job: %w", err)
	}
	return path, nil
}
