package preflight

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"vak/internal/config"
	"vak/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks that apply to command for the given config.
// Sections the command does not read are not checked.
func RunAll(cfg *config.Config, command string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	switch command {
	case "prep":
		if cfg.Prep != nil {
			results = append(results,
				CheckReadableDir("Data directory", cfg.Prep.DataDir),
				CheckWritableTarget("Output directory", cfg.Prep.OutputDir),
			)
		}
	case "train":
		if cfg.Train != nil {
			results = append(results, CheckWritableTarget("Results root", cfg.Train.RootResultsDir))
		}
		results = append(results, CheckRunner(cfg.Runner.Command))
	case "learncurve":
		if cfg.Learncurve != nil {
			results = append(results, CheckWritableTarget("Results root", cfg.Learncurve.RootResultsDir))
		}
		results = append(results, CheckRunner(cfg.Runner.Command))
	case "eval":
		if cfg.Eval != nil {
			results = append(results, CheckWritableTarget("Output directory", cfg.Eval.OutputDir))
		}
		results = append(results, CheckRunner(cfg.Runner.Command))
	case "predict":
		if cfg.Predict != nil {
			out := cfg.Predict.OutputDir
			if out == "" && cfg.Predict.CSVPath != "" {
				out = filepath.Dir(cfg.Predict.CSVPath)
			}
			if out != "" {
				results = append(results, CheckWritableTarget("Output directory", out))
			}
		}
		results = append(results, CheckRunner(cfg.Runner.Command))
	}
	return results
}

// Err returns nil when every result passed, otherwise a configuration error
// listing the failed checks.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "", strings.Join(failed, "; "), errors.New("preflight checks failed"))
}
