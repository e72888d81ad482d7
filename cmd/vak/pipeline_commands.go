package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vak/internal/engine"
)

func newPipelineCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newPrepCommand(ctx),
		newTrainCommand(ctx),
		newEvalCommand(ctx),
		newPredictCommand(ctx),
		newLearncurveCommand(ctx),
	}
}

type splitOutput struct {
	Name     string   `json:"name"`
	Clips    int      `json:"clips"`
	Duration float64  `json:"duration_s"`
	Labels   []string `json:"labels,omitempty"`
}

type prepOutput struct {
	RunID   string        `json:"run_id"`
	CSVPath string        `json:"csv_path"`
	Section string        `json:"section"`
	Splits  []splitOutput `json:"splits"`
	Dropped []string      `json:"dropped,omitempty"`
}

func newPrepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prep <config.toml>",
		Short: "Build a dataset CSV from PREP.data_dir and assign splits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := ctx.newEngine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.Prep(cmd.Context())
			if err != nil {
				return err
			}
			out := prepOutput{RunID: res.RunID, CSVPath: res.CSVPath, Section: res.Section, Dropped: res.Dropped}
			for _, s := range res.Dataset.Splits() {
				out.Splits = append(out.Splits, splitOutput{Name: s.Name, Clips: s.Clips, Duration: s.Duration, Labels: s.Labels})
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			rows := make([][]string, 0, len(out.Splits))
			for _, s := range out.Splits {
				rows = append(rows, []string{
					s.Name,
					humanize.Comma(int64(s.Clips)),
					humanize.FtoaWithDigits(s.Duration, 2) + " s",
					strings.Join(s.Labels, " "),
				})
			}
			fmt.Fprintln(w, renderTable([]string{"Split", "Clips", "Duration", "Labels"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
			if len(out.Dropped) > 0 {
				fmt.Fprintf(w, "Removed %d clips with labels outside the labelset\n", len(out.Dropped))
			}
			fmt.Fprintf(w, "Dataset written to %s\n", out.CSVPath)
			fmt.Fprintf(w, "Recorded as %s.csv_path in %s\n", out.Section, filepath.Base(ctx.configValue().Path))
			return nil
		},
	}
}

type modelOutput struct {
	Model       string                        `json:"model"`
	RunID       string                        `json:"run_id"`
	Dir         string                        `json:"dir"`
	Checkpoints []string                      `json:"checkpoints,omitempty"`
	Metrics     map[string]map[string]float64 `json:"metrics,omitempty"`
}

func modelOutputs(models []engine.ModelResult) []modelOutput {
	out := make([]modelOutput, 0, len(models))
	for _, m := range models {
		out = append(out, modelOutput{Model: m.Model, RunID: m.RunID, Dir: m.Dir, Checkpoints: m.Checkpoints, Metrics: m.Metrics})
	}
	return out
}

type trainOutput struct {
	ResultsDir      string        `json:"results_dir"`
	LabelmapPath    string        `json:"labelmap_path"`
	SpectScalerPath string        `json:"spect_scaler_path,omitempty"`
	Models          []modelOutput `json:"models"`
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "train <config.toml>",
		Short: "Train the models listed in TRAIN.models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := ctx.newEngine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.Train(cmd.Context())
			if err != nil {
				return err
			}
			out := trainOutput{
				ResultsDir:      res.ResultsDir,
				LabelmapPath:    res.LabelmapPath,
				SpectScalerPath: res.SpectScalerPath,
				Models:          modelOutputs(res.Models),
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Results: %s\n", out.ResultsDir)
			printModels(w, out.Models)
			return nil
		},
	}
}

type evalOutput struct {
	ResultsDir string        `json:"results_dir"`
	Models     []modelOutput `json:"models"`
}

func newEvalCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <config.toml>",
		Short: "Evaluate EVAL.checkpoint_path on the test split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := ctx.newEngine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.Eval(cmd.Context())
			if err != nil {
				return err
			}
			out := evalOutput{ResultsDir: res.ResultsDir, Models: modelOutputs(res.Models)}
			if ctx.wantJSON() {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Results: %s\n", out.ResultsDir)
			printModels(w, out.Models)
			return nil
		},
	}
}

type predictOutput struct {
	ResultsDir string            `json:"results_dir"`
	AnnotPaths map[string]string `json:"annot_paths"`
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <config.toml>",
		Short: "Annotate the dataset with PREDICT.checkpoint_path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := ctx.newEngine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.Predict(cmd.Context())
			if err != nil {
				return err
			}
			out := predictOutput{ResultsDir: res.ResultsDir, AnnotPaths: res.AnnotPaths}
			if ctx.wantJSON() {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			for _, model := range sortedKeys(out.AnnotPaths) {
				fmt.Fprintf(w, "%s annotations: %s\n", model, out.AnnotPaths[model])
			}
			return nil
		},
	}
}

type learncurveOutput struct {
	ResultsDir   string            `json:"results_dir"`
	SummaryPaths map[string]string `json:"summary_paths"`
	PlotPaths    map[string]string `json:"plot_paths,omitempty"`
}

func newLearncurveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "learncurve <config.toml>",
		Short: "Train on increasing amounts of data and summarize test metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := ctx.newEngine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.Learncurve(cmd.Context())
			if err != nil {
				return err
			}
			out := learncurveOutput{ResultsDir: res.ResultsDir, SummaryPaths: res.SummaryPaths, PlotPaths: res.PlotPaths}
			if ctx.wantJSON() {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Results: %s\n", out.ResultsDir)
			for _, model := range sortedKeys(res.Curves) {
				points := res.Curves[model]
				fmt.Fprintf(w, "%s: %d points, summary %s\n", model, len(points), out.SummaryPaths[model])
				if plot, ok := out.PlotPaths[model]; ok {
					fmt.Fprintf(w, "%s: plot %s\n", model, plot)
				}
			}
			return nil
		},
	}
}

func printModels(w io.Writer, models []modelOutput) {
	for _, m := range models {
		fmt.Fprintf(w, "\n%s (run %s)\n", m.Model, shortID(m.RunID))
		if n := len(m.Checkpoints); n > 0 {
			fmt.Fprintf(w, "Checkpoint: %s\n", m.Checkpoints[n-1])
		}
		if len(m.Metrics) > 0 {
			fmt.Fprintln(w, metricsTable(m.Metrics))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
