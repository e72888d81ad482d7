package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vak/internal/logs"
	"vak/internal/runs"
	"vak/internal/services"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var root string

	runsCmd := &cobra.Command{
		Use:         "runs",
		Short:       "Inspect the runs recorded in a results root",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	runsCmd.PersistentFlags().StringVar(&root, "root", ".", "Directory holding runs.db (a results root or prep output dir)")

	runsCmd.AddCommand(newRunsListCommand(ctx, &root))
	runsCmd.AddCommand(newRunsShowCommand(ctx, &root))
	runsCmd.AddCommand(newRunsLogCommand(&root))
	runsCmd.AddCommand(newRunsResetStaleCommand(&root))

	return runsCmd
}

// withStore opens the run store under root without creating one.
func withStore(root string, fn func(*runs.Store) error) error {
	path := filepath.Join(strings.TrimSpace(root), runs.FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "runs", "open store",
				fmt.Sprintf("no %s under %s; pass the results root with --root", runs.FileName, root), nil)
		}
		return fmt.Errorf("inspect run store: %w", err)
	}
	store, err := runs.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

type runOutput struct {
	ID           string                        `json:"id"`
	Command      string                        `json:"command"`
	Model        string                        `json:"model,omitempty"`
	Status       runs.Status                   `json:"status"`
	ConfigPath   string                        `json:"config_path"`
	ResultsDir   string                        `json:"results_dir,omitempty"`
	ErrorMessage string                        `json:"error_message,omitempty"`
	Metrics      map[string]map[string]float64 `json:"metrics,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
	FinishedAt   *time.Time                    `json:"finished_at,omitempty"`
}

func toRunOutput(r *runs.Run) runOutput {
	return runOutput{
		ID:           r.ID,
		Command:      r.Command,
		Model:        r.Model,
		Status:       r.Status,
		ConfigPath:   r.ConfigPath,
		ResultsDir:   r.ResultsDir,
		ErrorMessage: r.ErrorMessage,
		Metrics:      r.Metrics,
		CreatedAt:    r.CreatedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func newRunsListCommand(ctx *commandContext, root *string) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []runs.Status
			for _, value := range statusFlags {
				status, ok := runs.ParseStatus(strings.ToLower(strings.TrimSpace(value)))
				if !ok {
					return services.Wrap(services.ErrValidation, "runs", "list",
						fmt.Sprintf("unknown status %q (use running, completed or failed)", value), nil)
				}
				statuses = append(statuses, status)
			}
			return withStore(*root, func(store *runs.Store) error {
				list, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					out := make([]runOutput, 0, len(list))
					for _, r := range list {
						out = append(out, toRunOutput(r))
					}
					return writeJSON(cmd, out)
				}
				w := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(w, "No runs recorded")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(list))
				for _, r := range list {
					rows = append(rows, []string{
						shortID(r.ID),
						r.Command,
						dashIfEmpty(r.Model),
						string(r.Status),
						humanize.Time(r.CreatedAt),
						r.Elapsed(now).Round(time.Second).String(),
					})
				}
				fmt.Fprintln(w, renderTable(
					[]string{"ID", "Command", "Model", "Status", "Started", "Elapsed"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Only show runs with this status (repeatable)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext, root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run by id or unique id prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*root, func(store *runs.Store) error {
				run, err := store.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return services.Wrap(services.ErrNotFound, "runs", "show", fmt.Sprintf("no run matches %q", args[0]), nil)
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, toRunOutput(run))
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "ID:       %s\n", run.ID)
				fmt.Fprintf(w, "Command:  %s\n", run.Command)
				fmt.Fprintf(w, "Model:    %s\n", dashIfEmpty(run.Model))
				fmt.Fprintf(w, "Status:   %s\n", run.Status)
				fmt.Fprintf(w, "Config:   %s\n", run.ConfigPath)
				fmt.Fprintf(w, "Results:  %s\n", dashIfEmpty(run.ResultsDir))
				fmt.Fprintf(w, "Started:  %s (%s)\n", run.CreatedAt.Local().Format(time.DateTime), humanize.Time(run.CreatedAt))
				fmt.Fprintf(w, "Elapsed:  %s\n", run.Elapsed(time.Now()).Round(time.Second))
				if run.ErrorMessage != "" {
					fmt.Fprintf(w, "Error:    %s\n", run.ErrorMessage)
				}
				if len(run.Metrics) > 0 {
					fmt.Fprintln(w, metricsTable(run.Metrics))
				}
				return nil
			})
		},
	}
}

func newRunsLogCommand(root *string) *cobra.Command {
	var (
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Print the vak.log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resultsDir string
			err := withStore(*root, func(store *runs.Store) error {
				run, err := store.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return services.Wrap(services.ErrNotFound, "runs", "log", fmt.Sprintf("no run matches %q", args[0]), nil)
				}
				resultsDir = run.ResultsDir
				return nil
			})
			if err != nil {
				return err
			}
			path, err := logs.Locate(resultsDir)
			if err != nil {
				return services.Wrap(services.ErrNotFound, "runs", "log", "", err)
			}
			w := cmd.OutOrStdout()
			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(w, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, logs.DefaultPoll, func(line string) {
				fmt.Fprintln(w, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as the run appends them")
	return cmd
}

func newRunsResetStaleCommand(root *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reset-stale",
		Short: "Mark runs left running by a killed process as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return services.Wrap(services.ErrValidation, "runs", "reset-stale", "--older-than must be positive", nil)
			}
			return withStore(*root, func(store *runs.Store) error {
				count, err := store.FailInterrupted(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d stale runs as failed\n", count)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only reset runs not updated for this long")
	return cmd
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
