package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"vak/internal/config"
	"vak/internal/logging"
	"vak/internal/preflight"
	"vak/internal/runs"
	"vak/internal/services"
	"vak/internal/services/runner"
)

// Runner executes one framework job.
type Runner interface {
	Run(ctx context.Context, job runner.Job, onProgress func(runner.Progress)) (*runner.Result, error)
}

// RunnerFactory builds a Runner that logs through logger.
type RunnerFactory func(logger *slog.Logger) (Runner, error)

// Option configures the engine.
type Option func(*Engine)

// WithRunner makes every job run through r.
func WithRunner(r Runner) Option {
	return func(e *Engine) {
		if r != nil {
			e.newRunner = func(*slog.Logger) (Runner, error) { return r, nil }
		}
	}
}

// WithRand sets the random source used for splitting.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithClock replaces time.Now for results directory and CSV names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithProgress draws progress bars on w. No bars are drawn by default.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) {
		e.progress = w
	}
}

// Engine runs commands for one parsed config.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	newRunner RunnerFactory
	rng       *rand.Rand
	now       func() time.Time
	progress  io.Writer
}

// New constructs an engine. The framework runner defaults to the command
// configured in the RUNNER section.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "engine"),
		newRunner: func(logger *slog.Logger) (Runner, error) {
			return runner.New(cfg.Runner, logger)
		},
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) preflight(command string) error {
	results := preflight.RunAll(e.cfg, command)
	for _, r := range results {
		e.logger.Debug("preflight check",
			logging.String("check", r.Name),
			logging.Bool("passed", r.Passed),
			logging.String("detail", r.Detail),
		)
	}
	return preflight.Err(results)
}

// track records one command invocation in the run store under root while fn
// runs. The metrics fn returns are stored on success; its error fails the
// run.
func (e *Engine) track(ctx context.Context, root, command, model string, fn func(context.Context, *runs.Run) (map[string]map[string]float64, error)) (*runs.Run, error) {
	store, err := runs.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	run, err := store.Create(ctx, command, e.cfg.Path, "", model)
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	ctx = services.WithRunID(services.WithCommand(services.WithModel(ctx, model), command), run.ID)

	metrics, runErr := fn(ctx, run)
	// The run's context may be canceled; bookkeeping still has to land.
	bookCtx := context.WithoutCancel(ctx)
	if run.ResultsDir != "" {
		if err := store.SetResultsDir(bookCtx, run.ID, run.ResultsDir); err != nil {
			e.logger.Warn("failed to record results directory", logging.Error(err))
		}
	}
	if runErr != nil {
		hint := "run vak runs log " + run.ID
		if run.ResultsDir == "" {
			hint = "the run failed before creating a results directory; rerun with --log-level debug"
		}
		logging.ErrorWithContext(logging.WithContext(ctx, e.logger), "run failed", "run_failed",
			logging.String(logging.FieldErrorHint, hint),
			logging.Error(runErr),
		)
		if err := store.Fail(bookCtx, run.ID, runErr); err != nil {
			e.logger.Warn("failed to record run failure", logging.Error(err))
		}
		run.Status = runs.StatusFailed
		run.ErrorMessage = runErr.Error()
		return run, runErr
	}
	if err := store.Complete(bookCtx, run.ID, metrics); err != nil {
		return run, fmt.Errorf("record run completion: %w", err)
	}
	run.Status = runs.StatusCompleted
	run.Metrics = metrics
	return run, nil
}
