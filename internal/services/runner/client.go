package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"vak/internal/config"
	"vak/internal/logging"
	"vak/internal/services"
)

const stderrTailLines = 20

// Executor abstracts process execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args, env []string, onStdout, onStderr func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLookPath replaces the binary lookup used by Available.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.lookPath = fn
		}
	}
}

// Client runs jobs with the configured framework command.
type Client struct {
	command  string
	args     []string
	env      []string
	timeout  time.Duration
	exec     Executor
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

// Result collects the events of a finished job.
type Result struct {
	JobPath     string
	Metrics     map[string]map[string]float64
	Checkpoints []string
	Predictions []Prediction
	LastEpoch   int
	Elapsed     time.Duration
}

// New constructs a client from the RUNNER section.
func New(cfg config.Runner, logger *slog.Logger, opts ...Option) (*Client, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "configure", "RUNNER.command is empty", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		command:  command,
		args:     append([]string(nil), cfg.Args...),
		env:      envList(cfg.Env),
		timeout:  time.Duration(cfg.Timeout) * time.Second,
		exec:     commandExecutor{},
		lookPath: exec.LookPath,
		logger:   logging.NewComponentLogger(logger, "runner"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Command returns the configured framework command.
func (c *Client) Command() string {
	return c.command
}

// Available checks that the framework command can be executed.
func (c *Client) Available() error {
	if _, err := c.lookPath(c.command); err != nil {
		return services.Wrap(services.ErrNotFound, "runner", "lookup",
			fmt.Sprintf("%s not found; install the framework runner or set RUNNER.command / VAK_RUNNER_COMMAND", c.command), err)
	}
	return nil
}

// Run writes the job file and executes the framework process. onProgress,
// when non-nil, receives every progress event.
func (c *Client) Run(ctx context.Context, job Job, onProgress func(Progress)) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, job.Command, "prepare job", "", err)
	}
	jobPath, err := job.write()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, job.Command, "prepare job", "", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, c.logger)
	result := &Result{JobPath: jobPath, Metrics: map[string]map[string]float64{}}
	sampler := logging.NewProgressSampler(25)
	tail := newLineTail(stderrTailLines)
	var eventErr string

	args := append(append([]string(nil), c.args...), job.Command, "--job", jobPath)
	logger.Info("starting framework process",
		logging.String("runner", c.command),
		logging.String("job", jobPath),
		logging.String(logging.FieldEventType, "runner_start"),
	)
	started := time.Now()

	onStdout := func(line string) {
		ev, ok := parseEvent(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				logger.Debug("runner output", logging.String("line", line))
			}
			return
		}
		switch ev.Event {
		case EventProgress:
			p := Progress{Epoch: ev.Epoch, Step: ev.Step, TotalSteps: ev.TotalSteps}
			if ev.Loss != nil {
				p.Loss, p.HasLoss = *ev.Loss, true
			}
			result.LastEpoch = ev.Epoch
			if sampler.ShouldLog(p.Epoch, p.Percent()) {
				attrs := []logging.Attr{
					logging.Int("epoch", p.Epoch),
					logging.Int("step", p.Step),
				}
				if p.HasLoss {
					attrs = append(attrs, logging.Float64("loss", p.Loss))
				}
				logger.Info("training progress", logging.Args(attrs...)...)
			}
			if onProgress != nil {
				onProgress(p)
			}
		case EventMetrics:
			split := ev.Split
			if split == "" {
				split = "test"
			}
			if result.Metrics[split] == nil {
				result.Metrics[split] = map[string]float64{}
			}
			attrs := []logging.Attr{logging.String("split", split)}
			for name, value := range ev.Metrics {
				result.Metrics[split][name] = value
				attrs = append(attrs, logging.Float64(name, value))
			}
			logger.Info("metrics", logging.Args(attrs...)...)
		case EventCheckpoint:
			if ev.Path != "" {
				result.Checkpoints = append(result.Checkpoints, ev.Path)
				logger.Info("checkpoint saved", logging.String("path", ev.Path))
			}
		case EventPrediction:
			result.Predictions = append(result.Predictions, Prediction{Source: ev.Source, Frames: ev.Frames})
			logger.Debug("prediction received", logging.String("source", ev.Source), logging.Int("frames", len(ev.Frames)))
		case EventError:
			eventErr = ev.Message
			logger.Error("framework reported error", logging.String("message", ev.Message))
		default:
			logger.Debug("unknown runner event", logging.String("event", ev.Event))
		}
	}
	onStderr := func(line string) {
		tail.add(line)
		logger.Debug("runner stderr", logging.String("line", line))
	}

	runErr := c.exec.Run(runCtx, c.command, args, c.env, onStdout, onStderr)
	result.Elapsed = time.Since(started)

	if runErr != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return nil, services.Wrap(services.ErrTimeout, job.Command, "run "+c.command,
				fmt.Sprintf("no result after %s", c.timeout), runErr)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%s canceled: %w", job.Command, ctx.Err())
		}
		return nil, services.Wrap(services.ErrExternalTool, job.Command, "run "+c.command, failureDetail(eventErr, tail), runErr)
	}
	if eventErr != "" {
		return nil, services.Wrap(services.ErrExternalTool, job.Command, "run "+c.command, failureDetail(eventErr, tail), nil)
	}
	logger.Info("framework process finished",
		logging.Duration("elapsed", result.Elapsed),
		logging.Int("checkpoints", len(result.Checkpoints)),
		logging.Int("predictions", len(result.Predictions)),
		logging.String(logging.FieldEventType, "runner_complete"),
	)
	return result, nil
}

func failureDetail(eventErr string, tail *lineTail) string {
	parts := make([]string, 0, 2)
	if eventErr != "" {
		parts = append(parts, eventErr)
	}
	if lines := tail.String(); lines != "" {
		parts = append(parts, "stderr: "+lines)
	}
	return strings.Join(parts, "; ")
}

func envList(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return env
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, " | ")
}
