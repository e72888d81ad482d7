package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const killGrace = 5 * time.Second

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args, env []string, onStdout, onStderr func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Env = env
	// Interrupt first so the framework can flush checkpoints.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = killGrace

	// Events are handled one at a time.
	var mu sync.Mutex
	stdout := &lineWriter{mu: &mu, forward: onStdout}
	stderr := &lineWriter{mu: &mu, forward: onStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	if err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// lineWriter splits written bytes into lines and forwards each one.
type lineWriter struct {
	mu      *sync.Mutex
	forward func(string)
	buf     bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(idx+1), "\r\n"))
		if w.forward != nil {
			w.forward(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	line := w.buf.String()
	w.buf.Reset()
	if w.forward != nil {
		w.forward(line)
	}
}
