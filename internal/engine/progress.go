package engine

import (
	"fmt"

	"github.com/schollz/progressbar/v3"

	"vak/internal/services/runner"
)

// progress wraps a terminal progress bar. A nil *progress draws nothing.
type progress struct {
	bar   *progressbar.ProgressBar
	label string
	max   int
}

// newProgress starts a bar with max steps; max -1 draws a spinner until the
// total is known.
func (e *Engine) newProgress(description string, max int) *progress {
	if e.progress == nil {
		return nil
	}
	bar := progressbar.NewOptions(max,
		progressbar.OptionSetWriter(e.progress),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionClearOnFinish(),
	)
	return &progress{bar: bar, label: description, max: max}
}

func (p *progress) add(n int) {
	if p == nil {
		return
	}
	_ = p.bar.Add(n)
}

// onRunner follows runner progress events within the current epoch.
func (p *progress) onRunner(ev runner.Progress) {
	if p == nil {
		return
	}
	if ev.TotalSteps > 0 && ev.TotalSteps != p.max {
		p.max = ev.TotalSteps
		p.bar.ChangeMax(ev.TotalSteps)
	}
	if ev.Epoch > 0 {
		p.bar.Describe(fmt.Sprintf("%s (epoch %d)", p.label, ev.Epoch))
	}
	_ = p.bar.Set(ev.Step)
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}
