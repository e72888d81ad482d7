package runs

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusRunning, StatusCompleted, StatusFailed:
		return Status(value), true
	}
	return "", false
}

// Run is one invocation of a pipeline command.
type Run struct {
	ID           string
	Command      string
	ConfigPath   string
	ResultsDir   string
	Model        string
	Status       Status
	ErrorMessage string
	// Metrics holds the final metrics per split.
	Metrics    map[string]map[string]float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// Elapsed returns how long the run took, or has taken so far.
func (r *Run) Elapsed(now time.Time) time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.CreatedAt)
	}
	return now.Sub(r.CreatedAt)
}
