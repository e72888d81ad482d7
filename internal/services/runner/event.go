package runner

import (
	"encoding/json"
	"strings"
)

// Event types emitted by the framework process.
const (
	EventProgress   = "progress"
	EventMetrics    = "metrics"
	EventCheckpoint = "checkpoint"
	EventPrediction = "prediction"
	EventError      = "error"
)

// Event is one stdout line of the framework process, e.g.
//
//	{"event":"progress","epoch":1,"step":20,"total_steps":100,"loss":0.31}
//	{"event":"metrics","split":"val","metrics":{"acc":0.92,"segment_error_rate":0.1}}
//	{"event":"checkpoint","path":"/results/TweetyNet/checkpoints/max-val-acc-checkpoint.pt"}
//	{"event":"prediction","source":"/data/bird1.wav.npz","frames":[0,0,1,1]}
//	{"event":"error","message":"CUDA out of memory"}
type Event struct {
	Event      string             `json:"event"`
	Epoch      int                `json:"epoch,omitempty"`
	Step       int                `json:"step,omitempty"`
	TotalSteps int                `json:"total_steps,omitempty"`
	Loss       *float64           `json:"loss,omitempty"`
	Split      string             `json:"split,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Path       string             `json:"path,omitempty"`
	Source     string             `json:"source,omitempty"`
	Frames     []int              `json:"frames,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// Progress is a training progress report.
type Progress struct {
	Epoch      int
	Step       int
	TotalSteps int
	Loss       float64
	HasLoss    bool
}

// Percent returns progress within the epoch, or -1 when the step count is
// unknown.
func (p Progress) Percent() float64 {
	if p.TotalSteps <= 0 {
		return -1
	}
	return float64(p.Step) / float64(p.TotalSteps) * 100
}

// Prediction holds the predicted class of every time bin of one clip.
type Prediction struct {
	Source string
	Frames []int
}

// parseEvent decodes a stdout line. ok is false for lines that are not event
// objects.
func parseEvent(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return Event{}, false
	}
	if ev.Event == "" {
		return Event{}, false
	}
	return ev, true
}
