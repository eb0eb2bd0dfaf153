package model

import "time"

// Run status constants.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Backend name constants.
const (
	BackendInproc     = "inproc"
	BackendSubprocess = "subprocess"
	BackendAuto       = "auto"
)

// Run represents one invocation of the spawn/start/join sequence.
type Run struct {
	ID         string     `json:"id"`
	Unit       string     `json:"unit"`
	Backend    string     `json:"backend"`
	Count      int        `json:"count"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
