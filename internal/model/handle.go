package model

import "time"

// Handle status constants. A handle moves strictly forward through
// created, started and terminated.
const (
	StatusCreated    = "created"
	StatusStarted    = "started"
	StatusTerminated = "terminated"
)

// Outcome constants recorded on a terminated handle.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// validTransitions maps each status to the set of statuses it may transition to.
// created→terminated only happens when an unstarted handle is discarded.
var validTransitions = map[string]map[string]bool{
	StatusCreated: {
		StatusStarted:    true,
		StatusTerminated: true,
	},
	StatusStarted: {
		StatusTerminated: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Handle is the ledger record of one spawned execution context.
type Handle struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Seq        int        `json:"seq"`
	Backend    string     `json:"backend"`
	PID        int        `json:"pid,omitempty"`
	Status     string     `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	Value      *int       `json:"value,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is a single lifecycle transition of a handle, published while a run
// is in flight.
type Event struct {
	RunID    string    `json:"run_id"`
	HandleID string    `json:"handle_id"`
	Seq      int       `json:"seq"`
	Status   string    `json:"status"`
	Outcome  string    `json:"outcome,omitempty"`
	PID      int       `json:"pid,omitempty"`
	At       time.Time `json:"at"`
}
