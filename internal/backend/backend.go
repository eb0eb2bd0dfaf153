package backend

import (
	"context"

	"github.com/seantiz/procjoin/internal/work"
)

// Backend starts execution contexts. Implementations decide what an
// execution context is: a goroutine, an OS process, and so on.
type Backend interface {
	// Start begins running spec.Unit concurrently with the caller and returns
	// without waiting for it. The context scopes only the act of starting;
	// the execution outlives it and is stopped with Execution.Kill.
	Start(ctx context.Context, spec UnitSpec) (Execution, error)

	// Capabilities reports what this backend provides.
	Capabilities() Capabilities
}

// Execution is a running execution context.
type Execution interface {
	// PID returns the OS process ID, or 0 for contexts that share the
	// launcher's process.
	PID() int

	// Wait blocks until the execution context terminates and releases its
	// resources. It must be called exactly once.
	Wait() (Result, error)

	// Kill stops the execution context. Killing a terminated context is a no-op.
	Kill() error
}

// UnitSpec binds a unit of work to the handle that will run it.
type UnitSpec struct {
	HandleID string    `json:"handle_id"`
	Unit     work.Unit `json:"unit"`
}

// Result describes a terminated execution context.
type Result struct {
	// Value is the unit's return value, nil when the backend cannot observe it.
	Value      *int `json:"value,omitempty"`
	ExitCode   int  `json:"exit_code"`
	DurationMS int  `json:"duration_ms"`

	// Reaped reports that the OS resources backing the context were verified
	// released after Wait.
	Reaped bool `json:"reaped"`
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name string `json:"name"`

	// Isolated is true when each context has its own memory space.
	Isolated bool `json:"isolated"`

	// ReportsValue is true when Result.Value is populated.
	ReportsValue bool `json:"reports_value"`

	// MaxConcurrency is 0 when unbounded.
	MaxConcurrency int `json:"max_concurrency"`
}
