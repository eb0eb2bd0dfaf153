// Package inproc runs each execution context as a goroutine inside the
// launcher's own process.
package inproc

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/model"
)

// Compile-time interface satisfaction check.
var _ backend.Backend = (*Backend)(nil)

// Backend implements backend.Backend with goroutines. Units share the
// launcher's address space but never share mutable state with it.
type Backend struct {
	logger *slog.Logger
}

// New creates an in-process backend.
func New(logger *slog.Logger) *Backend {
	return &Backend{logger: logger}
}

// Capabilities reports that goroutine contexts are not memory-isolated but
// do report the unit's value.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:         model.BackendInproc,
		Isolated:     false,
		ReportsValue: true,
	}
}

// Start launches spec.Unit in a new goroutine.
func (b *Backend) Start(ctx context.Context, spec backend.UnitSpec) (backend.Execution, error) {
	if err := spec.Unit.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &execution{
		cancel: cancel,
		done:   make(chan struct{}),
		start:  time.Now(),
	}

	go func() {
		defer close(e.done)
		defer cancel()
		e.value, e.err = spec.Unit.Run(runCtx)
	}()

	b.logger.Debug("goroutine started", "handle_id", spec.HandleID, "unit", spec.Unit.Name)
	return e, nil
}

type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time

	value int
	err   error
}

func (e *execution) PID() int { return 0 }

func (e *execution) Wait() (backend.Result, error) {
	<-e.done

	res := backend.Result{
		DurationMS: int(time.Since(e.start).Milliseconds()),
		// A finished goroutine holds nothing the launcher must release.
		Reaped: true,
	}
	if e.err != nil {
		res.ExitCode = 1
		return res, e.err
	}
	v := e.value
	res.Value = &v
	return res, nil
}

func (e *execution) Kill() error {
	e.cancel()
	return nil
}
