package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/model"
	"github.com/seantiz/procjoin/internal/work"
)

var (
	// ErrNotStarted is returned by Join on a handle that was never started.
	ErrNotStarted = errors.New("handle not started")

	// ErrAlreadyStarted is returned by Start on a handle that is no longer created.
	ErrAlreadyStarted = errors.New("handle already started")
)

// Outcome describes a terminated handle.
type Outcome struct {
	HandleID   string `json:"handle_id"`
	Seq        int    `json:"seq"`
	PID        int    `json:"pid,omitempty"`
	Outcome    string `json:"outcome"`
	Value      *int   `json:"value,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int    `json:"duration_ms"`
	Reaped     bool   `json:"reaped"`

	// Err is the execution failure, if any.
	Err error `json:"-"`
}

// Handle is one spawned execution context. It is owned by the launcher that
// spawned it and moves through created, started and terminated exactly once.
type Handle struct {
	id          string
	runID       string
	seq         int
	unit        work.Unit
	backendName string
	backend     backend.Backend
	l           *Launcher

	mu       sync.Mutex
	status   string
	exec     backend.Execution
	canceled bool
	outcome  Outcome
	done     chan struct{}
}

// ID returns the handle's identifier.
func (h *Handle) ID() string { return h.id }

// Status returns the handle's current lifecycle status.
func (h *Handle) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done returns a channel closed once the handle has terminated.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start begins running the handle's unit concurrently with the caller and
// returns without waiting for it. If the backend fails to start the context,
// the handle terminates with a failed outcome.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != model.StatusCreated {
		return fmt.Errorf("%w: handle %s is %s", ErrAlreadyStarted, h.id, h.status)
	}

	exec, err := h.backend.Start(ctx, backend.UnitSpec{HandleID: h.id, Unit: h.unit})
	if err != nil {
		h.terminateLocked(Outcome{Outcome: model.OutcomeFailed, ExitCode: -1, Err: err})
		return fmt.Errorf("start handle %s: %w", h.id, err)
	}

	h.exec = exec
	h.status = model.StatusStarted
	pid := exec.PID()

	if err := h.l.store.StartHandle(context.Background(), h.id, pid); err != nil {
		h.l.logger.Error("failed to record handle start", "handle_id", h.id, "error", err)
	}
	h.l.publish(h, model.StatusStarted, "", pid)
	activeHandles.WithLabelValues(h.backendName).Inc()
	h.l.logger.Info("handle started", "run_id", h.runID, "handle_id", h.id, "seq", h.seq, "pid", pid)

	go h.wait(exec)
	return nil
}

// wait reaps the execution context and records the outcome.
func (h *Handle) wait(exec backend.Execution) {
	res, err := exec.Wait()
	activeHandles.WithLabelValues(h.backendName).Dec()

	o := Outcome{
		PID:        exec.PID(),
		Outcome:    model.OutcomeSucceeded,
		Value:      res.Value,
		ExitCode:   res.ExitCode,
		DurationMS: res.DurationMS,
		Reaped:     res.Reaped,
		Err:        err,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// A context that finished cleanly stays succeeded even if Cancel raced
	// with its exit.
	switch {
	case err == nil:
	case h.canceled:
		o.Outcome = model.OutcomeCanceled
	default:
		o.Outcome = model.OutcomeFailed
	}
	h.terminateLocked(o)
}

// terminateLocked moves the handle to terminated, records o and wakes
// joiners. h.mu must be held.
func (h *Handle) terminateLocked(o Outcome) {
	o.HandleID = h.id
	o.Seq = h.seq
	h.outcome = o
	h.status = model.StatusTerminated
	close(h.done)

	now := time.Now().UTC()
	exitCode := o.ExitCode
	rec := &model.Handle{
		ID:         h.id,
		Outcome:    o.Outcome,
		Value:      o.Value,
		ExitCode:   &exitCode,
		FinishedAt: &now,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if err := h.l.store.FinishHandle(context.Background(), rec); err != nil {
		h.l.logger.Error("failed to record handle termination", "handle_id", h.id, "error", err)
	}

	h.l.publish(h, model.StatusTerminated, o.Outcome, o.PID)
	handlesTotal.WithLabelValues(h.backendName, o.Outcome).Inc()

	level := h.l.logger.Info
	if o.Outcome == model.OutcomeFailed {
		level = h.l.logger.Warn
	}
	level("handle terminated",
		"run_id", h.runID,
		"handle_id", h.id,
		"outcome", o.Outcome,
		"exit_code", o.ExitCode,
		"duration_ms", o.DurationMS,
		"reaped", o.Reaped,
	)
}

// Join blocks until the handle's execution context has terminated and returns
// its outcome. Joining a terminated handle returns immediately. ctx bounds
// only the caller's wait; the execution context is unaffected by it.
func (h *Handle) Join(ctx context.Context) (Outcome, error) {
	if h.Status() == model.StatusCreated {
		return Outcome{}, fmt.Errorf("%w: handle %s", ErrNotStarted, h.id)
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, nil
}

// Cancel stops the handle. A created handle is discarded without starting; a
// started one is killed and terminates with a canceled outcome once reaped,
// unless it had already exited cleanly.
// Cancelling a terminated handle does nothing.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.status {
	case model.StatusCreated:
		h.terminateLocked(Outcome{Outcome: model.OutcomeCanceled})
	case model.StatusStarted:
		h.canceled = true
		if err := h.exec.Kill(); err != nil {
			h.l.logger.Error("failed to kill execution context", "handle_id", h.id, "error", err)
		}
	}
}
