package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/model"
	"github.com/seantiz/procjoin/internal/store"
	"github.com/seantiz/procjoin/internal/work"
)

// ErrRunFailed is returned by Run when at least one handle did not succeed.
var ErrRunFailed = errors.New("run failed")

// Launcher spawns, starts and joins execution contexts.
type Launcher struct {
	store    store.Store
	registry *backend.Registry
	logger   *slog.Logger
	broker   *EventBroker
	wg       sync.WaitGroup
}

// New creates a launcher that resolves backends from reg and records runs
// and handles in s.
func New(s store.Store, reg *backend.Registry, logger *slog.Logger) *Launcher {
	return &Launcher{
		store:    s,
		registry: reg,
		logger:   logger,
		broker:   NewEventBroker(),
	}
}

// Broker returns the launcher's event broker for SSE subscription.
func (l *Launcher) Broker() *EventBroker {
	return l.broker
}

// SpawnOption configures Spawn.
type SpawnOption func(*spawnOptions)

type spawnOptions struct {
	runID   string
	seq     int
	backend string
}

// WithRun attaches the handle to a run at position seq.
func WithRun(runID string, seq int) SpawnOption {
	return func(o *spawnOptions) {
		o.runID = runID
		o.seq = seq
	}
}

// WithBackend selects the backend by name. The default is the registry's.
func WithBackend(name string) SpawnOption {
	return func(o *spawnOptions) {
		o.backend = name
	}
}

// Spawn creates a handle bound to unit. Nothing runs until Start is called.
func (l *Launcher) Spawn(ctx context.Context, unit work.Unit, opts ...SpawnOption) (*Handle, error) {
	var o spawnOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := unit.Validate(); err != nil {
		return nil, err
	}

	name, b, err := l.registry.Resolve(o.backend)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		id:          model.NewID(),
		runID:       o.runID,
		seq:         o.seq,
		unit:        unit,
		backendName: name,
		backend:     b,
		l:           l,
		status:      model.StatusCreated,
		done:        make(chan struct{}),
	}

	rec := &model.Handle{
		ID:        h.id,
		RunID:     h.runID,
		Seq:       h.seq,
		Backend:   name,
		Status:    model.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.CreateHandle(ctx, rec); err != nil {
		return nil, fmt.Errorf("create handle: %w", err)
	}

	l.publish(h, model.StatusCreated, "", 0)
	return h, nil
}

func (l *Launcher) publish(h *Handle, status, outcome string, pid int) {
	if h.runID == "" {
		return
	}
	l.broker.Publish(model.Event{
		RunID:    h.runID,
		HandleID: h.id,
		Seq:      h.seq,
		Status:   status,
		Outcome:  outcome,
		PID:      pid,
		At:       time.Now().UTC(),
	})
}

// RunSpec describes a run: Count handles of Unit on Backend.
type RunSpec struct {
	Unit    work.Unit
	Count   int
	Backend string
}

// RunResult holds the run record and the outcome of every handle in spawn order.
type RunResult struct {
	Run      model.Run `json:"run"`
	Outcomes []Outcome `json:"outcomes"`
}

// Run spawns spec.Count handles bound to spec.Unit, starts them in order and
// joins them in the same order. It returns once every handle has terminated.
// If ctx is cancelled before all joins complete, outstanding handles are
// cancelled and joined before Run returns ctx.Err().
func (l *Launcher) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	run, err := l.prepare(ctx, spec)
	if err != nil {
		return RunResult{}, err
	}
	return l.execute(ctx, run, spec.Unit)
}

// Submit records a run and executes it in the background. The returned run
// is in the running state.
func (l *Launcher) Submit(ctx context.Context, spec RunSpec) (*model.Run, error) {
	run, err := l.prepare(ctx, spec)
	if err != nil {
		return nil, err
	}

	runCopy := *run
	l.wg.Go(func() {
		if _, err := l.execute(context.Background(), &runCopy, spec.Unit); err != nil {
			l.logger.Warn("background run finished with error", "run_id", runCopy.ID, "error", err)
		}
	})

	return run, nil
}

// Wait blocks until all runs started with Submit have finished.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// prepare validates spec, resolves the backend name and records the run.
func (l *Launcher) prepare(ctx context.Context, spec RunSpec) (*model.Run, error) {
	if spec.Count == 0 {
		spec.Count = work.DefaultCount
	}
	if spec.Count < 0 {
		return nil, fmt.Errorf("count must be positive, got %d", spec.Count)
	}
	if err := spec.Unit.Validate(); err != nil {
		return nil, err
	}

	name, _, err := l.registry.Resolve(spec.Backend)
	if err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:        model.NewID(),
		Unit:      spec.Unit.Name,
		Backend:   name,
		Count:     spec.Count,
		Status:    model.RunRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// execute is the spawn, start, join sequence for a recorded run.
func (l *Launcher) execute(ctx context.Context, run *model.Run, unit work.Unit) (result RunResult, err error) {
	start := time.Now()
	handles := make([]*Handle, 0, run.Count)

	l.logger.Info("run started", "run_id", run.ID, "backend", run.Backend, "count", run.Count, "unit", unit.Name)

	defer func() {
		// Every handle created below is joined before returning. On an error
		// path the stragglers are cancelled first.
		if err != nil {
			for _, h := range handles {
				h.Cancel()
			}
		}
		outcomes := make([]Outcome, 0, len(handles))
		for _, h := range handles {
			o, joinErr := h.Join(context.Background())
			if joinErr != nil {
				l.logger.Error("join during cleanup", "handle_id", h.id, "error", joinErr)
				continue
			}
			outcomes = append(outcomes, o)
		}

		if err == nil {
			err = checkOutcomes(outcomes, run.Count)
		}

		l.finishRun(run, start, err)
		l.broker.Close(run.ID)

		result = RunResult{Run: *run, Outcomes: outcomes}
	}()

	for i := 0; i < run.Count; i++ {
		h, err := l.Spawn(ctx, unit, WithRun(run.ID, i), WithBackend(run.Backend))
		if err != nil {
			return RunResult{}, fmt.Errorf("spawn handle %d: %w", i, err)
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		if err := h.Start(ctx); err != nil {
			return RunResult{}, err
		}
	}

	for _, h := range handles {
		if _, err := h.Join(ctx); err != nil {
			return RunResult{}, fmt.Errorf("join handle %s: %w", h.id, err)
		}
	}

	return RunResult{}, nil
}

// checkOutcomes returns ErrRunFailed unless want handles all succeeded.
func checkOutcomes(outcomes []Outcome, want int) error {
	failed := want - len(outcomes)
	var first error
	for _, o := range outcomes {
		if o.Outcome != model.OutcomeSucceeded {
			failed++
			if first == nil && o.Err != nil {
				first = o.Err
			}
		}
	}
	if failed == 0 {
		return nil
	}
	if first != nil {
		return fmt.Errorf("%w: %d of %d handles did not succeed: %w", ErrRunFailed, failed, want, first)
	}
	return fmt.Errorf("%w: %d of %d handles did not succeed", ErrRunFailed, failed, want)
}

// finishRun records the terminal state of run.
func (l *Launcher) finishRun(run *model.Run, start time.Time, runErr error) {
	now := time.Now().UTC()
	elapsed := time.Since(start)
	durationMS := int(elapsed.Milliseconds())

	run.Status = model.RunCompleted
	if runErr != nil {
		run.Status = model.RunFailed
		run.Error = runErr.Error()
	}
	run.DurationMS = &durationMS
	run.FinishedAt = &now

	if err := l.store.FinishRun(context.Background(), run); err != nil {
		l.logger.Error("failed to record run completion", "run_id", run.ID, "error", err)
	}
	runDuration.WithLabelValues(run.Backend, run.Status).Observe(elapsed.Seconds())

	if runErr != nil {
		l.logger.Warn("run failed", "run_id", run.ID, "duration_ms", durationMS, "error", runErr)
		return
	}
	l.logger.Info("run completed", "run_id", run.ID, "duration_ms", durationMS)
}
