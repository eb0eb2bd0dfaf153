// Package subprocess runs each execution context as a separate OS process by
// re-executing the current binary in child mode. Children share no memory
// with the launcher.
package subprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/model"
)

// Compile-time interface satisfaction check.
var _ backend.Backend = (*Backend)(nil)

// Config holds subprocess backend settings.
type Config struct {
	// Executable is the binary to re-execute. Empty means os.Executable().
	Executable string

	// Env is appended to the inherited environment of every child.
	Env []string
}

// Backend implements backend.Backend with child processes.
type Backend struct {
	executable string
	env        []string
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]*execution // handleID → execution
}

// New creates a subprocess backend. It fails if the executable to re-run
// cannot be determined.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	exe := cfg.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		exe = self
	}

	return &Backend{
		executable: exe,
		env:        cfg.Env,
		logger:     logger,
		active:     make(map[string]*execution),
	}, nil
}

// Capabilities reports that child processes are memory-isolated and that the
// unit's value stays inside the child.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:         model.BackendSubprocess,
		Isolated:     true,
		ReportsValue: false,
	}
}

// Active returns the number of children started and not yet waited for.
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// Start forks a child that runs spec.Unit and exits.
func (b *Backend) Start(ctx context.Context, spec backend.UnitSpec) (backend.Execution, error) {
	if err := spec.Unit.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := spec.Unit.Encode()
	if err != nil {
		return nil, err
	}

	// exec.Command rather than CommandContext: the child must outlive ctx.
	cmd := exec.Command(b.executable)
	cmd.Env = append(os.Environ(), b.env...)
	cmd.Env = append(cmd.Env, EnvChildUnit+"="+encoded)
	cmd.Stdout = &lineLogger{logger: b.logger, handleID: spec.HandleID, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: b.logger, handleID: spec.HandleID, stream: "stderr"}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		childrenTotal.WithLabelValues(outcomeStartFailed).Inc()
		return nil, fmt.Errorf("start child: %w", err)
	}

	e := &execution{
		backend:  b,
		handleID: spec.HandleID,
		cmd:      cmd,
		start:    start,
	}

	b.mu.Lock()
	b.active[spec.HandleID] = e
	b.mu.Unlock()
	activeChildren.Inc()

	b.logger.Debug("child started", "handle_id", spec.HandleID, "pid", cmd.Process.Pid, "unit", spec.Unit.Name)
	return e, nil
}

func (b *Backend) release(handleID string) {
	b.mu.Lock()
	delete(b.active, handleID)
	b.mu.Unlock()
	activeChildren.Dec()
}

type execution struct {
	backend  *Backend
	handleID string
	cmd      *exec.Cmd
	start    time.Time
}

func (e *execution) PID() int { return e.cmd.Process.Pid }

func (e *execution) Wait() (backend.Result, error) {
	waitErr := e.cmd.Wait()
	e.backend.release(e.handleID)

	pid := e.PID()
	res := backend.Result{
		ExitCode:   e.cmd.ProcessState.ExitCode(),
		DurationMS: int(time.Since(e.start).Milliseconds()),
		Reaped:     verifyReaped(pid),
	}
	childWaitDuration.Observe(time.Since(e.start).Seconds())

	if !res.Reaped {
		unreapedTotal.Inc()
		e.backend.logger.Warn("child process still present after wait", "handle_id", e.handleID, "pid", pid)
	}

	if waitErr != nil {
		childrenTotal.WithLabelValues(outcomeFailed).Inc()
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("child %d: %s", pid, exitErr.ProcessState.String())
		}
		return res, fmt.Errorf("wait child %d: %w", pid, waitErr)
	}

	childrenTotal.WithLabelValues(outcomeSucceeded).Inc()
	e.backend.logger.Debug("child exited", "handle_id", e.handleID, "pid", pid, "duration_ms", res.DurationMS)
	return res, nil
}

func (e *execution) Kill() error {
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill child %d: %w", e.PID(), err)
	}
	return nil
}

// verifyReaped reports whether pid no longer names a live process. A lookup
// error is treated as not verified.
func verifyReaped(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return !exists
}

// lineLogger forwards child output to the launcher's logger, one record per line.
type lineLogger struct {
	logger   *slog.Logger
	handleID string
	stream   string

	buf strings.Builder
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	s := l.buf.String()
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		l.logger.Debug("child output", "handle_id", l.handleID, "stream", l.stream, "line", s[:i])
		s = s[i+1:]
	}
	l.buf.Reset()
	l.buf.WriteString(s)
	return len(p), nil
}
