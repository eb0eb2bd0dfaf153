package inproc_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/backend/inproc"
	"github.com/seantiz/procjoin/internal/work"
)

func newBackend() *inproc.Backend {
	return inproc.New(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestStartAndWait(t *testing.T) {
	b := newBackend()
	spec := backend.UnitSpec{HandleID: "h1", Unit: work.Unit{Name: "quick", Sleep: 10 * time.Millisecond, Value: 42}}

	exec, err := b.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.PID() != 0 {
		t.Errorf("PID = %d, want 0", exec.PID())
	}

	res, err := exec.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Value == nil || *res.Value != 42 {
		t.Errorf("Value = %v, want 42", res.Value)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !res.Reaped {
		t.Error("Reaped = false, want true")
	}
}

func TestStartDoesNotBlock(t *testing.T) {
	b := newBackend()
	spec := backend.UnitSpec{HandleID: "h1", Unit: work.Unit{Name: "slow", Sleep: 200 * time.Millisecond}}

	begin := time.Now()
	exec, err := b.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 50*time.Millisecond {
		t.Errorf("Start took %v, want it to return immediately", elapsed)
	}
	exec.Kill()
	exec.Wait()
}

func TestKill(t *testing.T) {
	b := newBackend()
	spec := backend.UnitSpec{HandleID: "h1", Unit: work.Unit{Name: "long", Sleep: 10 * time.Second}}

	exec, err := b.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := exec.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	res, err := exec.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait error = %v, want context.Canceled", err)
	}
	if res.Value != nil {
		t.Errorf("Value = %v, want nil for killed context", *res.Value)
	}
}

func TestStartContextCancelDoesNotStopExecution(t *testing.T) {
	b := newBackend()
	ctx, cancel := context.WithCancel(context.Background())
	spec := backend.UnitSpec{HandleID: "h1", Unit: work.Unit{Name: "quick", Sleep: 20 * time.Millisecond, Value: 42}}

	exec, err := b.Start(ctx, spec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	res, err := exec.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Value == nil || *res.Value != 42 {
		t.Errorf("Value = %v, want 42", res.Value)
	}
}

func TestStartInvalidUnit(t *testing.T) {
	b := newBackend()
	if _, err := b.Start(context.Background(), backend.UnitSpec{HandleID: "h1"}); err == nil {
		t.Error("Start with empty unit succeeded, want error")
	}
}

func TestCapabilities(t *testing.T) {
	caps := newBackend().Capabilities()
	if caps.Name != "inproc" {
		t.Errorf("Name = %q, want inproc", caps.Name)
	}
	if caps.Isolated {
		t.Error("Isolated = true, want false")
	}
	if !caps.ReportsValue {
		t.Error("ReportsValue = false, want true")
	}
}
