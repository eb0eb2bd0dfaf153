package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/procjoin/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRun() *model.Run {
	return &model.Run{
		ID:        model.NewID(),
		Unit:      "sleep42",
		Backend:   model.BackendInproc,
		Count:     2,
		Status:    model.RunRunning,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func makeTestHandle(runID string, seq int) *model.Handle {
	return &model.Handle{
		ID:        model.NewID(),
		RunID:     runID,
		Seq:       seq,
		Backend:   model.BackendInproc,
		Status:    model.StatusCreated,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func intPtr(v int) *int { return &v }

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()

	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != r.ID {
		t.Errorf("ID = %q, want %q", got.ID, r.ID)
	}
	if got.Unit != r.Unit {
		t.Errorf("Unit = %q, want %q", got.Unit, r.Unit)
	}
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}
	if got.Status != model.RunRunning {
		t.Errorf("Status = %q, want %q", got.Status, model.RunRunning)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	now := time.Now().UTC()
	r.Status = model.RunCompleted
	r.DurationMS = intPtr(105)
	r.FinishedAt = &now
	if err := s.FinishRun(ctx, r); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.DurationMS == nil || *got.DurationMS != 105 {
		t.Errorf("DurationMS = %v, want 105", got.DurationMS)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil")
	}
}

func TestFinishRunNotFound(t *testing.T) {
	s := newTestStore(t)
	r := makeTestRun()
	if err := s.FinishRun(context.Background(), r); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun error = %v, want ErrNotFound", err)
	}
}

func TestListRunsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := makeTestRun()
		r.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun[%d]: %v", i, err)
		}
	}

	runs, total, err := s.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].CreatedAt.Before(runs[1].CreatedAt) {
		t.Error("runs not ordered by created_at DESC")
	}

	runs, _, err = s.ListRuns(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListRuns page 3: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("len(page 3) = %d, want 1", len(runs))
	}
}

func TestHandleLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	h := makeTestHandle(r.ID, 0)
	if err := s.CreateHandle(ctx, h); err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}

	if err := s.StartHandle(ctx, h.ID, 4242); err != nil {
		t.Fatalf("StartHandle: %v", err)
	}
	got, err := s.GetHandle(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHandle: %v", err)
	}
	if got.Status != model.StatusStarted {
		t.Errorf("Status = %q, want started", got.Status)
	}
	if got.PID != 4242 {
		t.Errorf("PID = %d, want 4242", got.PID)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt is nil after start")
	}

	h.Outcome = model.OutcomeSucceeded
	h.Value = intPtr(42)
	h.ExitCode = intPtr(0)
	if err := s.FinishHandle(ctx, h); err != nil {
		t.Fatalf("FinishHandle: %v", err)
	}

	got, err = s.GetHandle(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHandle: %v", err)
	}
	if got.Status != model.StatusTerminated {
		t.Errorf("Status = %q, want terminated", got.Status)
	}
	if got.Outcome != model.OutcomeSucceeded {
		t.Errorf("Outcome = %q, want succeeded", got.Outcome)
	}
	if got.Value == nil || *got.Value != 42 {
		t.Errorf("Value = %v, want 42", got.Value)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil after finish")
	}
}

func TestHandleInvalidTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := makeTestHandle("run", 0)
	if err := s.CreateHandle(ctx, h); err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}
	if err := s.StartHandle(ctx, h.ID, 1); err != nil {
		t.Fatalf("StartHandle: %v", err)
	}

	// started → started is not allowed.
	if err := s.StartHandle(ctx, h.ID, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second StartHandle error = %v, want ErrInvalidTransition", err)
	}

	h.Outcome = model.OutcomeSucceeded
	if err := s.FinishHandle(ctx, h); err != nil {
		t.Fatalf("FinishHandle: %v", err)
	}

	// terminated is final.
	if err := s.FinishHandle(ctx, h); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second FinishHandle error = %v, want ErrInvalidTransition", err)
	}
	if err := s.StartHandle(ctx, h.ID, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("StartHandle after terminate error = %v, want ErrInvalidTransition", err)
	}
}

func TestCreateHandleRejectsNonCreated(t *testing.T) {
	s := newTestStore(t)
	h := makeTestHandle("run", 0)
	h.Status = model.StatusStarted
	if err := s.CreateHandle(context.Background(), h); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CreateHandle error = %v, want ErrInvalidTransition", err)
	}
}

func TestDiscardUnstartedHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := makeTestHandle("run", 0)
	if err := s.CreateHandle(ctx, h); err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}
	h.Outcome = model.OutcomeCanceled
	if err := s.FinishHandle(ctx, h); err != nil {
		t.Fatalf("FinishHandle on created handle: %v", err)
	}
}

func TestStartHandleNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.StartHandle(context.Background(), "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("StartHandle error = %v, want ErrNotFound", err)
	}
}

func TestListHandlesOrderedBySeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, seq := range []int{2, 0, 1} {
		if err := s.CreateHandle(ctx, makeTestHandle("run-a", seq)); err != nil {
			t.Fatalf("CreateHandle: %v", err)
		}
	}
	if err := s.CreateHandle(ctx, makeTestHandle("run-b", 0)); err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}

	handles, err := s.ListHandles(ctx, "run-a")
	if err != nil {
		t.Fatalf("ListHandles: %v", err)
	}
	if len(handles) != 3 {
		t.Fatalf("len(handles) = %d, want 3", len(handles))
	}
	for i, h := range handles {
		if h.Seq != i {
			t.Errorf("handles[%d].Seq = %d, want %d", i, h.Seq, i)
		}
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []string{model.RunCompleted, model.RunCompleted, model.RunFailed} {
		r := makeTestRun()
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun[%d]: %v", i, err)
		}
		now := time.Now().UTC()
		r.Status = status
		r.DurationMS = intPtr(100 * (i + 1))
		r.FinishedAt = &now
		if err := s.FinishRun(ctx, r); err != nil {
			t.Fatalf("FinishRun[%d]: %v", i, err)
		}

		h := makeTestHandle(r.ID, 0)
		if status == model.RunFailed {
			h.Backend = model.BackendSubprocess
		}
		if err := s.CreateHandle(ctx, h); err != nil {
			t.Fatalf("CreateHandle[%d]: %v", i, err)
		}
		h.Outcome = model.OutcomeSucceeded
		if status == model.RunFailed {
			h.Outcome = model.OutcomeFailed
		}
		if err := s.FinishHandle(ctx, h); err != nil {
			t.Fatalf("FinishHandle[%d]: %v", i, err)
		}
	}

	stats, err := s.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.TotalRuns != 3 {
		t.Errorf("TotalRuns = %d, want 3", stats.TotalRuns)
	}
	if stats.RunsByStatus[model.RunCompleted] != 2 || stats.RunsByStatus[model.RunFailed] != 1 {
		t.Errorf("RunsByStatus = %v", stats.RunsByStatus)
	}
	if stats.TotalHandles != 3 {
		t.Errorf("TotalHandles = %d, want 3", stats.TotalHandles)
	}
	if stats.HandlesByOutcome[model.OutcomeFailed] != 1 {
		t.Errorf("HandlesByOutcome = %v", stats.HandlesByOutcome)
	}
	if stats.HandlesByBackend[model.BackendInproc] != 2 || stats.HandlesByBackend[model.BackendSubprocess] != 1 {
		t.Errorf("HandlesByBackend = %v", stats.HandlesByBackend)
	}
	if stats.AvgRunDurationMS != 200 {
		t.Errorf("AvgRunDurationMS = %v, want 200", stats.AvgRunDurationMS)
	}
}

func TestGetRunStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.GetRunStats(context.Background())
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.TotalRuns != 0 || stats.AvgRunDurationMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
}
