package launcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/backend/inproc"
	"github.com/seantiz/procjoin/internal/model"
	"github.com/seantiz/procjoin/internal/store"
	"github.com/seantiz/procjoin/internal/work"
)

// findFamily returns the named family, or nil if it has no series yet.
func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	for _, m := range findFamily(t, name).GetMetric() {
		if hasLabels(m, labels) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func histogramCount(t *testing.T, name string, labels map[string]string) uint64 {
	t.Helper()
	for _, m := range findFamily(t, name).GetMetric() {
		if hasLabels(m, labels) {
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestMetricsRegistered(t *testing.T) {
	fam := findFamily(t, "procjoin_handles_total")
	if fam == nil {
		t.Fatal("procjoin_handles_total not registered")
	}

	// Every backend/outcome pair is pre-initialised.
	if got := len(fam.GetMetric()); got < 6 {
		t.Errorf("handles_total series = %d, want at least 6", got)
	}
	if findFamily(t, "procjoin_active_handles") == nil {
		t.Error("procjoin_active_handles not registered")
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := backend.NewRegistry(model.BackendInproc)
	reg.Register(model.BackendInproc, inproc.New(logger))
	l := New(s, reg, logger)

	succeeded := map[string]string{"backend": model.BackendInproc, "outcome": model.OutcomeSucceeded}
	completed := map[string]string{"backend": model.BackendInproc, "status": model.RunCompleted}

	beforeHandles := counterValue(t, "procjoin_handles_total", succeeded)
	beforeRuns := histogramCount(t, "procjoin_run_duration_seconds", completed)

	unit := work.Unit{Name: "quick", Sleep: 5 * time.Millisecond, Value: 42}
	if _, err := l.Run(context.Background(), RunSpec{Unit: unit, Count: 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if delta := counterValue(t, "procjoin_handles_total", succeeded) - beforeHandles; delta != 3 {
		t.Errorf("handles_total delta = %v, want 3", delta)
	}
	if delta := histogramCount(t, "procjoin_run_duration_seconds", completed) - beforeRuns; delta != 1 {
		t.Errorf("run_duration count delta = %d, want 1", delta)
	}
}
