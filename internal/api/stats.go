package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	TotalRuns        int            `json:"total_runs"`
	RunsByStatus     map[string]int `json:"runs_by_status"`
	TotalHandles     int            `json:"total_handles"`
	HandlesByOutcome map[string]int `json:"handles_by_outcome"`
	HandlesByBackend map[string]int `json:"handles_by_backend"`
	AvgRunDurationMS float64        `json:"avg_run_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		TotalRuns:        stats.TotalRuns,
		RunsByStatus:     stats.RunsByStatus,
		TotalHandles:     stats.TotalHandles,
		HandlesByOutcome: stats.HandlesByOutcome,
		HandlesByBackend: stats.HandlesByBackend,
		AvgRunDurationMS: stats.AvgRunDurationMS,
	})
}
