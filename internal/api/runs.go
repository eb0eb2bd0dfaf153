package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/procjoin/internal/launcher"
	"github.com/seantiz/procjoin/internal/model"
	"github.com/seantiz/procjoin/internal/store"
	"github.com/seantiz/procjoin/internal/work"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
	maxRunCount      = 64
	maxUnitSleep     = time.Minute
)

// submitRunRequest is the JSON body for POST /v1/runs. Omitted fields fall
// back to the canonical unit and count.
type submitRunRequest struct {
	Unit    *unitReq `json:"unit"`
	Count   int      `json:"count"`
	Backend string   `json:"backend"`
}

type unitReq struct {
	Name  string `json:"name"`
	Sleep string `json:"sleep"`
	Value *int   `json:"value"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type listHandlesResponse struct {
	RunID   string          `json:"run_id"`
	Handles []*model.Handle `json:"handles"`
}

// toUnit applies the request fields on top of the default unit.
func (u *unitReq) toUnit() (work.Unit, error) {
	unit := work.Default()
	if u == nil {
		return unit, nil
	}
	if u.Name != "" {
		unit.Name = u.Name
	}
	if u.Sleep != "" {
		d, err := time.ParseDuration(u.Sleep)
		if err != nil {
			return work.Unit{}, errors.New("sleep must be a duration such as 100ms")
		}
		if d > maxUnitSleep {
			return work.Unit{}, errors.New("sleep exceeds " + maxUnitSleep.String())
		}
		unit.Sleep = d
	}
	if u.Value != nil {
		unit.Value = *u.Value
	}
	return unit, unit.Validate()
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Count < 0 || req.Count > maxRunCount {
		s.writeError(w, http.StatusBadRequest, "count must be at most "+strconv.Itoa(maxRunCount)+" (0 uses the default)")
		return
	}

	unit, err := req.Unit.toUnit()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, _, err := s.registry.Resolve(req.Backend); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.launcher.Submit(r.Context(), launcher.RunSpec{
		Unit:    unit,
		Count:   req.Count,
		Backend: req.Backend,
	})
	if err != nil {
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}
	runsSubmitted.WithLabelValues(run.Backend).Inc()

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleListHandles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run for handles", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	handles, err := s.store.ListHandles(r.Context(), id)
	if err != nil {
		s.logger.Error("list handles", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list handles")
		return
	}
	if handles == nil {
		handles = []*model.Handle{}
	}

	s.writeJSON(w, http.StatusOK, listHandlesResponse{RunID: id, Handles: handles})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
