package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Backends: names})
}
