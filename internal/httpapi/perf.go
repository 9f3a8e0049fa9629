package httpapi

import "net/http"

func (s *Server) handlePerfStages(w http.ResponseWriter, _ *http.Request) {
	// Nil metrics still yield an empty snapshot.
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}
