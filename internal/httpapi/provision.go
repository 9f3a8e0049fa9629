package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/policy"
	"github.com/antoniostano/concierge/internal/provision"
)

// handleVoiceEndpoint issues a realtime endpoint for a browser or remote
// client. The key-bearing URL is only ever logged redacted.
func (s *Server) handleVoiceEndpoint(w http.ResponseWriter, r *http.Request) {
	wsURL, err := s.prov.Endpoint(r.Context())
	if err != nil {
		s.logger.Warn("voice endpoint unavailable", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, provision.EndpointResponse{Error: err.Error()})
		return
	}
	s.logger.Debug("voice endpoint issued", zap.String("url", policy.RedactURL(wsURL)))
	respondJSON(w, http.StatusOK, provision.EndpointResponse{WSURL: wsURL})
}
