package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/session"
	"github.com/antoniostano/concierge/internal/voice"
)

// handleSnapshot returns the current session view. With sample=true the
// transcript and booking are replaced by demonstration data; the live
// session is not touched.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sample := false
	if raw := strings.TrimSpace(r.URL.Query().Get("sample")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_sample", "sample must be true or false")
			return
		}
		sample = v
	}
	snap := s.controller.Snapshot()
	if sample {
		b := session.SampleBooking()
		snap.Transcript = session.SampleTranscript()
		snap.Booking = &b
	}
	if snap.Transcript == nil {
		snap.Transcript = []session.Entry{}
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(r.Context()); err != nil {
		status, code := classifyError(err)
		s.logger.Info("session start rejected", zap.String("code", code), zap.Error(err))
		respondError(w, status, code, errorMessage(err))
		return
	}
	respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleEnd(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.controller.Reset()
	respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

type textRequest struct {
	Message string `json:"message"`
}

type textResponse struct {
	Entries []session.Entry `json:"entries"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with a message field")
		return
	}
	entries, err := s.controller.SendText(r.Context(), req.Message)
	if err != nil {
		status, code := classifyError(err)
		respondError(w, status, code, errorMessage(err))
		return
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	respondJSON(w, http.StatusOK, textResponse{Entries: entries})
}

type agentInfo struct {
	Name         string         `json:"name"`
	AgentID      string         `json:"agentId"`
	ShortID      string         `json:"shortId"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities"`
	Active       bool           `json:"active"`
	Status       session.Status `json:"status"`
}

func (s *Server) handleAgentInfo(w http.ResponseWriter, _ *http.Request) {
	status := s.controller.Snapshot().Status
	shortID := s.cfg.AgentID
	if len(shortID) > 8 {
		shortID = shortID[:8] + "..."
	}
	name := s.cfg.AgentName
	if name == "" {
		name = "Hotel Concierge Agent"
	}
	respondJSON(w, http.StatusOK, agentInfo{
		Name:         name,
		AgentID:      s.cfg.AgentID,
		ShortID:      shortID,
		Description:  "Voice-powered concierge for room bookings, amenities, dining reservations, and guest services.",
		Capabilities: []string{"Voice Agent", "Inbound"},
		Active:       status.Active(),
		Status:       status,
	})
}

func classifyError(err error) (int, string) {
	var (
		cfgErr   *voice.ConfigurationError
		permErr  *voice.PermissionError
		transErr *voice.TransportError
	)
	switch {
	case errors.Is(err, voice.ErrSessionActive), errors.Is(err, voice.ErrSessionEnded):
		return http.StatusConflict, "session_conflict"
	case errors.Is(err, voice.ErrCanceled):
		return http.StatusConflict, "setup_canceled"
	case errors.Is(err, voice.ErrTextInFlight):
		return http.StatusTooManyRequests, "text_in_flight"
	case errors.Is(err, voice.ErrTextDisabled), errors.Is(err, voice.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.As(err, &permErr):
		return http.StatusServiceUnavailable, "microphone_unavailable"
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable, "voice_not_configured"
	case errors.As(err, &transErr):
		return http.StatusBadGateway, "transport_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// errorMessage keeps guest-facing wording for session failures and the
// plain reason for request-level rejections.
func errorMessage(err error) string {
	var (
		cfgErr   *voice.ConfigurationError
		permErr  *voice.PermissionError
		transErr *voice.TransportError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &permErr) || errors.As(err, &transErr) {
		return voice.UserMessage(err)
	}
	return err.Error()
}
