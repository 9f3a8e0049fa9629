package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/booking"
	"github.com/antoniostano/concierge/internal/session"
)

const defaultRecentBookings = 20

type bookingRequest struct {
	session.Booking
	SessionID string `json:"sessionId,omitempty"`
}

// handleCreateBooking stores a booking summary from the reservation system
// and attaches it to the current session view.
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON booking")
		return
	}
	req.ConfirmationNumber = strings.TrimSpace(req.ConfirmationNumber)
	if err := booking.Validate(req.Booking); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_booking", err.Error())
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.controller.Snapshot().SessionID
	}
	rec, err := s.bookings.Save(r.Context(), booking.Record{SessionID: sessionID, Booking: req.Booking})
	if err != nil {
		s.logger.Error("save booking", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "booking_store_error", "booking could not be saved")
		return
	}
	s.controller.AttachBooking(rec.Booking)
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	confirmation := strings.TrimSpace(chi.URLParam(r, "confirmation"))
	if confirmation == "" {
		respondError(w, http.StatusBadRequest, "invalid_confirmation", "missing confirmation number")
		return
	}
	rec, err := s.bookings.Get(r.Context(), confirmation)
	if errors.Is(err, booking.ErrNotFound) {
		respondError(w, http.StatusNotFound, "booking_not_found", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get booking", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "booking_store_error", "booking lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentBookings
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.bookings.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list bookings", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "booking_store_error", "booking list failed")
		return
	}
	if recs == nil {
		recs = []booking.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"bookings": recs})
}
