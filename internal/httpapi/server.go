package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/booking"
	"github.com/antoniostano/concierge/internal/config"
	"github.com/antoniostano/concierge/internal/observability"
	"github.com/antoniostano/concierge/internal/provision"
	"github.com/antoniostano/concierge/internal/session"
	"github.com/antoniostano/concierge/internal/voice"
)

// Controller is the voice session surface the local API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Reset()
	SendText(ctx context.Context, message string) ([]session.Entry, error)
	Snapshot() voice.Snapshot
	AttachBooking(b session.Booking)
}

// Deps are the optional collaborators of a Server. A nil Provisioner or
// AgentProxy leaves the matching route unregistered.
type Deps struct {
	Bookings    booking.Store
	Hub         *Hub
	Provisioner provision.Provisioner
	AgentProxy  http.Handler
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

type Server struct {
	cfg        config.Config
	controller Controller
	bookings   booking.Store
	hub        *Hub
	prov       provision.Provisioner
	agentProxy http.Handler
	metrics    *observability.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, controller Controller, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bookings := deps.Bookings
	if bookings == nil {
		bookings = booking.NewInMemoryStore()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		cfg:        cfg,
		controller: controller,
		bookings:   bookings,
		hub:        hub,
		prov:       deps.Provisioner,
		agentProxy: deps.AgentProxy,
		metrics:    deps.Metrics,
		logger:     logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may watch the session unless opted out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/session", s.handleSnapshot)
	r.Post("/v1/session/start", s.handleStart)
	r.Post("/v1/session/end", s.handleEnd)
	r.Post("/v1/session/reset", s.handleReset)
	r.Post("/v1/session/text", s.handleText)
	r.Get("/v1/session/events", s.handleEvents)
	r.Get("/v1/agent/info", s.handleAgentInfo)
	r.Get("/v1/perf/stages", s.handlePerfStages)

	r.Post("/v1/bookings", s.handleCreateBooking)
	r.Get("/v1/bookings", s.handleListBookings)
	r.Get("/v1/bookings/{confirmation}", s.handleGetBooking)

	if s.prov != nil {
		r.Get("/api/voice", s.handleVoiceEndpoint)
	}
	if s.agentProxy != nil {
		r.Post("/api/agent", s.agentProxy.ServeHTTP)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	voiceConfigured := strings.TrimSpace(s.cfg.LyzrAPIKey) != "" || strings.TrimSpace(s.cfg.VoiceProvisionURL) != ""
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"voice_configured": voiceConfigured,
		"booking_store":    bookingStoreMode(s.bookings),
		"audio_source":     s.cfg.AudioSource,
		"audio_playback":   s.cfg.AudioPlayback,
	})
}

func bookingStoreMode(store booking.Store) string {
	switch store.(type) {
	case *booking.PostgresStore:
		return "postgres"
	case *booking.InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
