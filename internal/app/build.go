package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/agentapi"
	"github.com/antoniostano/concierge/internal/audio"
	"github.com/antoniostano/concierge/internal/booking"
	"github.com/antoniostano/concierge/internal/config"
	"github.com/antoniostano/concierge/internal/httpapi"
	"github.com/antoniostano/concierge/internal/observability"
	"github.com/antoniostano/concierge/internal/provision"
	"github.com/antoniostano/concierge/internal/voice"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *voice.Controller
	Hub        *httpapi.Hub
	Bookings   booking.Store
	Metrics    *observability.Metrics
	AudioInfo  string

	// Cleanup hangs up any live session and releases the booking store.
	Cleanup func() error
}

// Build wires the concierge from cfg. Metrics register on the default
// prometheus registry.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	bookings, err := booking.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("booking store init failed: %w", err)
	}

	audioSetup, err := resolveAudio(cfg)
	if err != nil {
		_ = bookings.Close()
		return nil, err
	}

	// The in-process provisioner also backs /api/voice; a remote one is
	// only consumed.
	var prov provision.Provisioner = provision.NewStatic(cfg.VoiceWSBaseURL, cfg.AgentID, cfg.LyzrAPIKey)
	localProv := prov
	if strings.TrimSpace(cfg.VoiceProvisionURL) != "" {
		prov = provision.NewHTTP(cfg.VoiceProvisionURL, logger)
	}

	proxy := agentapi.NewProxy(cfg.AgentInferenceURL, cfg.LyzrAPIKey, cfg.AgentID, cfg.TextRequestTimeout, logger)
	text := agentapi.NewClient(textAgentURL(cfg), cfg.TextRequestTimeout, logger)

	hub := httpapi.NewHub(logger)
	controller, err := voice.New(voice.Config{
		AgentID:           cfg.AgentID,
		Provisioner:       prov,
		Source:            audioSetup.source,
		Player:            audioSetup.player,
		Dial:              voice.RealtimeDialer(cfg.RealtimeDialTimeout, logger),
		Encoder:           audio.NewChunkEncoder(cfg.AudioChunkInterval, logger),
		PreferredEncoding: audio.Encoding(cfg.AudioPreferredEncoding),
		Text:              text,
		Sink:              hub,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		_ = bookings.Close()
		return nil, fmt.Errorf("voice controller init failed: %w", err)
	}

	api := httpapi.New(cfg, controller, httpapi.Deps{
		Bookings:    bookings,
		Hub:         hub,
		Provisioner: localProv,
		AgentProxy:  proxy,
		Metrics:     metrics,
		Logger:      logger,
	})

	cleanup := func() error {
		return errors.Join(controller.Close(), bookings.Close())
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: controller,
		Hub:        hub,
		Bookings:   bookings,
		Metrics:    metrics,
		AudioInfo:  audioSetup.detail,
		Cleanup:    cleanup,
	}, nil
}

// textAgentURL defaults to the local /api/agent proxy on the bind address.
func textAgentURL(cfg config.Config) string {
	if u := strings.TrimSpace(cfg.TextAgentURL); u != "" {
		return u
	}
	host := cfg.BindAddr
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return "http://" + host + "/api/agent"
}
