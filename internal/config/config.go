package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the concierge voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string

	AgentID    string
	AgentName  string
	LyzrAPIKey string

	VoiceWSBaseURL    string
	VoiceProvisionURL string
	AgentInferenceURL string
	TextAgentURL      string

	AudioSource            string
	AudioInputFile         string
	AudioPlayback          string
	AudioSampleRate        int
	AudioChunkInterval     time.Duration
	AudioPreferredEncoding string

	RealtimeDialTimeout time.Duration
	TextRequestTimeout  time.Duration

	DatabaseURL string
}

const (
	AudioSourceDevice = "device"
	AudioSourceFile   = "file"

	AudioPlaybackDevice = "device"
	AudioPlaybackSilent = "silent"

	minChunkInterval = 20 * time.Millisecond
)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", "127.0.0.1:8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "concierge"),
		AllowAnyOrigin:   false,
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		AgentID:          envOrDefault("AGENT_ID", "698a1b3f0769219591839a9c"),
		AgentName:        envOrDefault("AGENT_NAME", "Hotel Concierge Agent"),
		LyzrAPIKey:       stringsTrimSpace("LYZR_API_KEY"),
		VoiceWSBaseURL:   envOrDefault("VOICE_WS_BASE_URL", "wss://agent-prod.studio.lyzr.ai/v3/voice/chat/"),
		// Empty means the endpoint is built in process.
		VoiceProvisionURL: stringsTrimSpace("VOICE_PROVISION_URL"),
		AgentInferenceURL: envOrDefault("AGENT_INFERENCE_URL", "https://agent-prod.studio.lyzr.ai/v3/inference/chat/"),
		// Empty means the local /api/agent proxy.
		TextAgentURL:           stringsTrimSpace("TEXT_AGENT_URL"),
		AudioSource:            strings.ToLower(envOrDefault("AUDIO_SOURCE", AudioSourceDevice)),
		AudioInputFile:         stringsTrimSpace("AUDIO_INPUT_FILE"),
		AudioPlayback:          strings.ToLower(envOrDefault("AUDIO_PLAYBACK", AudioPlaybackDevice)),
		AudioSampleRate:        16000,
		AudioChunkInterval:     250 * time.Millisecond,
		AudioPreferredEncoding: strings.ToLower(envOrDefault("AUDIO_PREFERRED_ENCODING", "wav")),
		RealtimeDialTimeout:    15 * time.Second,
		TextRequestTimeout:     60 * time.Second,
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:        15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioSampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioChunkInterval, err = durationFromEnv("AUDIO_CHUNK_INTERVAL", cfg.AudioChunkInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeDialTimeout, err = durationFromEnv("REALTIME_DIAL_TIMEOUT", cfg.RealtimeDialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TextRequestTimeout, err = durationFromEnv("TEXT_REQUEST_TIMEOUT", cfg.TextRequestTimeout)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AudioChunkInterval < minChunkInterval {
		return fmt.Errorf("AUDIO_CHUNK_INTERVAL must be at least %s", minChunkInterval)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	switch c.AudioSource {
	case AudioSourceDevice:
	case AudioSourceFile:
		if c.AudioInputFile == "" {
			return fmt.Errorf("AUDIO_INPUT_FILE is required when AUDIO_SOURCE=file")
		}
	default:
		return fmt.Errorf("AUDIO_SOURCE must be %q or %q", AudioSourceDevice, AudioSourceFile)
	}
	switch c.AudioPlayback {
	case AudioPlaybackDevice, AudioPlaybackSilent:
	default:
		return fmt.Errorf("AUDIO_PLAYBACK must be %q or %q", AudioPlaybackDevice, AudioPlaybackSilent)
	}
	switch c.AudioPreferredEncoding {
	case "wav", "pcm_s16le":
	default:
		return fmt.Errorf("AUDIO_PREFERRED_ENCODING must be wav or pcm_s16le")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be debug, info, warn or error")
	}
	if c.RealtimeDialTimeout <= 0 || c.TextRequestTimeout <= 0 {
		return fmt.Errorf("REALTIME_DIAL_TIMEOUT and TEXT_REQUEST_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return fmt.Errorf("AGENT_ID must not be empty")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
