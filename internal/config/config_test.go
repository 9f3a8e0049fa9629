package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8080" {
		t.Fatalf("BindAddr = %q, want default", cfg.BindAddr)
	}
	if cfg.AgentID != "698a1b3f0769219591839a9c" {
		t.Fatalf("AgentID = %q, want default agent", cfg.AgentID)
	}
	if cfg.VoiceWSBaseURL != "wss://agent-prod.studio.lyzr.ai/v3/voice/chat/" {
		t.Fatalf("VoiceWSBaseURL = %q", cfg.VoiceWSBaseURL)
	}
	if cfg.AudioChunkInterval != 250*time.Millisecond {
		t.Fatalf("AudioChunkInterval = %s, want 250ms", cfg.AudioChunkInterval)
	}
	if cfg.AudioSource != AudioSourceDevice || cfg.AudioPlayback != AudioPlaybackDevice {
		t.Fatalf("audio = %q/%q, want device/device", cfg.AudioSource, cfg.AudioPlayback)
	}
	if cfg.AudioPreferredEncoding != "wav" {
		t.Fatalf("AudioPreferredEncoding = %q, want wav", cfg.AudioPreferredEncoding)
	}
	if cfg.LyzrAPIKey != "" || cfg.VoiceProvisionURL != "" || cfg.TextAgentURL != "" {
		t.Fatalf("expected empty optional settings, got %+v", cfg)
	}
	if cfg.RealtimeDialTimeout != 15*time.Second || cfg.TextRequestTimeout != 60*time.Second {
		t.Fatalf("timeouts = %s/%s", cfg.RealtimeDialTimeout, cfg.TextRequestTimeout)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("LYZR_API_KEY", "  k-123  ")
	t.Setenv("AUDIO_CHUNK_INTERVAL", "100ms")
	t.Setenv("AUDIO_SOURCE", "FILE")
	t.Setenv("AUDIO_INPUT_FILE", "/tmp/guest.wav")
	t.Setenv("AUDIO_PLAYBACK", "silent")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.LyzrAPIKey != "k-123" {
		t.Fatalf("LyzrAPIKey = %q, want trimmed value", cfg.LyzrAPIKey)
	}
	if cfg.AudioChunkInterval != 100*time.Millisecond {
		t.Fatalf("AudioChunkInterval = %s", cfg.AudioChunkInterval)
	}
	if cfg.AudioSource != AudioSourceFile || cfg.AudioInputFile != "/tmp/guest.wav" {
		t.Fatalf("audio source = %q (%q)", cfg.AudioSource, cfg.AudioInputFile)
	}
	if cfg.AudioPlayback != AudioPlaybackSilent {
		t.Fatalf("AudioPlayback = %q", cfg.AudioPlayback)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"short chunk interval": {"AUDIO_CHUNK_INTERVAL": "5ms"},
		"bad duration":         {"REALTIME_DIAL_TIMEOUT": "soon"},
		"unknown source":       {"AUDIO_SOURCE": "tape"},
		"file without path":    {"AUDIO_SOURCE": "file"},
		"unknown playback":     {"AUDIO_PLAYBACK": "speaker"},
		"unknown encoding":     {"AUDIO_PREFERRED_ENCODING": "mp3"},
		"bad sample rate":      {"AUDIO_SAMPLE_RATE": "abc"},
		"bad bool":             {"APP_ALLOW_ANY_ORIGIN": "maybe"},
		"bad log level":        {"APP_LOG_LEVEL": "trace"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want failure for %v", env)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"AGENT_ID",
		"AGENT_NAME",
		"LYZR_API_KEY",
		"VOICE_WS_BASE_URL",
		"VOICE_PROVISION_URL",
		"AGENT_INFERENCE_URL",
		"TEXT_AGENT_URL",
		"AUDIO_SOURCE",
		"AUDIO_INPUT_FILE",
		"AUDIO_PLAYBACK",
		"AUDIO_SAMPLE_RATE",
		"AUDIO_CHUNK_INTERVAL",
		"AUDIO_PREFERRED_ENCODING",
		"REALTIME_DIAL_TIMEOUT",
		"TEXT_REQUEST_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
