package app

import (
	"fmt"

	"github.com/antoniostano/concierge/internal/audio"
	"github.com/antoniostano/concierge/internal/config"
)

type audioSetup struct {
	source audio.Source
	player audio.Player
	detail string
}

// resolveAudio picks the capture source and playback sink from config.
// Device variants need the portaudio build tag; without it they fail on
// first use with ErrDeviceUnavailable rather than at startup.
func resolveAudio(cfg config.Config) (audioSetup, error) {
	format := audio.Format{SampleRate: cfg.AudioSampleRate, Channels: audio.DefaultChannels}

	var setup audioSetup
	switch cfg.AudioSource {
	case config.AudioSourceDevice:
		setup.source = audio.NewDeviceSource(cfg.AudioSampleRate)
		setup.detail = "device capture"
	case config.AudioSourceFile:
		if cfg.AudioInputFile == "" {
			return audioSetup{}, fmt.Errorf("AUDIO_INPUT_FILE is required for file capture")
		}
		setup.source = audio.NewFileSource(cfg.AudioInputFile)
		setup.detail = "file capture (" + cfg.AudioInputFile + ")"
	default:
		return audioSetup{}, fmt.Errorf("invalid AUDIO_SOURCE: %q (expected device|file)", cfg.AudioSource)
	}

	switch cfg.AudioPlayback {
	case config.AudioPlaybackDevice:
		setup.player = audio.NewDevicePlayer(format)
		setup.detail += ", device playback"
	case config.AudioPlaybackSilent:
		setup.player = audio.NewSilentPlayer(format)
		setup.detail += ", silent playback"
	default:
		return audioSetup{}, fmt.Errorf("invalid AUDIO_PLAYBACK: %q (expected device|silent)", cfg.AudioPlayback)
	}
	return setup, nil
}
