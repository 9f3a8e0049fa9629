//go:build !portaudio

package audio

import (
	"context"
	"fmt"
)

// NewDeviceSource returns a source that always reports the device as
// unavailable. Build with -tags portaudio for microphone capture.
func NewDeviceSource(int) Source { return unavailableSource{} }

// NewDevicePlayer returns a player that always fails. Build with -tags
// portaudio for speaker playback.
func NewDevicePlayer(Format) Player { return unavailablePlayer{} }

type unavailableSource struct{}

func (unavailableSource) Acquire(context.Context) (Stream, error) {
	return nil, fmt.Errorf("%w: built without portaudio", ErrDeviceUnavailable)
}

type unavailablePlayer struct{}

func (unavailablePlayer) Play(context.Context, []byte) error {
	return fmt.Errorf("%w: built without portaudio", ErrDeviceUnavailable)
}
