package audio

import (
	"context"
	"errors"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

var (
	ErrDeviceUnavailable  = errors.New("audio device unavailable")
	ErrStreamStopped      = errors.New("audio stream stopped")
	ErrUnsupportedPayload = errors.New("unsupported audio payload")
)

// Format describes PCM16 audio produced by a capture stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Stream is an acquired, stoppable capture stream.
type Stream interface {
	Format() Format
	// Read blocks until the next frame of interleaved PCM16 samples is available.
	// The returned slice may be reused by the next call.
	Read() ([]int16, error)
	// Stop releases the underlying device. It is idempotent and unblocks Read.
	Stop() error
}

// Source grants access to a capture stream, e.g. after a permission prompt.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Player plays one payload to completion.
type Player interface {
	Play(ctx context.Context, payload []byte) error
}
