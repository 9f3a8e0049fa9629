package audio

import (
	"context"
	"time"
)

// SilentPlayer decodes payloads and waits for their playback duration without
// producing sound. It keeps session timing realistic on machines without an
// output device.
type SilentPlayer struct {
	fallback Format
}

func NewSilentPlayer(fallback Format) *SilentPlayer {
	return &SilentPlayer{fallback: fallback}
}

func (p *SilentPlayer) Play(ctx context.Context, payload []byte) error {
	samples, f, err := DecodePayload(payload, p.fallback)
	if err != nil {
		return err
	}
	d := Duration(len(samples), f)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
