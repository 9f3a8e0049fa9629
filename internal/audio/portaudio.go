//go:build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const deviceFramesPerBuffer = 320

// DeviceSource captures mono PCM16 from the default input device.
type DeviceSource struct {
	format Format
}

func NewDeviceSource(sampleRate int) Source {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &DeviceSource{format: Format{SampleRate: sampleRate, Channels: DefaultChannels}}
}

func (s *DeviceSource) Acquire(ctx context.Context) (_ Stream, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrDeviceUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = portaudio.Terminate()
		}
	}()

	ds := &deviceStream{format: s.format, buf: make([]int16, deviceFramesPerBuffer)}
	stream, err := portaudio.OpenDefaultStream(s.format.Channels, 0, float64(s.format.SampleRate), len(ds.buf), &ds.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}
	ds.stream = stream
	return ds, nil
}

type deviceStream struct {
	format  Format
	buf     []int16
	stream  *portaudio.Stream
	stopped atomic.Bool
	once    sync.Once
	stopErr error
}

func (s *deviceStream) Format() Format { return s.format }

func (s *deviceStream) Read() ([]int16, error) {
	if s.stopped.Load() {
		return nil, ErrStreamStopped
	}
	if err := s.stream.Read(); err != nil {
		if s.stopped.Load() {
			return nil, ErrStreamStopped
		}
		if errors.Is(err, portaudio.InputOverflowed) {
			return s.buf, nil
		}
		return nil, fmt.Errorf("read input stream: %w", err)
	}
	return s.buf, nil
}

func (s *deviceStream) Stop() error {
	s.once.Do(func() {
		s.stopped.Store(true)
		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop input stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

// DevicePlayer plays payloads on the default output device.
type DevicePlayer struct {
	fallback Format
	mu       sync.Mutex
}

func NewDevicePlayer(fallback Format) Player {
	return &DevicePlayer{fallback: fallback}
}

func (p *DevicePlayer) Play(ctx context.Context, payload []byte) (err error) {
	samples, f, err := DecodePayload(payload, p.fallback)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err = portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize portaudio: %v", ErrDeviceUnavailable, err)
	}
	defer func() {
		if e := portaudio.Terminate(); e != nil {
			err = errors.Join(err, fmt.Errorf("terminate portaudio: %w", e))
		}
	}()

	out := make([]int16, 4096)
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), len(out)/f.Channels, &out)
	if err != nil {
		return fmt.Errorf("%w: open output stream: %v", ErrDeviceUnavailable, err)
	}
	defer func() {
		if e := stream.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("close output stream: %w", e))
		}
	}()
	if err = stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer func() {
		if e := stream.Stop(); e != nil {
			err = errors.Join(err, fmt.Errorf("stop output stream: %w", e))
		}
	}()

	for chunk := range slices.Chunk(samples, len(out)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		copy(out, chunk)
		clear(out[len(chunk):])
		if err := stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				continue
			}
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}
