package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const fileFrameDuration = 20 * time.Millisecond

// FileSource replays a WAV file as if it were a microphone. It is used for
// headless runs and demos where no capture device is present.
type FileSource struct {
	Path string
	// Realtime paces frames at the file's sample rate. When false frames are
	// returned as fast as they are read.
	Realtime bool
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, Realtime: true}
}

func (s *FileSource) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, s.Path, err)
	}
	defer f.Close()

	samples, format, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	frame := int(fileFrameDuration/time.Millisecond) * format.SampleRate / 1000 * format.Channels
	if frame <= 0 {
		frame = len(samples)
	}
	fs := &fileStream{
		samples:   samples,
		format:    format,
		frameSize: frame,
		stopped:   make(chan struct{}),
	}
	if s.Realtime {
		fs.ticker = time.NewTicker(fileFrameDuration)
	}
	return fs, nil
}

type fileStream struct {
	samples   []int16
	format    Format
	frameSize int
	ticker    *time.Ticker

	mu       sync.Mutex
	offset   int
	stopOnce sync.Once
	stopped  chan struct{}
}

func (s *fileStream) Format() Format { return s.format }

func (s *fileStream) Read() ([]int16, error) {
	if s.ticker != nil {
		select {
		case <-s.stopped:
			return nil, ErrStreamStopped
		case <-s.ticker.C:
		}
	} else {
		select {
		case <-s.stopped:
			return nil, ErrStreamStopped
		default:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offset >= len(s.samples) {
		return nil, io.EOF
	}
	end := min(s.offset+s.frameSize, len(s.samples))
	frame := s.samples[s.offset:end]
	s.offset = end
	return frame, nil
}

func (s *fileStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	return nil
}
