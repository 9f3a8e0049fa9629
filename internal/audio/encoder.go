package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Encoding is the framing of outbound audio chunks.
type Encoding string

const (
	// EncodingWAV frames every chunk as a self-contained WAV clip.
	EncodingWAV Encoding = "wav"
	// EncodingPCM16 sends bare little-endian PCM16 and is always available.
	EncodingPCM16 Encoding = "pcm_s16le"
)

// DefaultChunkInterval is the cadence of outbound chunks.
const DefaultChunkInterval = 250 * time.Millisecond

// CapabilityState is the tagged result of an encoding probe.
type CapabilityState int

const (
	Unsupported CapabilityState = iota
	Supported
)

// Capability reports whether an encoding can be produced for a stream format.
type Capability struct {
	Encoding Encoding
	State    CapabilityState
	Reason   string
}

func (c Capability) Supported() bool { return c.State == Supported }

var ErrRecorderStopped = errors.New("recorder stopped")

// ChunkEncoder turns a capture stream into encoded chunks on a fixed cadence.
type ChunkEncoder struct {
	interval time.Duration
	logger   *zap.Logger
}

func NewChunkEncoder(interval time.Duration, logger *zap.Logger) *ChunkEncoder {
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkEncoder{interval: interval, logger: logger}
}

func (e *ChunkEncoder) Interval() time.Duration { return e.interval }

// Probe checks whether enc can be produced for streams of format f.
func (e *ChunkEncoder) Probe(enc Encoding, f Format) Capability {
	switch enc {
	case EncodingPCM16:
		return Capability{Encoding: enc, State: Supported}
	case EncodingWAV:
		if f.SampleRate <= 0 || f.Channels <= 0 {
			return Capability{Encoding: enc, State: Unsupported, Reason: "stream format unknown"}
		}
		return Capability{Encoding: enc, State: Supported}
	default:
		return Capability{Encoding: enc, State: Unsupported, Reason: fmt.Sprintf("unknown encoding %q", enc)}
	}
}

// Negotiate returns preferred when it is supported for f and the default
// PCM16 encoding otherwise, along with the probe result for preferred.
func (e *ChunkEncoder) Negotiate(preferred Encoding, f Format) (Encoding, Capability) {
	probe := e.Probe(preferred, f)
	if probe.Supported() {
		return preferred, probe
	}
	return EncodingPCM16, probe
}

// Start begins reading stream and delivers one encoded chunk per interval to
// sink. Intervals without captured audio deliver nothing. sink runs on the
// recorder goroutine.
func (e *ChunkEncoder) Start(stream Stream, enc Encoding, sink func([]byte)) (*Recorder, error) {
	if stream == nil {
		return nil, errors.New("nil capture stream")
	}
	if sink == nil {
		return nil, errors.New("nil chunk sink")
	}
	f := stream.Format()
	if probe := e.Probe(enc, f); !probe.Supported() {
		return nil, fmt.Errorf("encoding %s unsupported: %s", enc, probe.Reason)
	}

	r := &Recorder{
		stream:   stream,
		encoding: enc,
		format:   f,
		interval: e.interval,
		sink:     sink,
		logger:   e.logger,
		frames:   make(chan []int16, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.readLoop()
	go r.run()
	return r, nil
}

// Recorder is an in-flight chunked encoding of one capture stream.
type Recorder struct {
	stream   Stream
	encoding Encoding
	format   Format
	interval time.Duration
	sink     func([]byte)
	logger   *zap.Logger

	frames   chan []int16
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	chunks int
}

func (r *Recorder) Encoding() Encoding { return r.encoding }

// Chunks is the number of chunks handed to the sink so far.
func (r *Recorder) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks
}

// Stop flushes buffered audio, stops the cadence and waits for the
// recorder goroutine. It does not stop the capture stream.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) readLoop() {
	defer close(r.frames)
	for {
		frame, err := r.stream.Read()
		if err != nil {
			if !errors.Is(err, ErrStreamStopped) {
				r.logger.Debug("capture read ended", zap.Error(err))
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		cp := make([]int16, len(frame))
		copy(cp, frame)
		select {
		case r.frames <- cp:
		case <-r.stop:
			return
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending []int16
	frames := r.frames
	for {
		select {
		case <-r.stop:
			r.flush(drain(frames, pending))
			return
		case frame, ok := <-frames:
			if !ok {
				// Source exhausted; keep the cadence so the tail still goes out on a tick.
				frames = nil
				continue
			}
			pending = append(pending, frame...)
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			r.flush(pending)
			pending = nil
		}
	}
}

// drain appends frames already buffered in ch without blocking.
func drain(ch <-chan []int16, pending []int16) []int16 {
	if ch == nil {
		return pending
	}
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return pending
			}
			pending = append(pending, frame...)
		default:
			return pending
		}
	}
}

func (r *Recorder) flush(samples []int16) {
	if len(samples) == 0 {
		return
	}
	var (
		chunk []byte
		err   error
	)
	switch r.encoding {
	case EncodingWAV:
		chunk, err = EncodeWAVPCM16(samples, r.format)
	default:
		chunk = PCM16Bytes(samples)
	}
	if err != nil {
		r.logger.Warn("chunk encoding failed", zap.String("encoding", string(r.encoding)), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.chunks++
	r.mu.Unlock()
	r.sink(chunk)
}
