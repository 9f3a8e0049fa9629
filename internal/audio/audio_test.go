package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(math.Sin(2*math.Pi*440*float64(i)/DefaultSampleRate) * 12000)
	}
	return out
}

func TestEncodeWAVPCM16RoundTrip(t *testing.T) {
	samples := sineWave(1600)
	f := Format{SampleRate: DefaultSampleRate, Channels: 1}

	b, err := EncodeWAVPCM16(samples, f)
	require.NoError(t, err)
	require.True(t, isWAV(b))

	dec := wav.NewDecoder(bytes.NewReader(b))
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(DefaultSampleRate), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	got, gotFormat, err := DecodeWAV(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, f, gotFormat)
	assert.Equal(t, samples, got)
}

func TestEncodeWAVPCM16RejectsUnknownFormat(t *testing.T) {
	_, err := EncodeWAVPCM16([]int16{1, 2}, Format{})
	require.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	fallback := Format{SampleRate: 24000, Channels: 1}

	samples, f, err := DecodePayload(PCM16Bytes([]int16{1, -2, 3}), fallback)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -2, 3}, samples)
	assert.Equal(t, fallback, f)

	wavBytes, err := EncodeWAVPCM16([]int16{5, 6}, Format{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	_, f, err = DecodePayload(wavBytes, fallback)
	require.NoError(t, err)
	assert.Equal(t, 8000, f.SampleRate)

	for name, payload := range map[string][]byte{
		"empty": nil,
		"odd":   {1, 2, 3},
		"webm":  {0x1A, 0x45, 0xDF, 0xA3, 0, 0},
		"ogg":   []byte("OggS\x00\x02"),
		"mp3":   []byte("ID3\x04\x00\x00"),
	} {
		_, _, err := DecodePayload(payload, fallback)
		assert.ErrorIs(t, err, ErrUnsupportedPayload, name)
	}
}

func TestWriteSeekerBufferPatchesHeader(t *testing.T) {
	var b writeSeekerBuffer
	_, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = b.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = b.Write([]byte("XY"))
	require.NoError(t, err)
	_, err = b.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, err = b.Write([]byte("g"))
	require.NoError(t, err)
	assert.Equal(t, "abXYefg", string(b.Bytes()))
}

func TestProbeAndNegotiate(t *testing.T) {
	e := NewChunkEncoder(0, nil)
	assert.Equal(t, DefaultChunkInterval, e.Interval())

	known := Format{SampleRate: 16000, Channels: 1}
	assert.True(t, e.Probe(EncodingWAV, known).Supported())
	assert.True(t, e.Probe(EncodingPCM16, Format{}).Supported())

	probe := e.Probe(EncodingWAV, Format{})
	assert.False(t, probe.Supported())
	assert.NotEmpty(t, probe.Reason)

	enc, probe := e.Negotiate(EncodingWAV, Format{})
	assert.Equal(t, EncodingPCM16, enc)
	assert.Equal(t, Unsupported, probe.State)

	enc, _ = e.Negotiate(EncodingWAV, known)
	assert.Equal(t, EncodingWAV, enc)

	enc, _ = e.Negotiate("audio/webm;codecs=opus", known)
	assert.Equal(t, EncodingPCM16, enc)
}

// scriptedStream yields a fixed list of frames and then blocks until stopped.
type scriptedStream struct {
	format  Format
	frames  [][]int16
	mu      sync.Mutex
	next    int
	stopped chan struct{}
	once    sync.Once
}

func newScriptedStream(f Format, frames ...[]int16) *scriptedStream {
	return &scriptedStream{format: f, frames: frames, stopped: make(chan struct{})}
}

func (s *scriptedStream) Format() Format { return s.format }

func (s *scriptedStream) Read() ([]int16, error) {
	s.mu.Lock()
	if s.next < len(s.frames) {
		f := s.frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()
	<-s.stopped
	return nil, ErrStreamStopped
}

func (s *scriptedStream) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

type chunkCollector struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *chunkCollector) sink(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, b)
}

func (c *chunkCollector) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.chunks...)
}

func TestRecorderEmitsChunksOnCadence(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	stream := newScriptedStream(f, []int16{1, 2}, []int16{3, 4})
	var got chunkCollector

	rec, err := NewChunkEncoder(10*time.Millisecond, nil).Start(stream, EncodingPCM16, got.sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.all()) > 0 }, time.Second, 5*time.Millisecond)
	rec.Stop()
	require.NoError(t, stream.Stop())

	var joined []byte
	for _, c := range got.all() {
		joined = append(joined, c...)
	}
	assert.Equal(t, PCM16Bytes([]int16{1, 2, 3, 4}), joined)
	assert.Equal(t, len(got.all()), rec.Chunks())
	assert.Equal(t, EncodingPCM16, rec.Encoding())
}

func TestRecorderWAVChunksAreStandalone(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	stream := newScriptedStream(f, sineWave(320))
	var got chunkCollector

	rec, err := NewChunkEncoder(10*time.Millisecond, nil).Start(stream, EncodingWAV, got.sink)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.all()) > 0 }, time.Second, 5*time.Millisecond)
	rec.Stop()
	_ = stream.Stop()

	for _, c := range got.all() {
		_, cf, err := DecodeWAV(bytes.NewReader(c))
		require.NoError(t, err)
		assert.Equal(t, f, cf)
	}
}

func TestRecorderFlushesOnStopAndIsIdempotent(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	stream := newScriptedStream(f, []int16{7, 8, 9})
	var got chunkCollector

	rec, err := NewChunkEncoder(time.Hour, nil).Start(stream, EncodingPCM16, got.sink)
	require.NoError(t, err)

	// Give the read loop a moment to hand over the frame before stopping.
	time.Sleep(20 * time.Millisecond)
	rec.Stop()
	rec.Stop()
	_ = stream.Stop()

	require.Len(t, got.all(), 1)
	assert.Equal(t, PCM16Bytes([]int16{7, 8, 9}), got.all()[0])
}

func TestRecorderRejectsUnsupportedEncoding(t *testing.T) {
	stream := newScriptedStream(Format{})
	_, err := NewChunkEncoder(0, nil).Start(stream, EncodingWAV, func([]byte) {})
	require.Error(t, err)
}

func TestFileSourceReplaysWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.wav")
	f := Format{SampleRate: 8000, Channels: 1}
	samples := sineWave(400)
	require.NoError(t, WriteWAVPCM16File(path, samples, f))

	src := &FileSource{Path: path}
	stream, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f, stream.Format())

	var got []int16
	for {
		frame, err := stream.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, frame...)
	}
	assert.Equal(t, samples, got)

	require.NoError(t, stream.Stop())
	_, err = stream.Read()
	assert.ErrorIs(t, err, ErrStreamStopped)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.wav")).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestSilentPlayerWaitsForDuration(t *testing.T) {
	p := NewSilentPlayer(Format{SampleRate: 1000, Channels: 1})
	start := time.Now()
	require.NoError(t, p.Play(context.Background(), PCM16Bytes(make([]int16, 30))))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Play(ctx, PCM16Bytes(make([]int16, 1000)))
	assert.ErrorIs(t, err, context.Canceled)

	assert.ErrorIs(t, p.Play(context.Background(), nil), ErrUnsupportedPayload)
}
