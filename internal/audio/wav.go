package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitsPerSample = 16
	pcmFormat     = 1
)

// EncodeWAVPCM16 wraps interleaved PCM16 samples in a WAV container.
func EncodeWAVPCM16(samples []int16, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid wav format %+v", f)
	}
	var buf writeSeekerBuffer
	enc := wav.NewEncoder(&buf, f.SampleRate, bitsPerSample, f.Channels, pcmFormat)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16File writes interleaved PCM16 samples as a WAV file.
func WriteWAVPCM16File(path string, samples []int16, f Format) error {
	b, err := EncodeWAVPCM16(samples, f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// PCM16Bytes serializes samples as little-endian PCM16.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeWAV reads a whole WAV payload as PCM16.
func DecodeWAV(r io.ReadSeeker) ([]int16, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("%w: invalid wav data", ErrUnsupportedPayload)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return toPCM16(buf.Data, int(dec.BitDepth)), f, nil
}

// DecodePayload interprets a received audio payload. WAV payloads carry
// their own format; any other even-length payload is taken as raw PCM16LE
// at fallback. Compressed containers are not decodable here.
func DecodePayload(payload []byte, fallback Format) ([]int16, Format, error) {
	switch {
	case len(payload) == 0:
		return nil, Format{}, fmt.Errorf("%w: empty", ErrUnsupportedPayload)
	case isWAV(payload):
		return DecodeWAV(bytes.NewReader(payload))
	case isCompressed(payload):
		return nil, Format{}, fmt.Errorf("%w: compressed container", ErrUnsupportedPayload)
	case len(payload)%2 != 0:
		return nil, Format{}, fmt.Errorf("%w: odd pcm length %d", ErrUnsupportedPayload, len(payload))
	}
	if fallback.SampleRate <= 0 {
		fallback.SampleRate = DefaultSampleRate
	}
	if fallback.Channels <= 0 {
		fallback.Channels = DefaultChannels
	}
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return samples, fallback, nil
}

// Duration is the playback length of samples in format f.
func Duration(samples int, f Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := samples / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func isCompressed(b []byte) bool {
	switch {
	case len(b) >= 4 && b[0] == 0x1A && b[1] == 0x45 && b[2] == 0xDF && b[3] == 0xA3: // webm/matroska
		return true
	case len(b) >= 4 && string(b[0:4]) == "OggS":
		return true
	case len(b) >= 3 && string(b[0:3]) == "ID3":
		return true
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0: // mpeg frame sync
		return true
	}
	return false
}

func toPCM16(data []int, bitDepth int) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		switch {
		case bitDepth == 8:
			out[i] = int16((v - 128) << 8)
		case bitDepth > 16:
			out[i] = int16(v >> (bitDepth - 16))
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// writeSeekerBuffer is an in-memory io.WriteSeeker for the wav encoder,
// which seeks back to patch chunk sizes on Close.
type writeSeekerBuffer struct {
	buf []byte
	pos int
}

func (b *writeSeekerBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *writeSeekerBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.buf))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(next)
	return next, nil
}

func (b *writeSeekerBuffer) Bytes() []byte { return b.buf }
