// Command voiceprobe measures a voice round trip without a microphone: it
// asks a running concierge for a realtime endpoint, streams a WAV file as
// chunked audio and reports how long each stage took.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/audio"
	"github.com/antoniostano/concierge/internal/policy"
	"github.com/antoniostano/concierge/internal/protocol"
	"github.com/antoniostano/concierge/internal/provision"
	"github.com/antoniostano/concierge/internal/realtime"
)

type options struct {
	baseURL     string
	wsURL       string
	wavPath     string
	chunk       time.Duration
	dialTimeout time.Duration
	listenFor   time.Duration
	verbose     bool
}

type report struct {
	endpoint     time.Duration
	channelOpen  time.Duration
	firstInbound time.Duration
	firstAudio   time.Duration
	chunksSent   int
	textFrames   int
	audioFrames  int
	malformed    int
	transcripts  []string
	statuses     []string
	closeErr     error
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(2)
	}
	logger := zap.NewNop()
	if cfg.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	rep, err := run(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
	rep.write(os.Stdout)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("voiceprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "concierge base URL serving /api/voice")
	fs.StringVar(&cfg.wsURL, "ws-url", "", "realtime endpoint to dial directly (skips /api/voice)")
	fs.StringVar(&cfg.wavPath, "wav", "", "WAV file streamed as the guest's voice")
	fs.DurationVar(&cfg.chunk, "chunk", audio.DefaultChunkInterval, "audio chunk interval")
	fs.DurationVar(&cfg.dialTimeout, "dial-timeout", realtime.DefaultDialTimeout, "realtime handshake timeout")
	fs.DurationVar(&cfg.listenFor, "listen", 10*time.Second, "how long to keep listening after the file ends")
	fs.BoolVar(&cfg.verbose, "verbose", false, "log channel activity")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.wsURL = strings.TrimSpace(cfg.wsURL)
	if cfg.wsURL == "" && cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url or ws-url is required")
	}
	if strings.TrimSpace(cfg.wavPath) == "" {
		return options{}, fmt.Errorf("wav is required")
	}
	if cfg.chunk < 20*time.Millisecond {
		return options{}, fmt.Errorf("chunk must be at least 20ms")
	}
	if cfg.listenFor <= 0 {
		cfg.listenFor = time.Second
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, logger *zap.Logger) (report, error) {
	var rep report
	start := time.Now()

	endpoint := cfg.wsURL
	if endpoint == "" {
		var err error
		endpoint, err = provision.NewHTTP(cfg.baseURL+"/api/voice", logger).Endpoint(ctx)
		if err != nil {
			return rep, fmt.Errorf("provision endpoint: %w", err)
		}
	}
	rep.endpoint = time.Since(start)
	logger.Debug("endpoint ready", zap.String("url", policy.RedactURL(endpoint)))

	source := audio.NewFileSource(cfg.wavPath)
	stream, err := source.Acquire(ctx)
	if err != nil {
		return rep, fmt.Errorf("open wav: %w", err)
	}
	defer stream.Stop()

	dialStart := time.Now()
	ch, err := realtime.Dial(ctx, endpoint, cfg.dialTimeout, logger)
	if err != nil {
		return rep, fmt.Errorf("dial: %w", err)
	}
	defer ch.Close()
	rep.channelOpen = time.Since(dialStart)

	streamStart := time.Now()
	encoder := audio.NewChunkEncoder(cfg.chunk, logger)
	enc, _ := encoder.Negotiate(audio.EncodingWAV, stream.Format())
	rec, err := encoder.Start(stream, enc, func(chunk []byte) {
		_ = ch.Send(chunk)
	})
	if err != nil {
		return rep, fmt.Errorf("start recorder: %w", err)
	}

	// The file source stops itself at EOF; listen a while longer for the reply.
	err = rep.listen(ctx, ch, streamStart, fileDuration(cfg.wavPath)+cfg.listenFor)
	rec.Stop()
	rep.chunksSent = rec.Chunks()
	return rep, err
}

func (r *report) listen(ctx context.Context, ch *realtime.Channel, since time.Time, window time.Duration) error {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case frame, ok := <-ch.Frames():
			if !ok {
				r.closeErr = ch.Err()
				return nil
			}
			r.observe(frame, time.Since(since))
		}
	}
}

func (r *report) observe(frame realtime.Frame, elapsed time.Duration) {
	if r.firstInbound == 0 {
		r.firstInbound = elapsed
	}
	if frame.Kind == protocol.FrameBinary {
		r.audioFrames++
	} else {
		r.textFrames++
	}
	d, err := protocol.Interpret(frame.Kind, frame.Data)
	if errors.Is(err, protocol.ErrMalformedMessage) {
		r.malformed++
		return
	}
	if len(d.Audio) > 0 && r.firstAudio == 0 {
		r.firstAudio = elapsed
	}
	if d.Transcript != nil {
		redacted, _ := policy.RedactPII(d.Transcript.Text)
		r.transcripts = append(r.transcripts, string(d.Transcript.Role)+": "+redacted)
	}
	if d.HasStatus {
		r.statuses = append(r.statuses, string(d.Status))
	}
}

func (r report) write(w io.Writer) {
	fmt.Fprintf(w, "endpoint        %s\n", r.endpoint.Round(time.Millisecond))
	fmt.Fprintf(w, "channel_open    %s\n", r.channelOpen.Round(time.Millisecond))
	fmt.Fprintf(w, "first_inbound   %s\n", formatStage(r.firstInbound))
	fmt.Fprintf(w, "first_audio     %s\n", formatStage(r.firstAudio))
	fmt.Fprintf(w, "chunks_sent     %d\n", r.chunksSent)
	fmt.Fprintf(w, "frames          text=%d audio=%d malformed=%d\n", r.textFrames, r.audioFrames, r.malformed)
	if len(r.statuses) > 0 {
		fmt.Fprintf(w, "status_hints    %s\n", strings.Join(r.statuses, ","))
	}
	for _, t := range r.transcripts {
		fmt.Fprintf(w, "transcript      %s\n", t)
	}
	if r.closeErr != nil {
		fmt.Fprintf(w, "closed_with     %v\n", r.closeErr)
	}
}

func formatStage(d time.Duration) string {
	if d == 0 {
		return "n/a"
	}
	return d.Round(time.Millisecond).String()
}

func fileDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	samples, format, err := audio.DecodeWAV(f)
	if err != nil {
		return 0
	}
	return audio.Duration(len(samples), format)
}
