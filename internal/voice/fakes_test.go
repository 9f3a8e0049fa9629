package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/concierge/internal/agentapi"
	"github.com/antoniostano/concierge/internal/audio"
	"github.com/antoniostano/concierge/internal/protocol"
	"github.com/antoniostano/concierge/internal/realtime"
	"github.com/antoniostano/concierge/internal/session"
)

const testEndpoint = "wss://voice.test/chat/?agent_id=a1&x_api_key=secret"

type fakeProvisioner struct {
	url   string
	err   error
	block bool
	calls atomic.Int32
}

func (p *fakeProvisioner) Endpoint(ctx context.Context) (string, error) {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.err != nil {
		return "", p.err
	}
	return p.url, nil
}

type fakeStream struct {
	format  audio.Format
	frames  chan []int16
	stopped chan struct{}
	once    sync.Once
	stops   atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		format:  audio.Format{SampleRate: 16000, Channels: 1},
		frames:  make(chan []int16, 16),
		stopped: make(chan struct{}),
	}
}

func (s *fakeStream) Format() audio.Format { return s.format }

func (s *fakeStream) Read() ([]int16, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.stopped:
		return nil, audio.ErrStreamStopped
	}
}

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeStream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	stream   *fakeStream
	err      error
	acquired atomic.Int32
}

func (s *fakeSource) Acquire(ctx context.Context) (audio.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired.Add(1)
	return s.stream, nil
}

type fakeChannel struct {
	mu     sync.Mutex
	frames chan realtime.Frame
	sent   [][]byte
	closed bool
	err    error
	closes int

	// sendGate, when set before Start, holds every Send until it is closed.
	sendGate    chan struct{}
	sendBlocked atomic.Bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{frames: make(chan realtime.Frame, 64)}
}

func (c *fakeChannel) Frames() <-chan realtime.Frame { return c.frames }

func (c *fakeChannel) Send(chunk []byte) error {
	if c.sendGate != nil {
		c.sendBlocked.Store(true)
		<-c.sendGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}
	c.sent = append(c.sent, chunk)
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.endLocked(nil)
	return nil
}

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) endLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.frames)
}

// remoteEnd simulates the server ending the connection.
func (c *fakeChannel) remoteEnd(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked(err)
}

func (c *fakeChannel) pushText(raw string) {
	c.push(realtime.Frame{Kind: protocol.FrameText, Data: []byte(raw)})
}

func (c *fakeChannel) pushAudio(payload []byte) {
	c.push(realtime.Frame{Kind: protocol.FrameBinary, Data: payload})
}

func (c *fakeChannel) push(f realtime.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.frames <- f
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeDialer struct {
	ch    *fakeChannel
	err   error
	block bool
	calls atomic.Int32
	url   atomic.Value
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Channel, error) {
	d.calls.Add(1)
	d.url.Store(url)
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.ch, nil
}

// fakePlayer plays instantly unless gated; failures are keyed by payload.
type fakePlayer struct {
	gate   chan struct{}
	fail   map[string]error
	mu     sync.Mutex
	played [][]byte
}

func (p *fakePlayer) Play(ctx context.Context, payload []byte) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.played = append(p.played, payload)
	p.mu.Unlock()
	if err, ok := p.fail[string(payload)]; ok {
		return err
	}
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []session.Status
	entries  []session.Entry
	errs     []error
}

func (s *recordingSink) StatusChanged(_, to session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, to)
}

func (s *recordingSink) TranscriptAppended(e session.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *recordingSink) SessionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) Statuses() []session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Status(nil), s.statuses...)
}

func (s *recordingSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

type fakeText struct {
	result agentapi.Result
	err    error
	gate   chan struct{}
	mu     sync.Mutex
	reqs   []agentapi.Request
}

func (f *fakeText) Send(ctx context.Context, req agentapi.Request) (agentapi.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.result, f.err
}

type harness struct {
	c      *Controller
	prov   *fakeProvisioner
	source *fakeSource
	stream *fakeStream
	ch     *fakeChannel
	dialer *fakeDialer
	player *fakePlayer
	text   *fakeText
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stream := newFakeStream()
	ch := newFakeChannel()
	h := &harness{
		prov:   &fakeProvisioner{url: testEndpoint},
		source: &fakeSource{stream: stream},
		stream: stream,
		ch:     ch,
		dialer: &fakeDialer{ch: ch},
		player: &fakePlayer{},
		text:   &fakeText{},
		sink:   &recordingSink{},
	}
	return h
}

func (h *harness) build(t *testing.T) *Controller {
	t.Helper()
	c, err := New(Config{
		AgentID:     "agent-1",
		Provisioner: h.prov,
		Source:      h.source,
		Player:      h.player,
		Dial:        h.dialer.dial,
		Encoder:     audio.NewChunkEncoder(10*time.Millisecond, nil),
		Text:        h.text,
		Sink:        h.sink,
	})
	require.NoError(t, err)
	h.c = c
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) started(t *testing.T) *Controller {
	t.Helper()
	c := h.build(t)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, session.StatusListening, c.Status())
	return c
}

func waitStatus(t *testing.T, c *Controller, want session.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, 2*time.Second, 5*time.Millisecond,
		"status = %s, want %s", c.Status(), want)
}

var errBoom = errors.New("boom")
