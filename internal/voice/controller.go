package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/agentapi"
	"github.com/antoniostano/concierge/internal/audio"
	"github.com/antoniostano/concierge/internal/observability"
	"github.com/antoniostano/concierge/internal/policy"
	"github.com/antoniostano/concierge/internal/provision"
	"github.com/antoniostano/concierge/internal/session"
)

const defaultPlaybackQueue = 64

// Config wires a Controller to its collaborators. Provisioner, Source,
// Player and Dial are required.
type Config struct {
	AgentID           string
	Provisioner       provision.Provisioner
	Source            audio.Source
	Player            audio.Player
	Dial              Dialer
	Encoder           *audio.ChunkEncoder
	PreferredEncoding audio.Encoding
	Text              TextSender
	Sink              EventSink
	Metrics           *observability.Metrics
	Logger            *zap.Logger
	PlaybackQueue     int
	Now               func() time.Time
}

// Controller drives one voice session at a time: it owns the state machine,
// the transcript and every resource acquired for the live session.
type Controller struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
	sink    EventSink
	now     func() time.Time

	mu          sync.Mutex
	machine     *session.Machine
	transcript  session.Transcript
	booking     *session.Booking
	lastErr     error
	sessionID   string
	gen         uint64
	res         *resources
	releasing   []*resources
	setupCancel context.CancelFunc
	startedAt   time.Time
	closed      bool

	textInFlight atomic.Bool
	wg           sync.WaitGroup
}

func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Provisioner == nil:
		return nil, errors.New("voice: provisioner is required")
	case cfg.Source == nil:
		return nil, errors.New("voice: audio source is required")
	case cfg.Player == nil:
		return nil, errors.New("voice: audio player is required")
	case cfg.Dial == nil:
		return nil, errors.New("voice: dialer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = audio.NewChunkEncoder(audio.DefaultChunkInterval, cfg.Logger)
	}
	if cfg.PreferredEncoding == "" {
		cfg.PreferredEncoding = audio.EncodingWAV
	}
	if cfg.PlaybackQueue <= 0 {
		cfg.PlaybackQueue = defaultPlaybackQueue
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	sink := cfg.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Controller{
		cfg:     cfg,
		logger:  cfg.Logger.Named("voice"),
		metrics: cfg.Metrics,
		sink:    sink,
		now:     cfg.Now,
		machine: session.NewMachine(),
	}, nil
}

// Snapshot is a consistent view of the controller for display.
type Snapshot struct {
	SessionID    string           `json:"sessionId,omitempty"`
	Status       session.Status   `json:"status"`
	StatusText   string           `json:"statusText"`
	Transcript   []session.Entry  `json:"transcript"`
	Booking      *session.Booking `json:"booking,omitempty"`
	LastError    string           `json:"lastError,omitempty"`
	Encoding     audio.Encoding   `json:"encoding,omitempty"`
	TextInFlight bool             `json:"textInFlight"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.machine.Status()
	snap := Snapshot{
		SessionID:    c.sessionID,
		Status:       status,
		StatusText:   status.DisplayText(),
		Transcript:   c.transcript.Entries(),
		LastError:    UserMessage(c.lastErr),
		TextInFlight: c.textInFlight.Load(),
	}
	if c.booking != nil {
		b := *c.booking
		snap.Booking = &b
	}
	if c.res != nil && c.res.recorder != nil {
		snap.Encoding = c.res.recorder.Encoding()
	}
	return snap
}

func (c *Controller) Status() session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Status()
}

func (c *Controller) Transcript() []session.Entry {
	return c.transcript.Entries()
}

// LastError is the most recent setup or transport error, cleared by Start
// and Reset.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID identifies the current or most recent session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// AttachBooking records a booking produced by the reservation system for
// display alongside the transcript.
func (c *Controller) AttachBooking(b session.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.booking = &b
	c.logger.Info("booking attached", zap.String("confirmation", b.ConfirmationNumber))
}

func (c *Controller) Booking() (session.Booking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.booking == nil {
		return session.Booking{}, false
	}
	return *c.booking, true
}

// SendText sends a typed message through the text fallback. It appends the
// user entry before the request and at most one agent entry after it, and
// returns the entries it appended. Blank input is a no-op. The voice status
// is never touched.
func (c *Controller) SendText(ctx context.Context, message string) ([]session.Entry, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		return nil, nil
	}
	if c.cfg.Text == nil {
		return nil, ErrTextDisabled
	}
	if !c.textInFlight.CompareAndSwap(false, true) {
		return nil, ErrTextInFlight
	}
	defer c.textInFlight.Store(false)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	user := c.appendEntryLocked(session.RoleUser, text)
	sessionID := c.sessionID
	c.mu.Unlock()
	appended := []session.Entry{user}

	start := c.now()
	res, err := c.cfg.Text.Send(ctx, agentapi.Request{
		Message:   text,
		AgentID:   c.cfg.AgentID,
		SessionID: sessionID,
	})
	c.metrics.ObserveStage(sessionID, observability.StageTextRoundTrip, c.now().Sub(start))

	var reply string
	switch {
	case err != nil:
		c.logger.Warn("text fallback failed", zap.Error(err))
		c.metrics.TextFallback("error")
		reply = agentapi.CallFailedText
	case !res.Success:
		c.metrics.TextFallback("agent_failure")
		reply = agentapi.ExtractText(res)
	default:
		c.metrics.TextFallback("ok")
		reply = agentapi.ExtractText(res)
	}
	if reply == "" {
		return appended, nil
	}

	c.mu.Lock()
	agent := c.appendEntryLocked(session.RoleAgent, reply)
	c.mu.Unlock()
	return append(appended, agent), nil
}

func (c *Controller) appendEntryLocked(role session.Role, text string) session.Entry {
	entry := session.NewEntry(role, text, c.now())
	c.transcript.Append(entry)
	if ce := c.logger.Check(zap.DebugLevel, "transcript entry"); ce != nil {
		redacted, _ := policy.RedactPII(text)
		ce.Write(zap.String("role", string(role)), zap.String("text", redacted))
	}
	c.sink.TranscriptAppended(entry)
	return entry
}
