package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/audio"
	"github.com/antoniostano/concierge/internal/observability"
	"github.com/antoniostano/concierge/internal/policy"
	"github.com/antoniostano/concierge/internal/realtime"
	"github.com/antoniostano/concierge/internal/reliability"
	"github.com/antoniostano/concierge/internal/session"
)

// resources are everything acquired for one live session.
type resources struct {
	stream   audio.Stream
	recorder *audio.Recorder
	channel  Channel
	playback *playbackWorker

	playCtx    context.Context
	playCancel context.CancelFunc

	// Guarded by Controller.mu.
	pendingPlayback int
	lastPlaybackErr error
	heardAudio      bool

	once sync.Once
}

// release stops the recorder, the capture stream, the channel and the
// playback worker. It is safe to call more than once.
func (r *resources) release() error {
	var errs []error
	r.once.Do(func() {
		if r.recorder != nil {
			r.recorder.Stop()
		}
		if r.stream != nil {
			if err := r.stream.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.channel != nil {
			if err := r.channel.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.playCancel != nil {
			r.playCancel()
		}
	})
	return errors.Join(errs...)
}

// Start opens a voice session: endpoint, then microphone, then channel,
// then the chunked recorder. On failure nothing stays acquired and the
// status returns to idle. A Stop while Start is pending cancels it and
// Start returns ErrCanceled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch status := c.machine.Status(); {
	case status.Active():
		c.mu.Unlock()
		return ErrSessionActive
	case status == session.StatusEnded:
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.gen++
	gen := c.gen
	c.sessionID = uuid.NewString()
	c.lastErr = nil
	c.startedAt = c.now()
	setupCtx, cancel := context.WithCancel(ctx)
	c.setupCancel = cancel
	c.fireLocked(session.EventStartRequested)
	sessionID := c.sessionID
	logger := c.logger.With(zap.String("session_id", sessionID))
	startedAt := c.startedAt
	c.unlock()
	defer cancel()

	url, err := c.cfg.Provisioner.Endpoint(setupCtx)
	if err != nil {
		return c.failSetup(gen, &ConfigurationError{Err: err}, "configuration", nil, nil)
	}
	c.metrics.ObserveStage(sessionID, observability.StageEndpoint, c.now().Sub(startedAt))
	logger.Debug("voice endpoint ready", zap.String("url", policy.RedactURL(url)))

	stream, err := c.cfg.Source.Acquire(setupCtx)
	if err != nil {
		return c.failSetup(gen, &PermissionError{Err: err}, "permission", nil, nil)
	}

	dialStart := c.now()
	ch, err := c.cfg.Dial(setupCtx, url)
	if err != nil {
		return c.failSetup(gen, dialError(err), "transport", stream, nil)
	}
	c.metrics.ObserveStage(sessionID, observability.StageChannelOpen, c.now().Sub(dialStart))

	c.mu.Lock()
	defer c.unlock()
	if c.closed || gen != c.gen || c.machine.Status() != session.StatusConnecting {
		c.releasing = append(c.releasing, &resources{stream: stream, channel: ch})
		return ErrCanceled
	}
	c.setupCancel = nil

	res := &resources{stream: stream, channel: ch}
	c.res = res
	c.fireLocked(session.EventChannelOpened)

	enc, probe := c.cfg.Encoder.Negotiate(c.cfg.PreferredEncoding, stream.Format())
	if !probe.Supported() {
		logger.Info("preferred encoding unavailable, using default",
			zap.String("preferred", string(c.cfg.PreferredEncoding)),
			zap.String("reason", probe.Reason),
			zap.String("encoding", string(enc)),
		)
	}
	rec, err := c.cfg.Encoder.Start(stream, enc, c.chunkSink(ch))
	if err != nil {
		setupErr := &ConfigurationError{Err: err}
		c.recordErrorLocked(setupErr)
		c.metrics.SetupFailure(sessionID, "recorder")
		c.fireLocked(session.EventSetupFailed)
		return setupErr
	}
	res.recorder = rec

	res.playCtx, res.playCancel = context.WithCancel(context.Background())
	res.playback = newPlaybackWorker(c.cfg.Player, c.cfg.PlaybackQueue)
	c.fireLocked(session.EventCaptureStarted)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		res.playback.run(res.playCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.eventLoop(res)
	}()

	logger.Info("voice session started", zap.String("encoding", string(enc)))
	return nil
}

// failSetup reports a setup error, or ErrCanceled when the session was
// stopped while the failing step was pending. Partially acquired resources
// are released either way.
func (c *Controller) failSetup(gen uint64, err error, kind string, stream audio.Stream, ch Channel) error {
	c.mu.Lock()
	defer c.unlock()

	c.releasing = append(c.releasing, &resources{stream: stream, channel: ch})
	if c.closed || gen != c.gen || c.machine.Status() != session.StatusConnecting {
		return ErrCanceled
	}
	c.setupCancel = nil
	c.recordErrorLocked(err)
	c.metrics.SetupFailure(c.sessionID, kind)
	c.fireLocked(session.EventSetupFailed)
	c.logger.Warn("voice session setup failed", zap.String("kind", kind), zap.Error(err))
	return err
}

// Stop hangs up. Every acquired resource is released; an active session
// moves to ended. Stopping a session that is not active does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.setupCancel != nil {
		c.setupCancel()
		c.setupCancel = nil
	}
	if c.machine.Status().Active() {
		c.fireLocked(session.EventHangup)
	}
	c.releaseLocked()
}

// Reset hangs up if needed and clears the transcript, the booking and the
// last error, returning to idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.unlock()
	c.stopLocked()
	c.transcript.Clear()
	c.booking = nil
	c.lastErr = nil
	c.fireLocked(session.EventReset)
}

// Close releases everything regardless of state, waits for background
// goroutines and rejects any further Start.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.unlock()
	c.wg.Wait()
	return nil
}

// fireLocked applies event to the state machine, releases resources on the
// way out of an active session and notifies the sink.
func (c *Controller) fireLocked(event session.Event) bool {
	from, to, ok := c.machine.Fire(event)
	c.metrics.SessionEvent(string(event))
	if !ok {
		c.logger.Debug("event ignored", zap.String("event", string(event)), zap.String("status", string(from)))
		return false
	}
	if from == to {
		return true
	}
	if !to.Active() {
		c.releaseLocked()
	}
	c.metrics.Transition(string(from), string(to))
	c.metrics.SetActive(to.Active())
	if from == session.StatusConnected && to == session.StatusListening {
		c.metrics.ObserveStage(c.sessionID, observability.StageStartToListening, c.now().Sub(c.startedAt))
	}
	c.logger.Debug("status changed", zap.String("from", string(from)), zap.String("to", string(to)), zap.String("event", string(event)))
	c.sink.StatusChanged(from, to)
	return true
}

func (c *Controller) releaseLocked() {
	if c.res == nil {
		return
	}
	c.releasing = append(c.releasing, c.res)
	c.res = nil
}

// unlock releases c.mu, then the resources detached while it was held. A
// recorder flush can block on the channel, so it never runs under the lock.
func (c *Controller) unlock() {
	pending := c.releasing
	c.releasing = nil
	c.mu.Unlock()
	for _, res := range pending {
		releaseQuietly(c.logger, res)
	}
}

func (c *Controller) recordErrorLocked(err error) {
	c.lastErr = err
	c.sink.SessionError(err)
}

func releaseQuietly(logger *zap.Logger, res *resources) {
	if err := res.release(); err != nil {
		logger.Warn("release voice resources", zap.Error(err))
	}
}

// chunkSink forwards recorder chunks while ch is open and drops them after.
func (c *Controller) chunkSink(ch Channel) func([]byte) {
	return func(chunk []byte) {
		if !ch.IsOpen() {
			c.metrics.OutboundChunk("dropped")
			return
		}
		if err := ch.Send(chunk); err != nil {
			c.metrics.OutboundChunk("dropped")
			c.logger.Debug("audio chunk not sent", zap.Error(err))
			return
		}
		c.metrics.OutboundChunk("sent")
	}
}

func dialError(err error) error {
	te := &TransportError{Op: "dial", Retryable: true, Err: err}
	var dErr *realtime.DialError
	if errors.As(err, &dErr) && dErr.StatusCode > 0 {
		te.StatusCode = dErr.StatusCode
		te.Retryable = reliability.IsRetryableHTTPStatus(dErr.StatusCode)
	}
	return te
}
