package voice

import (
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/observability"
	"github.com/antoniostano/concierge/internal/protocol"
	"github.com/antoniostano/concierge/internal/realtime"
	"github.com/antoniostano/concierge/internal/reliability"
	"github.com/antoniostano/concierge/internal/session"
)

// eventLoop consumes inbound frames and playback outcomes for one session
// until the channel ends or the session is released.
func (c *Controller) eventLoop(res *resources) {
	frames := res.channel.Frames()
	for {
		select {
		case <-res.playCtx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.channelEnded(res)
				return
			}
			c.handleFrame(res, f)
		case err := <-res.playback.results:
			c.handlePlayback(res, err)
		}
	}
}

func (c *Controller) handleFrame(res *resources, f realtime.Frame) {
	c.metrics.InboundFrame(f.Kind.String())
	d, err := protocol.Interpret(f.Kind, f.Data)
	if err != nil {
		c.metrics.InboundFrame("malformed")
		c.logger.Debug("inbound message dropped", zap.Error(err), zap.Int("bytes", len(f.Data)))
		return
	}
	if d.Empty() {
		return
	}

	c.mu.Lock()
	defer c.unlock()
	if c.res != res {
		return
	}

	if d.Transcript != nil {
		c.appendEntryLocked(d.Transcript.Role, d.Transcript.Text)
	}
	if d.HasStatus {
		c.fireLocked(d.Status)
	}
	if d.Audio != nil {
		c.queueAudioLocked(res, d.Audio)
	}
}

func (c *Controller) queueAudioLocked(res *resources, payload []byte) {
	if !res.playback.enqueue(payload) {
		c.metrics.Playback("dropped")
		c.logger.Warn("playback queue full, audio dropped", zap.Int("bytes", len(payload)))
		if res.pendingPlayback == 0 {
			c.fireLocked(session.EventPlaybackFailed)
		}
		return
	}
	res.pendingPlayback++
	if !res.heardAudio {
		res.heardAudio = true
		c.metrics.ObserveStage(c.sessionID, observability.StageFirstAudio, c.now().Sub(c.startedAt))
	}
	c.fireLocked(session.EventAudioStarted)
}

func (c *Controller) handlePlayback(res *resources, err error) {
	c.mu.Lock()
	defer c.unlock()
	if c.res != res {
		return
	}

	res.pendingPlayback--
	if err != nil {
		res.lastPlaybackErr = &PlaybackError{Err: err}
		c.metrics.Playback("failed")
		c.logger.Warn("audio playback failed", zap.Error(err))
	} else {
		res.lastPlaybackErr = nil
		c.metrics.Playback("done")
	}
	if res.pendingPlayback > 0 {
		return
	}
	res.pendingPlayback = 0
	if res.lastPlaybackErr != nil {
		c.fireLocked(session.EventPlaybackFailed)
		return
	}
	c.fireLocked(session.EventPlaybackDone)
}

// channelEnded maps the end of the channel onto remote-closed or
// transport-error.
func (c *Controller) channelEnded(res *resources) {
	c.mu.Lock()
	defer c.unlock()
	if c.res != res {
		return
	}

	cause := res.channel.Err()
	if cause == nil {
		c.logger.Info("voice session closed by remote")
		c.fireLocked(session.EventRemoteClosed)
		return
	}

	te := &TransportError{Op: "read", Retryable: true, Err: cause}
	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) {
		te.Retryable = reliability.IsRetryableCloseCode(closeErr.Code)
	}
	c.recordErrorLocked(te)
	c.logger.Warn("voice session transport error", zap.Error(te), zap.Bool("retryable", te.Retryable))
	c.fireLocked(session.EventTransportError)
}
