package voice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/agentapi"
	"github.com/antoniostano/concierge/internal/realtime"
	"github.com/antoniostano/concierge/internal/session"
)

// Channel is the realtime connection of one session. Frames must be closed
// once the connection ends, including after Close.
type Channel interface {
	Frames() <-chan realtime.Frame
	Send(chunk []byte) error
	IsOpen() bool
	Close() error
	Err() error
}

// Dialer opens a Channel to an endpoint URL.
type Dialer func(ctx context.Context, url string) (Channel, error)

// RealtimeDialer dials websocket channels.
func RealtimeDialer(timeout time.Duration, logger *zap.Logger) Dialer {
	return func(ctx context.Context, url string) (Channel, error) {
		ch, err := realtime.Dial(ctx, url, timeout, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// TextSender performs one text fallback request.
type TextSender interface {
	Send(ctx context.Context, req agentapi.Request) (agentapi.Result, error)
}

// EventSink observes a controller. Calls are made synchronously while the
// controller holds its lock, so implementations must return quickly and must
// not call back into Start, Stop, Reset or Close.
type EventSink interface {
	StatusChanged(from, to session.Status)
	TranscriptAppended(entry session.Entry)
	SessionError(err error)
}

type nopSink struct{}

func (nopSink) StatusChanged(session.Status, session.Status) {}
func (nopSink) TranscriptAppended(session.Entry)             {}
func (nopSink) SessionError(error)                           {}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) StatusChanged(from, to session.Status) {
	for _, s := range m {
		s.StatusChanged(from, to)
	}
}

func (m MultiSink) TranscriptAppended(entry session.Entry) {
	for _, s := range m {
		s.TranscriptAppended(entry)
	}
}

func (m MultiSink) SessionError(err error) {
	for _, s := range m {
		s.SessionError(err)
	}
}
