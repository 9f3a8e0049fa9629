package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/policy"
	"github.com/antoniostano/concierge/internal/protocol"
)

const (
	// DefaultDialTimeout bounds the websocket handshake when ctx has no deadline.
	DefaultDialTimeout = 15 * time.Second

	maxFrameBytes     = 8 << 20
	frameBuffer       = 256
	closeWriteTimeout = 2 * time.Second
	writeTimeout      = 5 * time.Second
)

var ErrChannelClosed = errors.New("realtime channel closed")

// DialError reports a failed websocket handshake. StatusCode is zero when no
// HTTP response was received.
type DialError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("dial %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dial %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Frame is one inbound websocket message.
type Frame struct {
	Kind protocol.FrameKind
	Data []byte
}

// Channel is a bidirectional realtime voice connection. Outbound traffic is
// binary audio; inbound frames are delivered in arrival order on Frames.
type Channel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	frames  chan Frame
	closing chan struct{}
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial opens a channel to url. The handshake is bounded by timeout unless ctx
// already carries a deadline.
func Dial(ctx context.Context, url string, timeout time.Duration, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	safeURL := policy.RedactURL(url)

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	conn, resp, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		dErr := &DialError{URL: safeURL, Err: err}
		if resp != nil {
			dErr.StatusCode = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, dErr
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &Channel{
		conn:    conn,
		logger:  logger.With(zap.String("endpoint", safeURL)),
		frames:  make(chan Frame, frameBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	c.logger.Debug("realtime channel open")
	return c, nil
}

// Frames yields inbound frames until the channel ends. After it is closed,
// Err reports whether the end was clean.
func (c *Channel) Frames() <-chan Frame {
	if c == nil {
		return nil
	}
	return c.frames
}

// Done is closed once the read side has finished.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) IsOpen() bool {
	if c == nil || c.closed.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send writes one binary audio chunk.
func (c *Channel) Send(chunk []byte) error {
	if !c.IsOpen() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("write audio chunk: %w", err)
	}
	return nil
}

// Close sends a normal close frame and tears down the connection. It does
// not wait for the read loop; use Done for that.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
		c.logger.Debug("realtime channel closed locally")
	})
	return nil
}

// Err returns the error that ended the read side, or nil for a clean close.
// It is only meaningful after Done is closed.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.frames)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.closed.Load():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Debug("realtime channel closed by remote")
			default:
				c.setErr(err)
			}
			c.closed.Store(true)
			_ = c.conn.Close()
			return
		}

		var kind protocol.FrameKind
		switch messageType {
		case websocket.TextMessage:
			kind = protocol.FrameText
		case websocket.BinaryMessage:
			kind = protocol.FrameBinary
		default:
			continue
		}
		select {
		case c.frames <- Frame{Kind: kind, Data: data}:
		case <-c.closing:
			return
		}
	}
}
