package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/session"
	"github.com/antoniostano/concierge/internal/voice"
)

const (
	EventTypeSnapshot   = "snapshot"
	EventTypeStatus     = "status"
	EventTypeTranscript = "transcript"
	EventTypeError      = "error"

	subscriberBuffer = 64
	eventWriteWait   = 10 * time.Second
	eventPongWait    = 60 * time.Second
	eventPingPeriod  = 30 * time.Second
)

// Event is one message on the session events feed.
type Event struct {
	Type       string          `json:"type"`
	From       session.Status  `json:"from,omitempty"`
	To         session.Status  `json:"to,omitempty"`
	StatusText string          `json:"statusText,omitempty"`
	Entry      *session.Entry  `json:"entry,omitempty"`
	Error      string          `json:"error,omitempty"`
	Snapshot   *voice.Snapshot `json:"snapshot,omitempty"`
	At         time.Time       `json:"at"`
}

// Hub fans controller events out to websocket subscribers. It implements
// voice.EventSink and never blocks the controller: a subscriber that falls
// behind loses events.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[chan Event]struct{}
	dropped int
}

var _ voice.EventSink = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.Named("events"),
		subs:   make(map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts events discarded because a subscriber was full.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) StatusChanged(from, to session.Status) {
	h.publish(Event{Type: EventTypeStatus, From: from, To: to, StatusText: to.DisplayText()})
}

func (h *Hub) TranscriptAppended(entry session.Entry) {
	h.publish(Event{Type: EventTypeTranscript, Entry: &entry})
}

func (h *Hub) SessionError(err error) {
	h.publish(Event{Type: EventTypeError, Error: voice.UserMessage(err)})
}

// handleEvents streams session events. The first message is a snapshot so
// a viewer never misses state that changed before it subscribed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	snap := s.controller.Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	if err := conn.WriteJSON(Event{Type: EventTypeSnapshot, Snapshot: &snap, At: time.Now().UTC()}); err != nil {
		return
	}

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(eventPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					s.logger.Debug("event feed write failed", zap.Error(err))
					_ = conn.Close()
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Viewers only listen; reads exist to notice the close.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
	<-writerDone
}
