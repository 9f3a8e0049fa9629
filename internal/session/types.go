package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ParseRole maps an inbound role token; anything other than "user" is the agent.
func ParseRole(v string) Role {
	if v == string(RoleUser) {
		return RoleUser
	}
	return RoleAgent
}

// Entry is one finalized utterance in the conversation.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp string    `json:"timestamp"`
	At        time.Time `json:"at"`
}

// NewEntry stamps an entry with a fresh id and the display time of now.
func NewEntry(role Role, text string, now time.Time) Entry {
	return Entry{
		ID:        "msg-" + uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: FormatTimestamp(now),
		At:        now,
	}
}

// FormatTimestamp renders the hour without padding and two-digit minutes, e.g. "8:01 PM".
func FormatTimestamp(t time.Time) string {
	return t.Format("3:04 PM")
}

// Booking is a reservation produced outside the session and displayed with it.
type Booking struct {
	ConfirmationNumber string `json:"confirmationNumber"`
	CheckIn            string `json:"checkIn"`
	CheckOut           string `json:"checkOut"`
	RoomType           string `json:"roomType"`
	Guests             int    `json:"guests"`
}

// Transcript is the append-only, receipt-ordered list of entries of a session.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

func (t *Transcript) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Entries returns a copy of the entries in receipt order.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
