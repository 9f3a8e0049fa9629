package booking

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps bookings in process for local runs and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) (Record, error) {
	if err := Validate(record.Booking); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	key := normalizeConfirmation(record.Booking.ConfirmationNumber)
	if _, ok := s.records[key]; ok {
		s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	}
	s.records[key] = record
	s.order = append(s.order, key)
	return record, nil
}

func (s *InMemoryStore) Get(_ context.Context, confirmation string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[normalizeConfirmation(confirmation)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Recent returns up to limit records, newest first.
func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]Record, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[s.order[i]])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func normalizeConfirmation(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
