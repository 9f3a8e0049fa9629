package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/concierge/internal/session"
)

var ErrNotFound = errors.New("booking not found")

// Record is a stored booking summary.
type Record struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	Booking   session.Booking `json:"booking"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists booking summaries posted by the reservation system.
// Saving a confirmation number that already exists replaces it.
type Store interface {
	Save(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, confirmation string) (Record, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Validate checks the fields every displayed booking needs.
func Validate(b session.Booking) error {
	switch {
	case strings.TrimSpace(b.ConfirmationNumber) == "":
		return errors.New("confirmationNumber is required")
	case strings.TrimSpace(b.CheckIn) == "" || strings.TrimSpace(b.CheckOut) == "":
		return errors.New("checkIn and checkOut are required")
	case b.Guests <= 0:
		return fmt.Errorf("guests must be positive, got %d", b.Guests)
	}
	return nil
}
