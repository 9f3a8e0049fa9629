package voice

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive = errors.New("voice session already active")
	ErrSessionEnded  = errors.New("voice session ended; reset before starting again")
	ErrClosed        = errors.New("voice controller closed")
	ErrCanceled      = errors.New("voice session setup canceled")
	ErrTextInFlight  = errors.New("text message already in flight")
	ErrTextDisabled  = errors.New("text fallback not configured")
)

// ConfigurationError means no usable endpoint or capture pipeline could be
// set up.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("voice configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PermissionError means the capture source could not be acquired.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// TransportError is a failure of the realtime channel, either while opening
// it or after it was open.
type TransportError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("realtime %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PlaybackError is a failure to play one received audio payload.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// UserMessage is the short text shown to a guest for err.
func UserMessage(err error) string {
	var (
		cfgErr   *ConfigurationError
		permErr  *PermissionError
		transErr *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &permErr):
		return "Microphone access denied. Please allow microphone access and try again."
	case errors.As(err, &cfgErr):
		return "Voice service is not available right now. Please try again later."
	case errors.As(err, &transErr):
		return "Connection to the concierge was lost. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
