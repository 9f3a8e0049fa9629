package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/concierge/internal/session"
)

// FrameKind identifies the framing of an inbound channel payload.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// TypeTranscript marks a structured payload as a transcript line.
const TypeTranscript = "transcript"

var ErrMalformedMessage = errors.New("malformed inbound message")

// Inbound is the structured view of a text payload. Every key is optional.
type Inbound struct {
	Type    string
	Text    string
	Message string
	Role    string
	Status  string
}

// Transcript is a finalized utterance extracted from an inbound payload.
type Transcript struct {
	Role session.Role
	Text string
}

// Decision is what an inbound payload asks the controller to do. A payload
// may carry a transcript and a status hint at the same time.
type Decision struct {
	Transcript *Transcript
	Status     session.Event
	HasStatus  bool
	Audio      []byte
}

// Empty reports whether the payload carried no usable signal.
func (d Decision) Empty() bool {
	return d.Transcript == nil && !d.HasStatus && d.Audio == nil
}

// Interpret classifies one inbound frame. Binary frames are audio; text frames
// are parsed permissively and yield ErrMalformedMessage when they are not a
// JSON object.
func Interpret(kind FrameKind, data []byte) (Decision, error) {
	switch kind {
	case FrameBinary:
		return Decision{Audio: data}, nil
	case FrameText:
		msg, err := ParseInbound(data)
		if err != nil {
			return Decision{}, err
		}
		return Decide(msg), nil
	default:
		return Decision{}, fmt.Errorf("%w: unsupported frame kind %d", ErrMalformedMessage, kind)
	}
}

// ParseInbound decodes a text payload. Non-string values are treated as absent.
func ParseInbound(raw []byte) (Inbound, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if obj == nil {
		return Inbound{}, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}
	return Inbound{
		Type:    asString(obj["type"]),
		Text:    asString(obj["text"]),
		Message: asString(obj["message"]),
		Role:    asString(obj["role"]),
		Status:  asString(obj["status"]),
	}, nil
}

// Decide applies the transcript and status promotion rules to a parsed payload.
func Decide(msg Inbound) Decision {
	var d Decision

	if msg.Type == TypeTranscript || msg.Text != "" || msg.Message != "" {
		text := msg.Text
		if strings.TrimSpace(text) == "" {
			text = msg.Message
		}
		if strings.TrimSpace(text) != "" {
			d.Transcript = &Transcript{Role: session.ParseRole(msg.Role), Text: text}
		}
	}

	token := msg.Status
	if token == "" {
		token = msg.Type
	}
	if ev, ok := session.RemoteStatusEvent(token); ok {
		d.Status = ev
		d.HasStatus = true
	}
	return d
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
