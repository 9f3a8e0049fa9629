package session

// Status is the visible state of a voice session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
	StatusEnded      Status = "ended"
)

// Active reports whether the status belongs to a live session.
func (s Status) Active() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusListening, StatusProcessing, StatusSpeaking:
		return true
	default:
		return false
	}
}

// DisplayText is the short status line shown next to the call control.
func (s Status) DisplayText() string {
	switch s {
	case StatusConnecting:
		return "Connecting to your concierge..."
	case StatusConnected:
		return "Connected -- begin speaking"
	case StatusListening:
		return "Listening..."
	case StatusProcessing:
		return "Processing your request..."
	case StatusSpeaking:
		return "Concierge is speaking..."
	case StatusEnded:
		return "Call ended"
	default:
		return "Tap to speak with our concierge"
	}
}

// Event is an input to the session state machine.
type Event string

const (
	EventStartRequested   Event = "start_requested"
	EventSetupFailed      Event = "setup_failed"
	EventChannelOpened    Event = "channel_opened"
	EventCaptureStarted   Event = "capture_started"
	EventRemoteListening  Event = "remote_listening"
	EventRemoteProcessing Event = "remote_processing"
	EventRemoteSpeaking   Event = "remote_speaking"
	EventAudioStarted     Event = "audio_started"
	EventPlaybackDone     Event = "playback_done"
	EventPlaybackFailed   Event = "playback_failed"
	EventRemoteClosed     Event = "remote_closed"
	EventTransportError   Event = "transport_error"
	EventHangup           Event = "hangup"
	EventReset            Event = "reset"
)

// RemoteStatusEvent maps a status token carried by an inbound message to its
// event. Only listening, processing and speaking are recognized.
func RemoteStatusEvent(token string) (Event, bool) {
	switch token {
	case string(StatusListening):
		return EventRemoteListening, true
	case string(StatusProcessing):
		return EventRemoteProcessing, true
	case string(StatusSpeaking):
		return EventRemoteSpeaking, true
	default:
		return "", false
	}
}

type edge struct {
	from  Status
	event Event
}

var transitions = map[edge]Status{
	{StatusIdle, EventStartRequested}: StatusConnecting,
	{StatusIdle, EventReset}:          StatusIdle,

	{StatusConnecting, EventSetupFailed}:   StatusIdle,
	{StatusConnecting, EventChannelOpened}: StatusConnected,

	{StatusConnected, EventCaptureStarted}: StatusListening,
	{StatusConnected, EventSetupFailed}:    StatusIdle,

	{StatusListening, EventRemoteProcessing}: StatusProcessing,
	{StatusListening, EventRemoteSpeaking}:   StatusSpeaking,
	{StatusListening, EventAudioStarted}:     StatusSpeaking,

	{StatusProcessing, EventRemoteListening}: StatusListening,
	{StatusProcessing, EventRemoteSpeaking}:  StatusSpeaking,
	{StatusProcessing, EventAudioStarted}:    StatusSpeaking,

	{StatusSpeaking, EventPlaybackDone}:    StatusListening,
	{StatusSpeaking, EventPlaybackFailed}:  StatusListening,
	{StatusSpeaking, EventRemoteListening}: StatusListening,

	{StatusEnded, EventReset}: StatusIdle,
}

// Next returns the state reached from `from` on `event`. The second result is
// false when the pair is not a legal transition, in which case `from` is
// returned unchanged.
func Next(from Status, event Event) (Status, bool) {
	if from.Active() {
		switch event {
		case EventRemoteClosed, EventTransportError, EventHangup:
			return StatusEnded, true
		}
	}
	to, ok := transitions[edge{from, event}]
	if !ok {
		return from, false
	}
	return to, true
}

// Machine holds the current status of one controller.
// It is not safe for concurrent use; the owner serializes access.
type Machine struct {
	status Status
}

func NewMachine() *Machine {
	return &Machine{status: StatusIdle}
}

func (m *Machine) Status() Status { return m.status }

// Fire applies event and reports the previous status, the new status and
// whether the transition was legal.
func (m *Machine) Fire(event Event) (from, to Status, ok bool) {
	from = m.status
	to, ok = Next(from, event)
	m.status = to
	return from, to, ok
}
