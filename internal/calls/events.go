package calls

// Event is one inbound lifecycle input. Each concrete type maps to a single
// provider notification or stream message.
type Event interface {
	callID() string
}

// StatusChanged is a provider call status callback. Status is the raw
// provider value. FirstContact marks the initial webhook of a call, which
// may arrive without a status.
type StatusChanged struct {
	CallSid      string
	Status       string
	From         string
	To           string
	FirstContact bool
}

// ConferenceChanged is a conference status callback.
type ConferenceChanged struct {
	ConferenceSid string
	Event         string // conference-start, participant-join, ...
	CallSid       string
}

// RecordingReady reports a finished provider-side recording.
type RecordingReady struct {
	RecordingSid  string
	RecordingURL  string
	CallSid       string
	ConferenceSid string
}

// StreamStarted opens the media stream of a call.
type StreamStarted struct {
	CallSid   string
	StreamSid string
}

// StreamMedia carries one decoded audio frame.
type StreamMedia struct {
	CallSid string
	Payload []byte
}

// StreamStopped closes the media stream of a call, either by an explicit
// stop message or by the transport closing.
type StreamStopped struct {
	CallSid string
}

func (e StatusChanged) callID() string     { return e.CallSid }
func (e ConferenceChanged) callID() string { return e.CallSid }
func (e RecordingReady) callID() string    { return e.CallSid }
func (e StreamStarted) callID() string     { return e.CallSid }
func (e StreamMedia) callID() string       { return e.CallSid }
func (e StreamStopped) callID() string     { return e.CallSid }

// Result tells the transport how to answer the event.
type Result struct {
	// FirstContact is set when the event opened a call that should be
	// answered with call instructions.
	FirstContact bool
	// AssistantCall is set when the caller is the configured assistant
	// number.
	AssistantCall bool
}
