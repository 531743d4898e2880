package hub

import "time"

// Event types pushed to dashboard observers.
const (
	TypeStatsUpdate = "statsUpdate"
	TypeCallStarted = "callStarted"
	TypeCallEnded   = "callEnded"
	TypeNoteCreated = "noteCreated"
	TypeUserCreated = "userCreated"
	TypePong        = "pong"
)

// Event is one JSON message on the dashboard channel. Only the fields that
// belong to Type are set.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	CallSid   string `json:"callSid,omitempty"`
	Status    string `json:"status,omitempty"`
	Source    string `json:"source,omitempty"`
	Username  string `json:"username,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// StatsUpdate carries a stats snapshot.
func StatsUpdate(data any) Event {
	return Event{Type: TypeStatsUpdate, Data: data, Timestamp: now()}
}

// CallStarted announces that audio streaming began for a call.
func CallStarted(callSid string) Event {
	return Event{Type: TypeCallStarted, CallSid: callSid, Timestamp: now()}
}

// CallEnded announces a terminal status.
func CallEnded(callSid, status string) Event {
	return Event{Type: TypeCallEnded, CallSid: callSid, Status: status, Timestamp: now()}
}

// NoteCreated announces a persisted note.
func NoteCreated(callSid, source string) Event {
	return Event{Type: TypeNoteCreated, CallSid: callSid, Source: source, Timestamp: now()}
}

// Pong answers a client ping.
func Pong() Event {
	return Event{Type: TypePong}
}
