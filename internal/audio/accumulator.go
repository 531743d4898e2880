// Package audio buffers streamed call audio and turns it into stored WAV files.
package audio

import (
	"bytes"
	"log"
	"sync"
	"time"
)

// Session holds the decoded media frames received for one call.
type Session struct {
	CallSid   string
	StreamSid string
	Frames    [][]byte
	StartTime time.Time
}

// Payload returns every frame concatenated in arrival order.
func (s *Session) Payload() []byte {
	return bytes.Join(s.Frames, nil)
}

// Accumulator owns the stream sessions of all calls handled by this process.
// At most one session exists per call-id.
type Accumulator struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{sessions: make(map[string]*Session)}
}

// Start opens a session for callSid. An existing session is replaced.
func (a *Accumulator) Start(callSid, streamSid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.sessions[callSid]; ok {
		log.Printf("audio: replacing stream session for %s (%d frames dropped)", callSid, len(old.Frames))
	}
	a.sessions[callSid] = &Session{
		CallSid:   callSid,
		StreamSid: streamSid,
		StartTime: time.Now(),
	}
}

// Append adds a frame to the session for callSid. It reports false, and
// does nothing, when no session is open.
func (a *Accumulator) Append(callSid string, frame []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[callSid]
	if !ok {
		return false
	}
	s.Frames = append(s.Frames, frame)
	return true
}

// Take claims the session for callSid for finalization and removes it. Only
// the first caller receives the session; later calls return nil.
func (a *Accumulator) Take(callSid string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[callSid]
	if !ok {
		return nil
	}
	// The delete under mu is the claim: no other caller can see s after this.
	delete(a.sessions, callSid)
	return s
}

// Len returns the number of open sessions.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
