// Package registry tracks calls that are currently live in this process.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// Entry is the in-memory view of an active call.
type Entry struct {
	CallSid         string            `json:"callSid"`
	From            string            `json:"from"`
	To              string            `json:"to"`
	Status          models.CallStatus `json:"status"`
	StartTime       time.Time         `json:"startTime"`
	ConferenceID    string            `json:"conferenceId,omitempty"`
	IsAssistantCall bool              `json:"isAssistantCall"`
}

// Registry is a goroutine-safe map of call-id to Entry. Entries are copied in
// and out so callers never share mutable state with the map.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Get returns the entry for callSid.
func (r *Registry) Get(callSid string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[callSid]
	return e, ok
}

// Upsert applies fn to the entry for callSid, creating it first when absent.
// created reports whether the entry was new. fn runs under the registry lock
// and must not block.
func (r *Registry) Upsert(callSid string, fn func(*Entry)) (e Entry, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[callSid]
	if !ok {
		e = Entry{CallSid: callSid, StartTime: time.Now()}
	}
	if fn != nil {
		fn(&e)
	}
	e.CallSid = callSid
	r.entries[callSid] = e
	return e, !ok
}

// SetStatus updates the status of an existing entry. It reports false when
// the call is not registered.
func (r *Registry) SetStatus(callSid string, status models.CallStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[callSid]
	if !ok {
		return false
	}
	e.Status = status
	r.entries[callSid] = e
	return true
}

// Remove deletes the entry and returns it.
func (r *Registry) Remove(callSid string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[callSid]
	if ok {
		delete(r.entries, callSid)
	}
	return e, ok
}

// Len returns the number of active calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ListActive returns a snapshot of all entries, most recently started first.
func (r *Registry) ListActive() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].CallSid < out[j].CallSid
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}
