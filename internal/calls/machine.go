// Package calls coordinates the call lifecycle: it reconciles provider status
// events with the active-call registry and the durable store, accumulates
// streamed audio, and runs post-call processing exactly once per session.
package calls

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/audio"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/gorm"
)

const defaultFinalizeTimeout = 5 * time.Minute

// NoteWriter turns call audio into a transcript and notes.
type NoteWriter interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Provider is the subset of telephony operations the machine drives.
type Provider interface {
	EndCall(ctx context.Context, callSid string) error
	FetchRecording(ctx context.Context, recordingSid string) ([]byte, error)
}

// MachineOpts holds the collaborators of a Machine.
type MachineOpts struct {
	DB          *gorm.DB
	Registry    *registry.Registry
	Accumulator *audio.Accumulator
	Archive     *audio.Archive
	Hub         *hub.Hub
	Notes       NoteWriter
	Provider    Provider
	Metrics     *metrics.Metrics // optional

	// AssistantNumber marks calls from this caller as assistant calls.
	AssistantNumber string
	// BaseContext parents post-call work, which outlives the request that
	// triggered it. Defaults to context.Background().
	BaseContext     context.Context
	FinalizeTimeout time.Duration
	Now             func() time.Time
}

// Machine is the single dispatch point for lifecycle events.
type Machine struct {
	db        *gorm.DB
	reg       *registry.Registry
	acc       *audio.Accumulator
	archive   *audio.Archive
	hub       *hub.Hub
	notes     NoteWriter
	provider  Provider
	metrics   *metrics.Metrics
	assistant string

	baseCtx         context.Context
	finalizeTimeout time.Duration
	now             func() time.Time

	wg sync.WaitGroup
}

// NewMachine validates opts and returns a ready machine.
func NewMachine(opts MachineOpts) (*Machine, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("calls: db is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("calls: registry is required")
	case opts.Accumulator == nil:
		return nil, fmt.Errorf("calls: accumulator is required")
	case opts.Archive == nil:
		return nil, fmt.Errorf("calls: archive is required")
	case opts.Hub == nil:
		return nil, fmt.Errorf("calls: hub is required")
	case opts.Notes == nil:
		return nil, fmt.Errorf("calls: note writer is required")
	case opts.Provider == nil:
		return nil, fmt.Errorf("calls: provider is required")
	}
	m := &Machine{
		db:              opts.DB,
		reg:             opts.Registry,
		acc:             opts.Accumulator,
		archive:         opts.Archive,
		hub:             opts.Hub,
		notes:           opts.Notes,
		provider:        opts.Provider,
		metrics:         opts.Metrics,
		assistant:       opts.AssistantNumber,
		baseCtx:         opts.BaseContext,
		finalizeTimeout: opts.FinalizeTimeout,
		now:             opts.Now,
	}
	if m.baseCtx == nil {
		m.baseCtx = context.Background()
	}
	if m.finalizeTimeout <= 0 {
		m.finalizeTimeout = defaultFinalizeTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Handle applies one event. It never fails: storage and processing errors
// are logged and the in-memory transition still happens.
func (m *Machine) Handle(ctx context.Context, evt Event) Result {
	switch e := evt.(type) {
	case StatusChanged:
		return m.handleStatus(ctx, e)
	case ConferenceChanged:
		m.handleConference(ctx, e)
	case RecordingReady:
		m.handleRecording(e)
	case StreamStarted:
		m.handleStreamStarted(e)
	case StreamMedia:
		if m.acc.Append(e.CallSid, e.Payload) {
			m.metrics.Frame()
		}
	case StreamStopped:
		if s := m.acc.Take(e.CallSid); s != nil {
			log.Printf("calls: stream stopped for %s, finalizing %d frames", e.CallSid, len(s.Frames))
			m.finalizeAsync(s)
		}
	default:
		log.Printf("calls: unhandled event %T", evt)
	}
	return Result{}
}

// Wait blocks until all in-flight post-call processing has finished.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// ActiveCalls returns the calls currently tracked, newest first.
func (m *Machine) ActiveCalls() []registry.Entry {
	return m.reg.ListActive()
}

// EndCall hangs up a live call through the provider and records it as
// ended.
func (m *Machine) EndCall(ctx context.Context, callSid string) error {
	if err := m.provider.EndCall(ctx, callSid); err != nil {
		return fmt.Errorf("calls: end %s: %w", callSid, err)
	}
	if err := m.finish(ctx, callSid, models.StatusEnded); err != nil {
		return fmt.Errorf("calls: end %s: %w", callSid, err)
	}
	return nil
}

func (m *Machine) handleStatus(ctx context.Context, e StatusChanged) Result {
	if e.CallSid == "" {
		log.Printf("calls: status event without call sid ignored")
		return Result{}
	}
	status, ok := models.ParseCallStatus(e.Status)
	if e.Status == "" && e.FirstContact {
		status, ok = models.StatusIncoming, true
	}
	if !ok {
		log.Printf("calls: %s: untracked status %q ignored", e.CallSid, e.Status)
		return Result{}
	}

	if status.Terminal() {
		if err := m.finish(ctx, e.CallSid, status); err != nil {
			log.Printf("calls: persist end of %s: %v", e.CallSid, err)
		}
		return Result{}
	}

	firstContact := e.FirstContact || status.FirstContact()
	if entry, known := m.reg.Get(e.CallSid); known {
		m.reg.SetStatus(e.CallSid, status)
		return Result{FirstContact: firstContact, AssistantCall: entry.IsAssistantCall}
	}

	if !firstContact && status != models.StatusInProgress {
		log.Printf("calls: %s: status %q for unknown call ignored", e.CallSid, status)
		return Result{}
	}

	// First contact, or an in-progress call whose first webhook was missed.
	// The durable row is written first so a late event for a finished call
	// never re-registers it.
	assistant := m.assistant != "" && e.From == m.assistant
	row := models.Call{
		CallSid:         e.CallSid,
		From:            e.From,
		To:              e.To,
		Status:          status,
		StartTime:       m.now(),
		IsAssistantCall: assistant,
	}
	if _, err := store.UpsertCall(m.db.WithContext(ctx), &row); errors.Is(err, store.ErrCallFinished) {
		log.Printf("calls: %s: stale status %q after call ended ignored", e.CallSid, status)
		return Result{}
	} else if err != nil {
		log.Printf("calls: persist %s: %v", e.CallSid, err)
	}
	m.reg.Upsert(e.CallSid, func(en *registry.Entry) {
		en.From = e.From
		en.To = e.To
		en.Status = status
		en.StartTime = row.StartTime
		en.IsAssistantCall = assistant
	})
	if !firstContact {
		log.Printf("calls: %s: tracking in-progress call with no first-contact event", e.CallSid)
	}
	return Result{FirstContact: firstContact, AssistantCall: assistant}
}

// finish applies a terminal status: persist, finalize any open stream,
// forget the call, announce it. The durable transition decides the
// announcement so concurrent or redelivered terminal events produce one
// callEnded.
func (m *Machine) finish(ctx context.Context, callSid string, status models.CallStatus) error {
	transitioned, err := store.FinishCall(m.db.WithContext(ctx), callSid, status, m.now())

	if s := m.acc.Take(callSid); s != nil {
		m.finalizeAsync(s)
	}

	_, known := m.reg.Remove(callSid)
	if !known {
		// No session can exist for a call this process never saw start, so
		// only the durable status is updated.
		log.Printf("calls: %s ended (%s) while not tracked", callSid, status)
	}
	if err != nil {
		// Store unavailable: fall back to the registry for the announcement.
		transitioned = known
	}
	if transitioned {
		m.metrics.CallEnded(string(status))
		m.broadcast(hub.CallEnded(callSid, string(status)))
	}
	return err
}

func (m *Machine) handleConference(ctx context.Context, e ConferenceChanged) {
	switch e.Event {
	case "participant-join":
		if _, known := m.reg.Get(e.CallSid); !known {
			log.Printf("calls: conference %s: participant %s is not an active call", e.ConferenceSid, e.CallSid)
			return
		}
		m.reg.Upsert(e.CallSid, func(en *registry.Entry) {
			en.ConferenceID = e.ConferenceSid
			en.Status = models.StatusInConference
		})
		row := models.Call{
			CallSid:      e.CallSid,
			Status:       models.StatusInConference,
			ConferenceID: e.ConferenceSid,
		}
		if _, err := store.UpsertCall(m.db.WithContext(ctx), &row); err != nil {
			log.Printf("calls: persist conference %s for %s: %v", e.ConferenceSid, e.CallSid, err)
		}
	default:
		log.Printf("calls: conference %s: %s (call %s)", e.ConferenceSid, e.Event, e.CallSid)
	}
}

func (m *Machine) handleStreamStarted(e StreamStarted) {
	if e.CallSid == "" {
		log.Printf("calls: stream start without call sid ignored")
		return
	}
	m.acc.Start(e.CallSid, e.StreamSid)
	m.broadcast(hub.CallStarted(e.CallSid))
}

func (m *Machine) broadcast(evt hub.Event) {
	m.hub.Broadcast(evt)
	m.metrics.Broadcast(evt.Type)
}
