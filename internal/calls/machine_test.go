package calls

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/audio"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeNotes struct {
	transcribeCalls int32
	summarizeCalls  int32
	transcribeErr   error
	panicOnCall     bool
}

func (f *fakeNotes) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	atomic.AddInt32(&f.transcribeCalls, 1)
	if f.panicOnCall {
		panic("transcriber exploded")
	}
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return "caller asked about invoice 42", nil
}

func (f *fakeNotes) Summarize(ctx context.Context, transcript string) (string, error) {
	atomic.AddInt32(&f.summarizeCalls, 1)
	return "- follow up on invoice 42", nil
}

type fakeProvider struct {
	ended     []string
	endErr    error
	recording []byte
}

func (f *fakeProvider) EndCall(ctx context.Context, callSid string) error {
	if f.endErr != nil {
		return f.endErr
	}
	f.ended = append(f.ended, callSid)
	return nil
}

func (f *fakeProvider) FetchRecording(ctx context.Context, recordingSid string) ([]byte, error) {
	if f.recording == nil {
		return nil, errors.New("no recording")
	}
	return f.recording, nil
}

type observer struct {
	mu     sync.Mutex
	events []hub.Event
}

func (o *observer) Send(b []byte) error {
	var e hub.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return err
	}
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
	return nil
}
func (o *observer) Open() bool   { return true }
func (o *observer) Close() error { return nil }

func (o *observer) count(typ string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	m        *Machine
	db       *gorm.DB
	reg      *registry.Registry
	acc      *audio.Accumulator
	notes    *fakeNotes
	provider *fakeProvider
	obs      *observer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Call{}, &models.CallNote{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	archive, err := audio.NewArchive(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		db:       db,
		reg:      registry.New(),
		acc:      audio.NewAccumulator(),
		notes:    &fakeNotes{},
		provider: &fakeProvider{},
		obs:      &observer{},
	}
	h := hub.New()
	h.Subscribe(f.obs)

	f.m, err = NewMachine(MachineOpts{
		DB:              db,
		Registry:        f.reg,
		Accumulator:     f.acc,
		Archive:         archive,
		Hub:             h,
		Notes:           f.notes,
		Provider:        f.provider,
		Metrics:         metrics.New(),
		AssistantNumber: "+15550001111",
	})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return f
}

func (f *fixture) notesFor(t *testing.T, callSid string) []models.CallNote {
	t.Helper()
	var notes []models.CallNote
	if err := f.db.Where("call_sid = ?", callSid).Find(&notes).Error; err != nil {
		t.Fatal(err)
	}
	return notes
}

func TestScenario_RingingThenCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.m.Handle(ctx, StatusChanged{CallSid: "CA1", Status: "ringing", From: "+1999", To: "+1888"})
	if !res.FirstContact {
		t.Error("ringing for a new call should be a first contact")
	}
	if res.AssistantCall {
		t.Error("caller is not the assistant number")
	}
	if f.reg.Len() != 1 {
		t.Fatalf("registry Len = %d, want 1", f.reg.Len())
	}

	f.m.Handle(ctx, StatusChanged{CallSid: "CA1", Status: "completed"})
	f.m.Wait()

	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d, want 0 after terminal", f.reg.Len())
	}
	c, err := store.GetCall(f.db, "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.StatusCompleted || c.EndTime == nil {
		t.Errorf("call = status %q end %v, want completed with end time", c.Status, c.EndTime)
	}
	if c.From != "+1999" {
		t.Errorf("From = %q", c.From)
	}
	if n := f.obs.count(hub.TypeCallEnded); n != 1 {
		t.Errorf("callEnded broadcasts = %d, want 1", n)
	}
}

func TestScenario_StreamStartMediaStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Handle(ctx, StatusChanged{CallSid: "CA2", Status: "ringing", From: "+15550001111"})
	f.m.Handle(ctx, StreamStarted{CallSid: "CA2", StreamSid: "MZ2"})
	for i := 0; i < 3; i++ {
		f.m.Handle(ctx, StreamMedia{CallSid: "CA2", Payload: make([]byte, 160)})
	}
	f.m.Handle(ctx, StreamStopped{CallSid: "CA2"})
	f.m.Wait()

	notes := f.notesFor(t, "CA2")
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	n := notes[0]
	if n.AudioChunks != 3 {
		t.Errorf("AudioChunks = %d, want 3", n.AudioChunks)
	}
	if n.Source != models.SourceAudioStream {
		t.Errorf("Source = %q", n.Source)
	}
	if n.AudioSize != 44+480 {
		t.Errorf("AudioSize = %d, want %d", n.AudioSize, 44+480)
	}
	if n.StreamID != "MZ2" {
		t.Errorf("StreamID = %q", n.StreamID)
	}
	if n.Notes != "- follow up on invoice 42" {
		t.Errorf("Notes = %q", n.Notes)
	}
	if _, err := os.Stat(n.AudioFilePath); err != nil {
		t.Errorf("audio file missing: %v", err)
	}
	if f.obs.count(hub.TypeCallStarted) != 1 || f.obs.count(hub.TypeNoteCreated) != 1 {
		t.Errorf("events = %+v", f.obs.events)
	}
	// Stream stop alone does not end the call.
	if f.reg.Len() != 1 {
		t.Errorf("registry Len = %d, want call still active", f.reg.Len())
	}
}

func TestDuplicateTerminal_FinalizesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Handle(ctx, StatusChanged{CallSid: "CA3", Status: "ringing"})
	f.m.Handle(ctx, StreamStarted{CallSid: "CA3", StreamSid: "MZ3"})
	f.m.Handle(ctx, StreamMedia{CallSid: "CA3", Payload: []byte{1, 2, 3}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.m.Handle(ctx, StatusChanged{CallSid: "CA3", Status: "completed"})
		}()
	}
	wg.Wait()
	f.m.Handle(ctx, StreamStopped{CallSid: "CA3"})
	f.m.Wait()

	if got := atomic.LoadInt32(&f.notes.transcribeCalls); got != 1 {
		t.Errorf("transcribe calls = %d, want 1", got)
	}
	if n := len(f.notesFor(t, "CA3")); n != 1 {
		t.Errorf("notes = %d, want 1", n)
	}
	if n := f.obs.count(hub.TypeCallEnded); n != 1 {
		t.Errorf("callEnded broadcasts = %d, want 1", n)
	}
}

func TestMediaAfterStop_NoNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Handle(ctx, StreamStarted{CallSid: "CA4", StreamSid: "MZ4"})
	f.m.Handle(ctx, StreamMedia{CallSid: "CA4", Payload: []byte{1}})
	f.m.Handle(ctx, StreamStopped{CallSid: "CA4"})
	f.m.Handle(ctx, StreamMedia{CallSid: "CA4", Payload: []byte{2}})
	f.m.Handle(ctx, StreamStopped{CallSid: "CA4"})
	f.m.Wait()

	if f.acc.Len() != 0 {
		t.Error("media after stop must not open a session")
	}
	if got := atomic.LoadInt32(&f.notes.transcribeCalls); got != 1 {
		t.Errorf("transcribe calls = %d, want 1", got)
	}
}

func TestEmptySession_Skipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Handle(ctx, StreamStarted{CallSid: "CA5", StreamSid: "MZ5"})
	f.m.Handle(ctx, StreamStopped{CallSid: "CA5"})
	f.m.Wait()

	if got := atomic.LoadInt32(&f.notes.transcribeCalls); got != 0 {
		t.Errorf("transcribe calls = %d, want 0", got)
	}
	if n := len(f.notesFor(t, "CA5")); n != 0 {
		t.Errorf("notes = %d, want 0", n)
	}
}

func TestFinalizeFailure_NoNote(t *testing.T) {
	f := newFixture(t)
	f.notes.transcribeErr = errors.New("service unavailable")
	ctx := context.Background()

	f.m.Handle(ctx, StreamStarted{CallSid: "CA6", StreamSid: "MZ6"})
	f.m.Handle(ctx, StreamMedia{CallSid: "CA6", Payload: []byte{1, 2}})
	f.m.Handle(ctx, StreamStopped{CallSid: "CA6"})
	f.m.Wait()

	if n := len(f.notesFor(t, "CA6")); n != 0 {
		t.Errorf("notes = %d, want 0", n)
	}
	if f.acc.Len() != 0 {
		t.Error("session should be discarded after a failed finalization")
	}
	if f.obs.count(hub.TypeNoteCreated) != 0 {
		t.Error("no noteCreated expected")
	}
}

func TestFinalizePanic_Recovered(t *testing.T) {
	f := newFixture(t)
	f.notes.panicOnCall = true
	ctx := context.Background()

	f.m.Handle(ctx, StreamStarted{CallSid: "CA7", StreamSid: "MZ7"})
	f.m.Handle(ctx, StreamMedia{CallSid: "CA7", Payload: []byte{1}})
	f.m.Handle(ctx, StreamStopped{CallSid: "CA7"})
	f.m.Wait()

	if n := len(f.notesFor(t, "CA7")); n != 0 {
		t.Errorf("notes = %d, want 0", n)
	}
}

func TestInProgressUnknown_Synthesized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.m.Handle(ctx, StatusChanged{CallSid: "CA8", Status: "answered", From: "+1", To: "+2"})
	if res.FirstContact {
		t.Error("in-progress is not a first contact")
	}
	e, ok := f.reg.Get("CA8")
	if !ok || e.Status != models.StatusInProgress {
		t.Fatalf("entry = %+v, %v", e, ok)
	}
	c, err := store.GetCall(f.db, "CA8")
	if err != nil {
		t.Fatalf("durable row missing: %v", err)
	}
	if c.Status != models.StatusInProgress {
		t.Errorf("Status = %q", c.Status)
	}
}

func TestUntrackedStatus_Ignored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, s := range []string{"queued", "initiated"} {
		f.m.Handle(ctx, StatusChanged{CallSid: "CA9", Status: s})
	}
	f.m.Handle(ctx, StatusChanged{CallSid: "CA9", Status: "in-conference"})
	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d, want 0", f.reg.Len())
	}
	if _, err := store.GetCall(f.db, "CA9"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want no durable row", err)
	}
}

func TestTerminalForUnknownCall_StatusOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Handle(ctx, StatusChanged{CallSid: "CA10", Status: "no-answer"})
	f.m.Wait()

	c, err := store.GetCall(f.db, "CA10")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.StatusNoAnswer || c.EndTime == nil {
		t.Errorf("call = %+v", c)
	}
	if got := atomic.LoadInt32(&f.notes.transcribeCalls); got != 0 {
		t.Error("no finalization expected")
	}
	if f.obs.count(hub.TypeCallEnded) != 1 {
		t.Error("first durable transition should be announced")
	}

	f.m.Handle(ctx, StatusChanged{CallSid: "CA10", Status: "no-answer"})
	if f.obs.count(hub.TypeCallEnded) != 1 {
		t.Error("redelivery should not be announced again")
	}
}

func TestLateStatusAfterTerminal_NotReregistered(t *testing.T) {
	tests := []struct {
		name    string
		callSid string
		first   string
		late    string
	}{
		{"ringing redelivered", "CA20", "ringing", "ringing"},
		{"in-progress out of order", "CA21", "in-progress", "in-progress"},
		{"first contact redelivered", "CA22", "ringing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			f.m.Handle(ctx, StatusChanged{CallSid: tt.callSid, Status: tt.first, From: "+1999"})
			f.m.Handle(ctx, StatusChanged{CallSid: tt.callSid, Status: "completed"})
			f.m.Wait()

			res := f.m.Handle(ctx, StatusChanged{
				CallSid:      tt.callSid,
				Status:       tt.late,
				From:         "+1999",
				FirstContact: tt.late == "",
			})
			if res.FirstContact {
				t.Error("late status for an ended call must not be answered as a first contact")
			}
			if f.reg.Len() != 0 {
				t.Errorf("registry Len = %d, want 0 after terminal", f.reg.Len())
			}
			if n := len(f.m.ActiveCalls()); n != 0 {
				t.Errorf("ActiveCalls = %d, want 0", n)
			}
			c, err := store.GetCall(f.db, tt.callSid)
			if err != nil {
				t.Fatal(err)
			}
			if c.Status != models.StatusCompleted || c.EndTime == nil {
				t.Errorf("call = status %q end %v, want completed", c.Status, c.EndTime)
			}
			if n := f.obs.count(hub.TypeCallEnded); n != 1 {
				t.Errorf("callEnded broadcasts = %d, want 1", n)
			}
		})
	}
}

func TestFirstContact_StoreUnavailableStillTracked(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.Close()

	res := f.m.Handle(context.Background(), StatusChanged{CallSid: "CA23", Status: "ringing"})
	if !res.FirstContact {
		t.Error("ringing should still be a first contact when the store is down")
	}
	if f.reg.Len() != 1 {
		t.Errorf("registry Len = %d, want 1", f.reg.Len())
	}
}

func TestRegistry_OneEntryDuringLiveSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, s := range []string{"ringing", "ringing", "in-progress", "in-progress"} {
		f.m.Handle(ctx, StatusChanged{CallSid: "CA11", Status: s})
		if f.reg.Len() != 1 {
			t.Fatalf("after %s: registry Len = %d, want 1", s, f.reg.Len())
		}
	}
	f.m.Handle(ctx, StatusChanged{CallSid: "CA11", Status: "busy"})
	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d, want 0", f.reg.Len())
	}
}

func TestFirstContactWithoutStatus_AssistantCall(t *testing.T) {
	f := newFixture(t)
	res := f.m.Handle(context.Background(), StatusChanged{CallSid: "CA12", From: "+15550001111", FirstContact: true})
	if !res.FirstContact || !res.AssistantCall {
		t.Errorf("result = %+v, want first-contact assistant call", res)
	}
	c, err := store.GetCall(f.db, "CA12")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.StatusIncoming || !c.IsAssistantCall {
		t.Errorf("call = %+v", c)
	}
}

func TestConferenceJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Handle(ctx, StatusChanged{CallSid: "CA13", Status: "ringing"})
	f.m.Handle(ctx, ConferenceChanged{ConferenceSid: "CF1", Event: "conference-start"})
	f.m.Handle(ctx, ConferenceChanged{ConferenceSid: "CF1", Event: "participant-join", CallSid: "CA13"})
	f.m.Handle(ctx, ConferenceChanged{ConferenceSid: "CF1", Event: "participant-join", CallSid: "CA-stranger"})

	e, _ := f.reg.Get("CA13")
	if e.ConferenceID != "CF1" || e.Status != models.StatusInConference {
		t.Errorf("entry = %+v", e)
	}
	c, _ := store.GetCall(f.db, "CA13")
	if c.ConferenceID != "CF1" {
		t.Errorf("durable ConferenceID = %q", c.ConferenceID)
	}
	if f.reg.Len() != 1 {
		t.Errorf("unknown participants must not be tracked")
	}
}

func TestRecordingReady(t *testing.T) {
	f := newFixture(t)
	f.provider.recording = []byte("ID3")
	f.m.Handle(context.Background(), RecordingReady{RecordingSid: "RE1", RecordingURL: "https://x/RE1", CallSid: "CA14", ConferenceSid: "CF2"})
	f.m.Wait()

	notes := f.notesFor(t, "CA14")
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	if notes[0].Source != models.SourceRecording || notes[0].RecordingSid != "RE1" || notes[0].ConferenceSid != "CF2" {
		t.Errorf("note = %+v", notes[0])
	}
	if f.obs.count(hub.TypeNoteCreated) != 1 {
		t.Error("noteCreated expected")
	}
}

func TestRecordingReady_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.m.Handle(context.Background(), RecordingReady{RecordingSid: "RE2", CallSid: "CA15"})
	f.m.Wait()
	if n := len(f.notesFor(t, "CA15")); n != 0 {
		t.Errorf("notes = %d, want 0", n)
	}
}

func TestEndCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.m.Handle(ctx, StatusChanged{CallSid: "CA16", Status: "ringing"})

	if err := f.m.EndCall(ctx, "CA16"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if len(f.provider.ended) != 1 || f.provider.ended[0] != "CA16" {
		t.Errorf("provider ended = %v", f.provider.ended)
	}
	c, _ := store.GetCall(f.db, "CA16")
	if c.Status != models.StatusEnded || c.EndTime == nil {
		t.Errorf("call = %+v", c)
	}
	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d, want 0", f.reg.Len())
	}
	// The provider's own completion callback follows the hangup.
	f.m.Handle(ctx, StatusChanged{CallSid: "CA16", Status: "completed"})
	if n := f.obs.count(hub.TypeCallEnded); n != 1 {
		t.Errorf("callEnded broadcasts = %d, want 1", n)
	}

	f.provider.endErr = errors.New("provider down")
	if err := f.m.EndCall(ctx, "CA17"); err == nil {
		t.Error("expected provider error")
	}
	if _, err := store.GetCall(f.db, "CA17"); !errors.Is(err, store.ErrNotFound) {
		t.Error("failed provider call must not touch the store")
	}
}

func TestActiveCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.m.Handle(ctx, StatusChanged{CallSid: "CA18", Status: "ringing"})
	time.Sleep(2 * time.Millisecond)
	f.m.Handle(ctx, StatusChanged{CallSid: "CA19", Status: "ringing"})
	list := f.m.ActiveCalls()
	if len(list) != 2 || list[0].CallSid != "CA19" {
		t.Errorf("ActiveCalls = %+v", list)
	}
}

func TestNewMachine_Validation(t *testing.T) {
	if _, err := NewMachine(MachineOpts{}); err == nil {
		t.Fatal("expected error for empty opts")
	}
}
