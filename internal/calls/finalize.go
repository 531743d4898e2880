package calls

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/zulandar/switchboard/internal/audio"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

// goTracked runs fn on a goroutine that Wait observes. Panics are recovered
// and logged so post-call work can never take the process down.
func (m *Machine) goTracked(name string, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("calls: %s: panic: %v\n%s", name, r, debug.Stack())
			}
		}()
		ctx, cancel := context.WithTimeout(m.baseCtx, m.finalizeTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Machine) finalizeAsync(s *audio.Session) {
	m.goTracked("finalize "+s.CallSid, func(ctx context.Context) {
		if err := m.finalize(ctx, s); err != nil {
			log.Printf("calls: finalize %s: %v", s.CallSid, err)
		}
	})
}

// finalize turns a claimed stream session into a stored WAV file and a note.
// Nothing is persisted unless every step succeeds; the audio file may remain
// when a later step fails.
func (m *Machine) finalize(ctx context.Context, s *audio.Session) error {
	start := m.now()
	payload := s.Payload()
	if len(payload) == 0 {
		log.Printf("calls: %s: no audio to process", s.CallSid)
		m.metrics.Finalized(string(models.SourceAudioStream), metrics.ResultEmpty, 0)
		return nil
	}

	err := func() error {
		wav := audio.EncodeMuLawWAV(payload)
		ref, err := m.archive.Save(s.CallSid, wav, m.now())
		if err != nil {
			return err
		}
		log.Printf("calls: %s: saved %s (%d frames, %d bytes)", s.CallSid, ref.Name, len(s.Frames), len(wav))

		transcript, notes, err := m.writeNotes(ctx, wav, ref.Name)
		if err != nil {
			return err
		}

		streamID := s.StreamSid
		if streamID == "" {
			streamID = "stream-" + s.CallSid
		}
		note := models.CallNote{
			CallSid:       s.CallSid,
			StreamID:      streamID,
			Transcript:    transcript,
			Notes:         notes,
			Source:        models.SourceAudioStream,
			AudioChunks:   len(s.Frames),
			AudioSize:     len(wav),
			AudioFilePath: ref.Path,
			AudioFileName: ref.Name,
		}
		if err := store.CreateNote(m.db.WithContext(ctx), &note); err != nil {
			return err
		}
		m.broadcast(hub.NoteCreated(s.CallSid, string(models.SourceAudioStream)))
		return nil
	}()
	if err != nil {
		m.metrics.Finalized(string(models.SourceAudioStream), metrics.ResultFailed, 0)
		return err
	}
	m.metrics.Finalized(string(models.SourceAudioStream), metrics.ResultSuccess, m.now().Sub(start))
	return nil
}

func (m *Machine) writeNotes(ctx context.Context, audioData []byte, filename string) (transcript, notes string, err error) {
	transcript, err = m.notes.Transcribe(ctx, audioData, filename)
	if err != nil {
		return "", "", fmt.Errorf("transcribe: %w", err)
	}
	notes, err = m.notes.Summarize(ctx, transcript)
	if err != nil {
		return "", "", fmt.Errorf("summarize: %w", err)
	}
	return transcript, notes, nil
}

// handleRecording processes a provider recording in the background.
func (m *Machine) handleRecording(e RecordingReady) {
	if e.RecordingSid == "" {
		log.Printf("calls: recording event for %s without recording sid ignored", e.CallSid)
		return
	}
	m.goTracked("recording "+e.RecordingSid, func(ctx context.Context) {
		start := m.now()
		if err := m.processRecording(ctx, e); err != nil {
			log.Printf("calls: recording %s: %v", e.RecordingSid, err)
			m.metrics.Finalized(string(models.SourceRecording), metrics.ResultFailed, 0)
			return
		}
		m.metrics.Finalized(string(models.SourceRecording), metrics.ResultSuccess, m.now().Sub(start))
	})
}

func (m *Machine) processRecording(ctx context.Context, e RecordingReady) error {
	data, err := m.provider.FetchRecording(ctx, e.RecordingSid)
	if err != nil {
		return err
	}
	transcript, notes, err := m.writeNotes(ctx, data, "recording.mp3")
	if err != nil {
		return err
	}
	callSid := e.CallSid
	if callSid == "" {
		callSid = e.ConferenceSid
	}
	note := models.CallNote{
		CallSid:       callSid,
		ConferenceSid: e.ConferenceSid,
		RecordingSid:  e.RecordingSid,
		RecordingURL:  e.RecordingURL,
		Transcript:    transcript,
		Notes:         notes,
		Source:        models.SourceRecording,
	}
	if err := store.CreateNote(m.db.WithContext(ctx), &note); err != nil {
		return err
	}
	log.Printf("calls: notes generated for recording %s (call %s)", e.RecordingSid, callSid)
	m.broadcast(hub.NoteCreated(callSid, string(models.SourceRecording)))
	return nil
}
