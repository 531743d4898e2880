package models

import "time"

// NoteSource identifies which pipeline produced a CallNote.
type NoteSource string

const (
	SourceAudioStream NoteSource = "audio_stream"
	SourceRecording   NoteSource = "recording"
)

// CallNote is the transcript and generated notes for one finalized call
// audio artifact. Rows are append-only.
type CallNote struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	CallSid       string     `gorm:"size:64;not null;index:idx_note_call_created" json:"callSid"`
	ConferenceSid string     `gorm:"size:64" json:"conferenceSid,omitempty"`
	StreamID      string     `gorm:"size:64" json:"streamId,omitempty"`
	RecordingSid  string     `gorm:"size:64" json:"recordingSid,omitempty"`
	RecordingURL  string     `gorm:"type:text" json:"recordingUrl,omitempty"`
	Transcript    string     `gorm:"type:text;not null" json:"transcript"`
	Notes         string     `gorm:"type:text;not null" json:"notes"`
	Source        NoteSource `gorm:"size:16;default:audio_stream;index" json:"source"`
	AudioChunks   int        `gorm:"default:0" json:"audioChunks"`
	AudioSize     int        `gorm:"default:0" json:"audioSize"`
	AudioFilePath string     `gorm:"type:text" json:"audioFilePath,omitempty"`
	AudioFileName string     `gorm:"size:255" json:"audioFileName,omitempty"`
	CreatedAt     time.Time  `gorm:"index:idx_note_call_created" json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasAudio reports whether the note references a stored audio file.
func (n *CallNote) HasAudio() bool {
	return n.AudioFilePath != ""
}
