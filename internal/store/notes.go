package store

import (
	"errors"
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// CreateNote appends a note row. Notes are never updated in place.
func CreateNote(db *gorm.DB, n *models.CallNote) error {
	if n.CallSid == "" {
		return fmt.Errorf("store: create note: call sid is required")
	}
	if n.Source == "" {
		n.Source = models.SourceAudioStream
	}
	if err := db.Create(n).Error; err != nil {
		return fmt.Errorf("store: create note for %s: %w", n.CallSid, err)
	}
	return nil
}

// LatestNote returns the most recently created note for callSid.
func LatestNote(db *gorm.DB, callSid string) (*models.CallNote, error) {
	var n models.CallNote
	err := db.Where("call_sid = ?", callSid).Order("created_at DESC, id DESC").First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: note for %s: %w", callSid, ErrNotFound)
		}
		return nil, fmt.Errorf("store: latest note %s: %w", callSid, err)
	}
	return &n, nil
}

// LatestNoteWithAudio returns the newest note for callSid that references an
// audio file.
func LatestNoteWithAudio(db *gorm.DB, callSid string) (*models.CallNote, error) {
	var n models.CallNote
	err := db.Where("call_sid = ? AND audio_file_path <> ''", callSid).
		Order("created_at DESC, id DESC").First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: audio for %s: %w", callSid, ErrNotFound)
		}
		return nil, fmt.Errorf("store: latest audio note %s: %w", callSid, err)
	}
	return &n, nil
}

// ListNotes returns all notes, newest first.
func ListNotes(db *gorm.DB) ([]models.CallNote, error) {
	var notes []models.CallNote
	if err := db.Order("created_at DESC, id DESC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	return notes, nil
}

// NotesWithAudio returns notes that reference an audio file, newest first.
func NotesWithAudio(db *gorm.DB) ([]models.CallNote, error) {
	var notes []models.CallNote
	if err := db.Where("audio_file_path <> ''").
		Order("created_at DESC, id DESC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("store: list audio notes: %w", err)
	}
	return notes, nil
}
