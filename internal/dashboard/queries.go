package dashboard

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/store"
)

// audioFile is one entry of GET /audio-files.
type audioFile struct {
	CallSid       string    `json:"callSid"`
	FileName      string    `json:"fileName"`
	FileSize      int       `json:"fileSize"`
	CreatedAt     time.Time `json:"createdAt"`
	HasTranscript bool      `json:"hasTranscript"`
	DownloadURL   string    `json:"downloadUrl"`
}

func (s *server) handleActiveCalls(c *gin.Context) {
	c.JSON(http.StatusOK, s.machine.ActiveCalls())
}

func (s *server) handleCallNotes(c *gin.Context) {
	callSid := c.Param("callSid")
	note, err := store.LatestNote(s.db.WithContext(c.Request.Context()), callSid)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notes not found for this call"})
		return
	}
	if err != nil {
		log.Printf("dashboard: call notes %s: %v", callSid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch call notes"})
		return
	}
	c.JSON(http.StatusOK, note)
}

func (s *server) handleAllNotes(c *gin.Context) {
	notes, err := store.ListNotes(s.db.WithContext(c.Request.Context()))
	if err != nil {
		log.Printf("dashboard: all notes: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notes"})
		return
	}
	c.JSON(http.StatusOK, notes)
}

// handleDownloadAudio serves the newest stored WAV for a call. HEAD reports
// availability without a body.
func (s *server) handleDownloadAudio(c *gin.Context) {
	callSid := c.Param("callSid")
	note, err := store.LatestNoteWithAudio(s.db.WithContext(c.Request.Context()), callSid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("dashboard: download audio %s: %v", callSid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to download audio file"})
		return
	}
	if err != nil || !s.archive.Exists(note.AudioFilePath) {
		if c.Request.Method == http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Audio file not found for this call"})
		return
	}

	c.Header("Content-Type", "audio/wav")
	c.FileAttachment(note.AudioFilePath, note.AudioFileName)
}

func (s *server) handleAudioFiles(c *gin.Context) {
	notes, err := store.NotesWithAudio(s.db.WithContext(c.Request.Context()))
	if err != nil {
		log.Printf("dashboard: audio files: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch audio files list"})
		return
	}
	files := make([]audioFile, 0, len(notes))
	for _, n := range notes {
		if !s.archive.Exists(n.AudioFilePath) {
			continue
		}
		files = append(files, audioFile{
			CallSid:       n.CallSid,
			FileName:      n.AudioFileName,
			FileSize:      n.AudioSize,
			CreatedAt:     n.CreatedAt,
			HasTranscript: n.Transcript != "",
			DownloadURL:   "/download-audio/" + n.CallSid,
		})
	}
	c.JSON(http.StatusOK, files)
}

func (s *server) handleEndCall(c *gin.Context) {
	callSid := c.Param("callSid")
	if err := s.machine.EndCall(c.Request.Context(), callSid); err != nil {
		log.Printf("dashboard: end call %s: %v", callSid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Call ended successfully"})
}

func (s *server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.agg.Compute(c.Request.Context()))
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
}
