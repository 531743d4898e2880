package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileRef locates a stored audio file.
type FileRef struct {
	Path string
	Name string
}

// Archive writes call audio under a single directory.
type Archive struct {
	dir string
}

// NewArchive returns an archive rooted at dir. The directory is created on
// the first Save.
func NewArchive(dir string) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("audio: archive directory is required")
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// FileName builds call_<sid>_<timestamp>.wav with filesystem-safe separators.
func FileName(callSid string, at time.Time) string {
	ts := at.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return fmt.Sprintf("call_%s_%s.wav", callSid, ts)
}

// Save writes data for callSid and returns where it was stored.
func (a *Archive) Save(callSid string, data []byte, at time.Time) (FileRef, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return FileRef{}, fmt.Errorf("audio: create %s: %w", a.dir, err)
	}
	name := FileName(filepath.Base(callSid), at)
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return FileRef{}, fmt.Errorf("audio: write %s: %w", path, err)
	}
	return FileRef{Path: path, Name: name}, nil
}

// Exists reports whether path refers to a regular file.
func (a *Archive) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
