package notify

import (
	"fmt"
	"unicode/utf8"
)

// Color constants for message severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxBodyRunes keeps note bodies inside the smallest platform limit.
const maxBodyRunes = 1500

// statusColor maps a terminal call status to a sidebar color.
func statusColor(status string) string {
	switch status {
	case "completed", "ended":
		return ColorSuccess
	case "busy", "no-answer", "canceled":
		return ColorWarning
	case "failed":
		return ColorError
	default:
		return ColorInfo
	}
}

// FormatCallEnded formats a terminal status change.
func FormatCallEnded(callSid, status string) Message {
	return Message{
		Title: fmt.Sprintf("Call %s %s", callSid, status),
		Color: statusColor(status),
		Fields: []Field{
			{Name: "Call", Value: callSid, Short: true},
			{Name: "Status", Value: status, Short: true},
		},
	}
}

// FormatNoteCreated formats a newly stored call note.
func FormatNoteCreated(callSid, source, notes string) Message {
	if notes == "" {
		notes = "Notes are available on the dashboard."
	}
	return Message{
		Title: fmt.Sprintf("Notes ready for call %s", callSid),
		Body:  truncate(notes, maxBodyRunes),
		Color: ColorInfo,
		Fields: []Field{
			{Name: "Call", Value: callSid, Short: true},
			{Name: "Source", Value: source, Short: true},
		},
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
