package models

import "time"

// CallStatus is the provider-reported state of a call.
type CallStatus string

const (
	StatusIncoming     CallStatus = "incoming"
	StatusRinging      CallStatus = "ringing"
	StatusInProgress   CallStatus = "in-progress"
	StatusInConference CallStatus = "in-conference"
	StatusCompleted    CallStatus = "completed"
	StatusBusy         CallStatus = "busy"
	StatusFailed       CallStatus = "failed"
	StatusNoAnswer     CallStatus = "no-answer"
	StatusCanceled     CallStatus = "canceled"
	StatusEnded        CallStatus = "ended"
)

// ParseCallStatus normalizes a raw provider status. "answered" is folded into
// in-progress. ok is false for statuses the model does not track.
func ParseCallStatus(raw string) (CallStatus, bool) {
	switch s := CallStatus(raw); s {
	case StatusIncoming, StatusRinging, StatusInProgress, StatusInConference,
		StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled, StatusEnded:
		return s, true
	case "answered":
		return StatusInProgress, true
	}
	return CallStatus(raw), false
}

// Terminal reports whether no further lifecycle events are expected.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled, StatusEnded:
		return true
	}
	return false
}

// FirstContact reports whether s is a status that opens a call.
func (s CallStatus) FirstContact() bool {
	return s == StatusIncoming || s == StatusRinging
}

// Call is the durable record of one telephony call attempt.
type Call struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	CallSid         string     `gorm:"size:64;not null;uniqueIndex" json:"callSid"`
	From            string     `gorm:"size:32" json:"from"`
	To              string     `gorm:"size:32" json:"to"`
	Status          CallStatus `gorm:"size:16;not null;index" json:"status"`
	StartTime       time.Time  `gorm:"not null;index" json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMs      int64      `gorm:"default:0" json:"duration"`
	ConferenceID    string     `gorm:"size:64" json:"conferenceId,omitempty"`
	IsAssistantCall bool       `gorm:"default:false;index" json:"isAssistantCall"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Finish records a terminal transition. An existing end time is kept so that
// redelivered terminal events do not move it.
func (c *Call) Finish(status CallStatus, end time.Time) {
	c.Status = status
	if c.EndTime == nil {
		c.EndTime = &end
	}
	if c.StartTime.IsZero() {
		c.StartTime = *c.EndTime
	}
	c.DurationMs = c.EndTime.Sub(c.StartTime).Milliseconds()
}
