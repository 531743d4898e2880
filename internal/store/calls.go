// Package store provides durable call and note persistence on top of GORM.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a requested call or note does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrCallFinished is returned by UpsertCall when the call already has a
	// terminal status. The row is left untouched.
	ErrCallFinished = errors.New("store: call already finished")
)

// UpsertCall inserts the call if no row exists for its CallSid, otherwise
// refreshes the mutable columns of a row that has not finished yet. It is the
// single creating primitive for calls: concurrent first-contact events for the
// same call-id resolve at the unique index instead of racing a lookup.
// created reports whether a new row was inserted. A late event for a
// finished call returns ErrCallFinished.
func UpsertCall(db *gorm.DB, c *models.Call) (created bool, err error) {
	if c.CallSid == "" {
		return false, fmt.Errorf("store: upsert call: call sid is required")
	}
	if c.StartTime.IsZero() {
		c.StartTime = time.Now()
	}
	if c.Status == "" {
		c.Status = models.StatusIncoming
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_sid"}},
		DoNothing: true,
	}).Create(c)
	if result.Error != nil {
		return false, fmt.Errorf("store: upsert call %s: %w", c.CallSid, result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	updates := map[string]interface{}{"status": c.Status}
	if c.From != "" {
		updates["from"] = c.From
	}
	if c.To != "" {
		updates["to"] = c.To
	}
	if c.IsAssistantCall {
		updates["is_assistant_call"] = true
	}
	if c.ConferenceID != "" {
		updates["conference_id"] = c.ConferenceID
	}
	// Finished rows are never reopened by a late non-terminal event.
	result = db.Model(&models.Call{}).
		Where("call_sid = ? AND end_time IS NULL", c.CallSid).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("store: update call %s: %w", c.CallSid, result.Error)
	}
	if result.RowsAffected > 0 {
		return false, nil
	}
	// MySQL reports zero affected rows for an unchanged live row, so check.
	var finished int64
	if err := db.Model(&models.Call{}).
		Where("call_sid = ? AND end_time IS NOT NULL", c.CallSid).
		Count(&finished).Error; err != nil {
		return false, fmt.Errorf("store: check call %s: %w", c.CallSid, err)
	}
	if finished > 0 {
		return false, fmt.Errorf("store: upsert call %s: %w", c.CallSid, ErrCallFinished)
	}
	return false, nil
}

// FinishCall records a terminal status for callSid. A missing row is created
// with status-only information, which happens when the process restarted
// between first contact and the terminal event. transitioned is true only
// when this call moved the row from live to finished; redelivered terminal
// events update the status but keep the original end time.
func FinishCall(db *gorm.DB, callSid string, status models.CallStatus, end time.Time) (transitioned bool, err error) {
	if callSid == "" {
		return false, fmt.Errorf("store: finish call: call sid is required")
	}
	if !status.Terminal() {
		return false, fmt.Errorf("store: finish call %s: status %q is not terminal", callSid, status)
	}

	var existing models.Call
	err = db.Where("call_sid = ?", callSid).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.Call{CallSid: callSid}
		row.Finish(status, end)
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return false, fmt.Errorf("store: create finished call %s: %w", callSid, result.Error)
		}
		if result.RowsAffected == 1 {
			return true, nil
		}
		// Lost a race with a concurrent insert; fall through to the update path.
		if err := db.Where("call_sid = ?", callSid).First(&existing).Error; err != nil {
			return false, fmt.Errorf("store: reload call %s: %w", callSid, err)
		}
	} else if err != nil {
		return false, fmt.Errorf("store: get call %s: %w", callSid, err)
	}

	if existing.EndTime != nil {
		if existing.Status == status {
			return false, nil
		}
		if err := db.Model(&models.Call{}).Where("call_sid = ?", callSid).
			Update("status", status).Error; err != nil {
			return false, fmt.Errorf("store: update call %s status: %w", callSid, err)
		}
		return false, nil
	}

	existing.Finish(status, end)
	result := db.Model(&models.Call{}).
		Where("call_sid = ? AND end_time IS NULL", callSid).
		Updates(map[string]interface{}{
			"status":      existing.Status,
			"end_time":    existing.EndTime,
			"duration_ms": existing.DurationMs,
		})
	if result.Error != nil {
		return false, fmt.Errorf("store: finish call %s: %w", callSid, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetCall returns the durable record for callSid.
func GetCall(db *gorm.DB, callSid string) (*models.Call, error) {
	var c models.Call
	if err := db.Where("call_sid = ?", callSid).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: call %s: %w", callSid, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get call %s: %w", callSid, err)
	}
	return &c, nil
}
