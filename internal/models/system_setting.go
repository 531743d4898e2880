package models

import "time"

// SystemSetting stores a single named configuration value as JSON.
type SystemSetting struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Setting     string `gorm:"size:64;not null;uniqueIndex"`
	Value       string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	UpdatedBy   *uint
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
