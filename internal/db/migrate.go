package db

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Call{},
		&models.CallNote{},
		&models.User{},
		&models.SystemSetting{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DefaultSetting is a system setting seeded on first start.
type DefaultSetting struct {
	Name        string
	Value       interface{}
	Description string
}

// DefaultSettings returns the settings every installation starts with.
func DefaultSettings() []DefaultSetting {
	return []DefaultSetting{
		{Name: "registration_enabled", Value: false, Description: "Allow new user registration"},
		{Name: "max_users", Value: 100, Description: "Maximum number of users allowed"},
		{Name: "maintenance_mode", Value: false, Description: "System maintenance mode"},
	}
}

// SeedSettings inserts missing default settings. Existing rows keep their
// current values.
func SeedSettings(db *gorm.DB, defaults []DefaultSetting) (int64, error) {
	var created int64
	for _, d := range defaults {
		value, err := marshalJSON(d.Value)
		if err != nil {
			return created, fmt.Errorf("db: marshal setting %q: %w", d.Name, err)
		}
		row := models.SystemSetting{
			Setting:     d.Name,
			Value:       value,
			Description: d.Description,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return created, fmt.Errorf("db: seed setting %q: %w", d.Name, result.Error)
		}
		created += result.RowsAffected
	}
	return created, nil
}

// marshalJSON marshals a value to a JSON string, returning empty string for nil.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
