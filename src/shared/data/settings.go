package data

import (
	"sync"

	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	settingsCache map[string]string
	settingsMu    sync.RWMutex
)

// LoadSettings loads all settings from database into cache
func LoadSettings(db *gorm.DB) error {
	var settings []gov.Setting
	if err := db.Find(&settings).Error; err != nil {
		return err
	}

	settingsMu.Lock()
	defer settingsMu.Unlock()

	settingsCache = make(map[string]string)
	for _, s := range settings {
		settingsCache[s.Name] = s.Value
	}

	return nil
}

// GetSetting retrieves a setting value by name
func GetSetting(name string) string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsCache[name]
}

// SetSetting upserts a setting row and updates the cache.
func SetSetting(db *gorm.DB, name, value string) error {
	setting := gov.Setting{Name: name, Value: value, Active: 1}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "active"}),
	}).Create(&setting).Error
	if err != nil {
		return err
	}

	settingsMu.Lock()
	defer settingsMu.Unlock()
	if settingsCache == nil {
		settingsCache = make(map[string]string)
	}
	settingsCache[name] = value
	return nil
}
