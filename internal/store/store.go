// Package store keeps each device's durable storage and the structured turn
// cache in sqlite.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.createAdditionalIndexes(); err != nil {
		return nil, fmt.Errorf("failed to create additional indexes: %w", err)
	}
	return s, nil
}

// createAdditionalIndexes creates indexes that are not easily covered by GORM tags
func (s *Store) createAdditionalIndexes() error {
	if err := s.db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_turn_cache_position ON turn_cache(device_id, pane, position)").Error; err != nil {
		return fmt.Errorf("failed to create turn position index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Get returns the value of key for device. ok is false when the key is unset.
func (s *Store) Get(deviceID, key string) (string, bool, error) {
	var entry StorageEntry
	err := s.db.Where("device_id = ? AND storage_key = ?", deviceID, key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// Set writes key, replacing any previous value.
func (s *Store) Set(deviceID, key, value string) error {
	entry := StorageEntry{DeviceID: deviceID, Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Removing a pane's messages key also drops its turn
// cache so that a later restore cannot revive the turns.
func (s *Store) Delete(deviceID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ? AND storage_key IN ?", deviceID, keys).Delete(&StorageEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		var panes []string
		for _, k := range keys {
			if pane, ok := paneOfKey(k); ok {
				panes = append(panes, pane)
			}
		}
		if len(panes) > 0 {
			if err := tx.Where("device_id = ? AND pane IN ?", deviceID, panes).Delete(&TurnRow{}).Error; err != nil {
				return fmt.Errorf("failed to delete turn cache: %w", err)
			}
		}
		return nil
	})
}

// Clear removes everything stored for a device.
func (s *Store) Clear(deviceID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", deviceID).Delete(&StorageEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear storage: %w", err)
		}
		if err := tx.Where("device_id = ?", deviceID).Delete(&TurnRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear turn cache: %w", err)
		}
		return nil
	})
}

// Entries returns all keys of a device.
func (s *Store) Entries(deviceID string) (map[string]string, error) {
	var entries []StorageEntry
	if err := s.db.Where("device_id = ?", deviceID).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query storage: %w", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// SaveSnapshot writes a pane's markup and replaces its turn cache in one
// transaction. Positions are renumbered from the slice order.
func (s *Store) SaveSnapshot(deviceID, pane, markup string, rows []TurnRow) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		entry := StorageEntry{DeviceID: deviceID, Key: MessagesKey(pane), Value: markup}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "storage_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}

		if err := tx.Where("device_id = ? AND pane = ?", deviceID, pane).Delete(&TurnRow{}).Error; err != nil {
			return fmt.Errorf("failed to reset turn cache: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		batch := make([]TurnRow, len(rows))
		for i, r := range rows {
			r.ID = 0
			r.DeviceID = deviceID
			r.Pane = pane
			r.Position = i
			batch[i] = r
		}
		if err := tx.CreateInBatches(batch, 100).Error; err != nil {
			return fmt.Errorf("failed to write turn cache: %w", err)
		}
		return nil
	})
}

// Turns returns the cached turns of a pane in display order.
func (s *Store) Turns(deviceID, pane string) ([]TurnRow, error) {
	var rows []TurnRow
	err := s.db.Where("device_id = ? AND pane = ?", deviceID, pane).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query turn cache: %w", err)
	}
	return rows, nil
}

// Touch records that a device was seen, registering it on first use.
func (s *Store) Touch(deviceID string) error {
	d := Device{ID: deviceID, LastSeen: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen", "updated_at"}),
	}).Create(&d).Error
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

func (s *Store) Devices() ([]Device, error) {
	var devices []Device
	if err := s.db.Order("last_seen DESC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	return devices, nil
}
