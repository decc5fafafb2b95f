package store

import (
	"time"
)

// GORM models for the device store

// StorageEntry is one key of a device's durable storage.
type StorageEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceID  string    `gorm:"uniqueIndex:idx_device_key;not null" json:"deviceId"`
	Key       string    `gorm:"column:storage_key;uniqueIndex:idx_device_key;not null" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name for StorageEntry
func (StorageEntry) TableName() string {
	return "device_storage"
}

// TurnRow is the structured cache of one rendered turn. Payload, StarPayload
// and Suggestions hold backend JSON verbatim. Markup is only kept for stale
// turns, which have nothing else to render from.
type TurnRow struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DeviceID     string    `gorm:"index:idx_turn_device_pane;not null" json:"deviceId"`
	Pane         string    `gorm:"index:idx_turn_device_pane;not null" json:"pane"`
	TurnID       string    `gorm:"not null" json:"turnId"`
	Position     int       `gorm:"not null" json:"position"`
	Prompt       string    `gorm:"not null" json:"prompt"`
	Method       string    `json:"method"`
	Variant      string    `gorm:"not null" json:"variant"`
	Payload      string    `gorm:"type:text" json:"payload"`
	Suggestions  string    `gorm:"type:text" json:"suggestions"`
	ErrorText    string    `json:"errorText"`
	Notice       string    `json:"notice"`
	Markup       string    `gorm:"type:text" json:"markup"`
	StarPayload  string    `gorm:"type:text" json:"starPayload"`
	StarText     string    `json:"starText"`
	ExplainOpen  bool      `json:"explainOpen"`
	ExplainPlain bool      `json:"explainPlain"`
	MenuOpen     bool      `json:"menuOpen"`
	Flipped      bool      `json:"flipped"`
	SavedID      string    `json:"savedId"`
	TurnCreated  time.Time `json:"turnCreated"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name for TurnRow
func (TurnRow) TableName() string {
	return "turn_cache"
}

// Device tracks every browser that has been given a device cookie.
type Device struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	LastSeen  time.Time `gorm:"index;not null" json:"lastSeen"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name for Device
func (Device) TableName() string {
	return "devices"
}

// Get all model types for auto migration
var allModels = []interface{}{
	&StorageEntry{},
	&TurnRow{},
	&Device{},
}
