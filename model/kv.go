package model

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry is one persisted document of the per-user key-value store.
type KVEntry struct {
	Key       string         `gorm:"column:kv_key;primaryKey;size:191" json:"key"`
	Value     datatypes.JSON `gorm:"not null" json:"value"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// TableName pins the table name regardless of naming strategy.
func (KVEntry) TableName() string { return "kv_entries" }
