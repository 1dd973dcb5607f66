package store

import (
	"context"
	"errors"

	"github.com/pixelprogress/server/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB stores documents in the kv_entries table.
type DB struct {
	db *gorm.DB
}

// NewDB returns a Store backed by gorm. The kv_entries table must already be migrated.
func NewDB(db *gorm.DB) *DB {
	return &DB{db: db}
}

func (s *DB) Load(ctx context.Context, key string) ([]byte, error) {
	var e model.KVEntry
	err := s.db.WithContext(ctx).Where(&model.KVEntry{Key: key}).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(e.Value), nil
}

func (s *DB) Save(ctx context.Context, key string, value []byte) error {
	e := model.KVEntry{Key: key, Value: datatypes.JSON(value)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *DB) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("kv_key IN ?", keys).Delete(&model.KVEntry{}).Error
}
