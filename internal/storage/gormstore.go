package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pitabwire/frame/datastore/pool"

	"github.com/dialogforge/dialogforge/pkg/memory"
)

// kvEntry is one row of the persistent key-value table.
type kvEntry struct {
	Key       string    `gorm:"primaryKey;type:varchar(512)"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (kvEntry) TableName() string { return "kv_entries" }

// GormStore is a memory.Store persisted through the service datastore,
// for deployments where conversation state must survive restarts.
type GormStore struct {
	pool pool.Pool
}

var _ memory.Store = (*GormStore)(nil)

// NewGormStore creates a datastore-backed store.
func NewGormStore(pool pool.Pool) *GormStore {
	return &GormStore{pool: pool}
}

// Get returns the value stored under key.
func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry kvEntry
	err := s.pool.DB(ctx, true).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// Set stores value under key, upserting on conflict.
func (s *GormStore) Set(ctx context.Context, key, value string) error {
	entry := kvEntry{Key: key, Value: value}
	return s.pool.DB(ctx, false).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

// Delete removes the entry for key. Deleting an absent key is not an error.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.pool.DB(ctx, false).Where("key = ?", key).Delete(&kvEntry{}).Error
}
