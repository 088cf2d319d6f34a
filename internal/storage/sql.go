package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tableside/pkg/db"
	"github.com/angelmondragon/tableside/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL keeps values in the kv_entries table.
type SQL struct {
	client *db.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewSQL binds the store to an open database client.
func NewSQL(client *db.Client, ttl time.Duration) (*SQL, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &SQL{client: client, ttl: ttl, now: time.Now}, nil
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var entry models.KVEntry
	err := s.client.DB().WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select kv entry %s: %w", key, err)
	}
	if entry.Expired(s.now()) {
		return "", ErrNotFound
	}
	return entry.Value, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	now := s.now().UTC()
	entry := models.KVEntry{Key: key, Value: value, UpdatedAt: now}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		entry.ExpiresAt = &expires
	}
	err := s.client.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("upsert kv entry %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	if err := s.client.DB().WithContext(ctx).Where("key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		return fmt.Errorf("delete kv entry %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose TTL has elapsed and returns how many were removed.
func (s *SQL) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.client.DB().WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Delete(&models.KVEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge kv entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
