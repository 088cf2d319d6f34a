package models

import "time"

// KVEntry is one serialized value in the key/value table backing carts and guest names.
type KVEntry struct {
	Key       string     `gorm:"column:key;primaryKey;size:255"`
	Value     string     `gorm:"column:value;type:text;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
}

func (KVEntry) TableName() string { return "kv_entries" }

// Expired reports whether the entry's TTL has elapsed at now.
func (e KVEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
