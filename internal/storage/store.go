package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no live value.
var ErrNotFound = errors.New("storage: key not found")

// Store is the durable key/value surface carts and guest names are persisted through.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
