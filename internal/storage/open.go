package storage

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tableside/pkg/config"
	"github.com/angelmondragon/tableside/pkg/db"
	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/angelmondragon/tableside/pkg/migrate"
	pkgredis "github.com/angelmondragon/tableside/pkg/redis"
	"go.uber.org/multierr"
)

// Backend is an opened Store plus the handles that must be released at shutdown.
type Backend struct {
	Store Store
	DB    *db.Client
	Redis *pkgredis.Client
}

// Close releases every connection the backend owns.
func (b *Backend) Close() error {
	var err error
	if b.DB != nil {
		err = multierr.Append(err, b.DB.Close())
	}
	if b.Redis != nil {
		err = multierr.Append(err, b.Redis.Close())
	}
	return err
}

// Ping reports whether the selected store is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if p, ok := b.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Open builds the store selected by cfg.Storage.Driver. A configured redis is connected for
// every driver; the gateway keeps checkout replay records there.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Backend, error) {
	ctx = logg.WithField(ctx, "storage_driver", cfg.Storage.Driver)
	b, err := openStore(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	if b.Redis == nil && cfg.Redis.Enabled() {
		client, err := pkgredis.New(ctx, cfg.Redis, logg)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.Redis = client
	}
	return b, nil
}

func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Backend, error) {
	ttl := cfg.Storage.CartTTL

	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logg.Warn(ctx, "using in-memory storage; carts are lost on restart")
		return &Backend{Store: NewMemory(ttl)}, nil

	case config.StorageDriverRedis:
		client, err := pkgredis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store, err := NewRedis(client, ttl)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Backend{Store: store, Redis: client}, nil

	case config.StorageDriverSQL:
		client, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		if err := migrate.MaybeRun(ctx, cfg, logg, client); err != nil {
			_ = client.Close()
			return nil, err
		}
		store, err := NewSQL(client, ttl)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Backend{Store: store, DB: client}, nil
	}

	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}
