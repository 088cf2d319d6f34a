package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tableside/pkg/logger"
)

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewCartPurgeJob deletes stored carts and guest names whose TTL has elapsed.
func NewCartPurgeJob(logg *logger.Logger, store expiredPurger) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("purgeable store required")
	}
	return &cartPurgeJob{logg: logg, store: store}, nil
}

type cartPurgeJob struct {
	logg  *logger.Logger
	store expiredPurger
}

func (j *cartPurgeJob) Name() string { return "cart-purge" }

func (j *cartPurgeJob) Run(ctx context.Context) error {
	purged, err := j.store.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("cart purge: %w", err)
	}
	if purged > 0 {
		j.logg.Info(j.logg.WithField(ctx, "rows_deleted", purged), "cron.cart_purge_complete")
	}
	return nil
}
