package cache

import (
	"context"
	"time"

	"apotek/backend/internal/domain"
)

// AlertCache stores the computed inventory alert snapshot. Implementations
// report a miss as (nil, false, nil).
type AlertCache interface {
	Get(ctx context.Context, key string) (*domain.InventoryAlerts, bool, error)
	Set(ctx context.Context, key string, value *domain.InventoryAlerts, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopAlertCache struct{}

func (NoopAlertCache) Get(_ context.Context, _ string) (*domain.InventoryAlerts, bool, error) {
	return nil, false, nil
}

func (NoopAlertCache) Set(_ context.Context, _ string, _ *domain.InventoryAlerts, _ time.Duration) error {
	return nil
}

func (NoopAlertCache) Delete(_ context.Context, _ string) error {
	return nil
}
