package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"apotek/backend/internal/domain"
)

type mapCache struct {
	mu     sync.Mutex
	values map[string]domain.InventoryAlerts
	getErr error
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.InventoryAlerts, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.InventoryAlerts, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]domain.InventoryAlerts)
	}
	c.values[key] = *value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

var today = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func fixedEngine(c *mapCache) *Engine {
	if c == nil {
		c = &mapCache{}
	}
	return NewEngine(c, Options{
		LowStockThreshold: 10,
		ExpirySoonDays:    7,
		Now:               func() time.Time { return today },
	})
}

func ids(alerts []domain.DrugAlert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.ID)
	}
	return out
}

func TestComputeClassifiesDrugs(t *testing.T) {
	day := domain.DateOf(today)
	drugs := []domain.Drug{
		{ID: "healthy", Quantity: 50, ExpiryDate: day.AddDate(1, 0, 0)},
		{ID: "low-b", Quantity: 9, ExpiryDate: day.AddDate(1, 0, 0)},
		{ID: "low-a", Quantity: 2, ExpiryDate: day.AddDate(1, 0, 0)},
		{ID: "at-threshold", Quantity: 10, ExpiryDate: day.AddDate(1, 0, 0)},
		{ID: "soon-edge", Quantity: 20, ExpiryDate: day.AddDate(0, 0, 7)},
		{ID: "soon-today", Quantity: 20, ExpiryDate: day},
		{ID: "beyond-window", Quantity: 20, ExpiryDate: day.AddDate(0, 0, 8)},
		{ID: "expired", Quantity: 3, ExpiryDate: day.AddDate(0, 0, -1)},
		{ID: "empty-expired", Quantity: 0, ExpiryDate: day.AddDate(0, 0, -30)},
	}

	got := fixedEngine(nil).Compute(drugs)

	require.Equal(t, []string{"low-a", "expired", "low-b"}, ids(got.LowStock))
	require.Equal(t, []string{"soon-today", "soon-edge"}, ids(got.ExpiringSoon))
	require.Equal(t, []string{"expired"}, ids(got.Expired))
	require.True(t, got.GeneratedAt.Equal(today))
}

func TestComputeReturnsEmptyListsNotNil(t *testing.T) {
	got := fixedEngine(nil).Compute(nil)
	require.NotNil(t, got.LowStock)
	require.NotNil(t, got.ExpiringSoon)
	require.NotNil(t, got.Expired)
}

func TestAlertsReadsThroughCache(t *testing.T) {
	c := &mapCache{}
	engine := fixedEngine(c)
	loads := 0
	load := func(context.Context) ([]domain.Drug, error) {
		loads++
		return []domain.Drug{{ID: "low", Quantity: 1, ExpiryDate: today.AddDate(1, 0, 0)}}, nil
	}

	first, err := engine.Alerts(context.Background(), load)
	require.NoError(t, err)
	second, err := engine.Alerts(context.Background(), load)
	require.NoError(t, err)
	require.Equal(t, 1, loads)
	require.Equal(t, ids(first.LowStock), ids(second.LowStock))

	require.NoError(t, engine.Invalidate(context.Background()))
	_, err = engine.Alerts(context.Background(), load)
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestAlertsRecomputesWhenCacheFails(t *testing.T) {
	c := &mapCache{getErr: errors.New("connection refused")}
	engine := fixedEngine(c)

	got, err := engine.Alerts(context.Background(), func(context.Context) ([]domain.Drug, error) {
		return []domain.Drug{{ID: "low", Quantity: 1, ExpiryDate: today.AddDate(1, 0, 0)}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"low"}, ids(got.LowStock))

	_, err = engine.Alerts(context.Background(), func(context.Context) ([]domain.Drug, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
}
