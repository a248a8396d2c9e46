package alerts

import (
	"context"
	"slices"
	"strings"
	"time"

	"apotek/backend/internal/cache"
	"apotek/backend/internal/domain"
)

const cacheKey = "apotek:inventory-alerts:v1"

type Options struct {
	LowStockThreshold int
	ExpirySoonDays    int
	CacheTTL          time.Duration
	Now               func() time.Time
}

// Engine classifies stocked drugs into low stock, expiring soon and expired.
// Drugs with nothing on hand never raise an alert.
type Engine struct {
	cache      cache.AlertCache
	cacheTTL   time.Duration
	lowStock   int
	expirySoon int
	now        func() time.Time
}

func NewEngine(cacheStore cache.AlertCache, opts Options) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopAlertCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 10
	}
	if opts.ExpirySoonDays <= 0 {
		opts.ExpirySoonDays = 7
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		cache:      cacheStore,
		cacheTTL:   opts.CacheTTL,
		lowStock:   opts.LowStockThreshold,
		expirySoon: opts.ExpirySoonDays,
		now:        opts.Now,
	}
}

func (e *Engine) Compute(drugs []domain.Drug) domain.InventoryAlerts {
	now := e.now()
	today := domain.DateOf(now)
	soonLimit := today.AddDate(0, 0, e.expirySoon)

	out := domain.InventoryAlerts{
		LowStock:     []domain.DrugAlert{},
		ExpiringSoon: []domain.DrugAlert{},
		Expired:      []domain.DrugAlert{},
		GeneratedAt:  now,
	}
	for _, d := range drugs {
		if d.Quantity <= 0 {
			continue
		}
		alert := domain.DrugAlert{ID: d.ID, Name: d.Name, Quantity: d.Quantity, ExpiryDate: d.ExpiryDate}
		if d.Quantity < e.lowStock {
			out.LowStock = append(out.LowStock, alert)
		}
		expiry := domain.DateOf(d.ExpiryDate)
		switch {
		case expiry.Before(today):
			out.Expired = append(out.Expired, alert)
		case !expiry.After(soonLimit):
			out.ExpiringSoon = append(out.ExpiringSoon, alert)
		}
	}

	slices.SortFunc(out.LowStock, func(a, b domain.DrugAlert) int {
		if a.Quantity != b.Quantity {
			return a.Quantity - b.Quantity
		}
		return strings.Compare(a.ID, b.ID)
	})
	byExpiry := func(a, b domain.DrugAlert) int {
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	}
	slices.SortFunc(out.ExpiringSoon, byExpiry)
	slices.SortFunc(out.Expired, byExpiry)
	return out
}

// Alerts serves the cached snapshot when there is one and otherwise computes
// it from load. Cache errors degrade to a recompute.
func (e *Engine) Alerts(ctx context.Context, load func(ctx context.Context) ([]domain.Drug, error)) (domain.InventoryAlerts, error) {
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	}

	drugs, err := load(ctx)
	if err != nil {
		return domain.InventoryAlerts{}, err
	}
	out := e.Compute(drugs)
	_ = e.cache.Set(ctx, cacheKey, &out, e.cacheTTL)
	return out, nil
}

// Invalidate drops the cached snapshot; call it after stock changes.
func (e *Engine) Invalidate(ctx context.Context) error {
	return e.cache.Delete(ctx, cacheKey)
}
