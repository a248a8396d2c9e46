// Package ledger owns on-hand drug quantities. Nothing else decrements stock.
package ledger

import (
	"context"
	"slices"
	"strings"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of the ledger that reads "today" from now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// Aggregate folds repeated drug lines into one request per drug, sorted by
// drug id so rows are always locked in the same order.
func Aggregate(items []domain.LineItem) []domain.StockAdjustment {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.DrugID] += item.Quantity
	}
	out := make([]domain.StockAdjustment, 0, len(totals))
	for drugID, qty := range totals {
		out = append(out, domain.StockAdjustment{DrugID: drugID, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b domain.StockAdjustment) int {
		return strings.Compare(a.DrugID, b.DrugID)
	})
	return out
}

// ReserveAndDeduct checks every drug in the batch for quantity and expiry
// while holding its row lock, then decrements all of them. Any failure leaves
// the batch unapplied once the caller's unit of work rolls back.
func (l *Ledger) ReserveAndDeduct(ctx context.Context, tx store.Tx, items []domain.LineItem) ([]domain.StockAdjustment, error) {
	requests := Aggregate(items)
	if len(requests) == 0 {
		return requests, nil
	}

	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		if req.DrugID == "" || req.Quantity <= 0 {
			return nil, store.InvalidInput("stock request for %q must have a positive quantity", req.DrugID)
		}
		ids = append(ids, req.DrugID)
	}

	drugs, err := tx.LockDrugs(ctx, ids)
	if err != nil {
		return nil, err
	}

	today := domain.DateOf(l.now())
	for _, req := range requests {
		drug, ok := drugs[req.DrugID]
		if !ok {
			return nil, store.NotFound("drug", req.DrugID)
		}
		if drug.ExpiredOn(today) {
			return nil, &store.ExpiredDrugError{DrugID: drug.ID, ExpiryDate: drug.ExpiryDate}
		}
		if drug.Quantity < req.Quantity {
			return nil, &store.InsufficientStockError{DrugID: drug.ID, Requested: req.Quantity, Available: drug.Quantity}
		}
	}

	for _, req := range requests {
		if err := tx.DecrementStock(ctx, req.DrugID, req.Quantity); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// Restock adds quantity to a drug. The recorded expiry only moves forward:
// an earlier or zero newExpiry leaves it unchanged.
func (l *Ledger) Restock(ctx context.Context, tx store.Tx, drugID string, qty int, newExpiry time.Time) (*domain.Drug, error) {
	if qty <= 0 {
		return nil, store.InvalidInput("restock quantity must be positive")
	}
	drugs, err := tx.LockDrugs(ctx, []string{drugID})
	if err != nil {
		return nil, err
	}
	current, ok := drugs[drugID]
	if !ok {
		return nil, store.NotFound("drug", drugID)
	}

	var expiry time.Time
	if !newExpiry.IsZero() && domain.DateOf(newExpiry).After(domain.DateOf(current.ExpiryDate)) {
		expiry = domain.DateOf(newExpiry)
	}
	return tx.IncrementStock(ctx, drugID, qty, expiry)
}
