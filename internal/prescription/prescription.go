// Package prescription holds the PENDING -> CONFIRMED lifecycle of a
// prescription and its frozen line items.
package prescription

import (
	"context"
	"strings"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

type Machine struct {
	now func() time.Time
}

func New() *Machine {
	return &Machine{now: func() time.Time { return time.Now().UTC() }}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	return &Machine{now: now}
}

type Draft struct {
	Customer string
	Date     time.Time
	Items    []domain.StockAdjustment
}

// Changes edits a pending prescription. Nil fields are left as they are; a
// non-nil Items replaces the item list and re-snapshots prices.
type Changes struct {
	Customer *string
	Date     *time.Time
	Items    []domain.StockAdjustment
}

// Create stores a new PENDING prescription. Each line's unit price is the
// drug's purchase price at this moment.
func (m *Machine) Create(ctx context.Context, tx store.Tx, draft Draft) (*domain.Prescription, error) {
	customer := strings.TrimSpace(draft.Customer)
	if customer == "" {
		return nil, store.InvalidInput("prescription customer is required")
	}
	items, err := m.snapshot(ctx, tx, draft.Items)
	if err != nil {
		return nil, err
	}

	now := m.now()
	date := draft.Date
	if date.IsZero() {
		date = now
	}
	p := domain.Prescription{
		ID:        xid.New("rx"),
		Customer:  customer,
		Date:      domain.DateOf(date),
		Status:    domain.PrescriptionPending,
		Items:     items,
		Total:     domain.SumLineItems(items),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertPrescription(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Edit applies changes to a PENDING prescription. Confirmed prescriptions
// are immutable.
func (m *Machine) Edit(ctx context.Context, tx store.Tx, id string, changes Changes) (*domain.Prescription, error) {
	p, err := tx.LockPrescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PrescriptionPending {
		return nil, &store.InvalidStateError{Entity: "prescription", ID: p.ID, From: string(p.Status), Action: "edit"}
	}

	if changes.Customer != nil {
		customer := strings.TrimSpace(*changes.Customer)
		if customer == "" {
			return nil, store.InvalidInput("prescription customer is required")
		}
		p.Customer = customer
	}
	if changes.Date != nil && !changes.Date.IsZero() {
		p.Date = domain.DateOf(*changes.Date)
	}
	if changes.Items != nil {
		items, err := m.snapshot(ctx, tx, changes.Items)
		if err != nil {
			return nil, err
		}
		p.Items = items
	}
	p.Total = domain.SumLineItems(p.Items)
	p.UpdatedAt = m.now()

	if err := tx.SavePrescription(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Confirm moves a locked prescription to CONFIRMED. It reports false when the
// prescription was already confirmed. Only the fulfillment coordinator calls
// this, as a side effect of an invoice being paid.
func (m *Machine) Confirm(ctx context.Context, tx store.Tx, p *domain.Prescription) (bool, error) {
	if p.Status == domain.PrescriptionConfirmed {
		return false, nil
	}
	if p.Status != domain.PrescriptionPending {
		return false, &store.InvalidStateError{Entity: "prescription", ID: p.ID, From: string(p.Status), Action: "confirm"}
	}
	p.Status = domain.PrescriptionConfirmed
	p.UpdatedAt = m.now()
	if err := tx.SavePrescription(ctx, *p); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Machine) snapshot(ctx context.Context, tx store.Tx, requested []domain.StockAdjustment) ([]domain.LineItem, error) {
	if len(requested) == 0 {
		return nil, store.InvalidInput("prescription needs at least one item")
	}
	ids := make([]string, 0, len(requested))
	for _, r := range requested {
		if r.DrugID == "" || r.Quantity <= 0 {
			return nil, store.InvalidInput("item for drug %q needs a positive quantity", r.DrugID)
		}
		ids = append(ids, r.DrugID)
	}
	drugs, err := tx.GetDrugs(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LineItem, 0, len(requested))
	for _, r := range requested {
		drug, ok := drugs[r.DrugID]
		if !ok {
			return nil, store.NotFound("drug", r.DrugID)
		}
		items = append(items, domain.LineItem{
			DrugID:    r.DrugID,
			Quantity:  r.Quantity,
			UnitPrice: drug.PurchasePrice,
		})
	}
	return items, nil
}
