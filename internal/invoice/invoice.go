// Package invoice holds the UNPAID -> PAID lifecycle of an invoice. It never
// touches stock; the fulfillment coordinator wraps MarkPaid with deduction.
package invoice

import (
	"context"
	"errors"
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

// Draft describes a new invoice. When Items is empty and PrescriptionID is
// set, the prescription's items are copied as they are now.
type Draft struct {
	CustomerID     string
	PrescriptionID string
	Date           time.Time
	Items          []domain.InvoiceItemRequest
	IdempotencyKey string
}

// Create stores a new UNPAID invoice. Paying it at creation is the
// coordinator's job, inside the same unit of work.
func (m *Machine) Create(ctx context.Context, tx store.Tx, draft Draft) (*domain.Invoice, error) {
	var rx *domain.Prescription
	if draft.PrescriptionID != "" {
		p, err := tx.LockPrescription(ctx, draft.PrescriptionID)
		if err != nil {
			return nil, err
		}
		rx = p
	}

	customerID, err := m.resolveCustomer(ctx, tx, draft.CustomerID, rx)
	if err != nil {
		return nil, err
	}

	var items []domain.LineItem
	switch {
	case len(draft.Items) > 0:
		items, err = m.priceItems(ctx, tx, draft.Items)
		if err != nil {
			return nil, err
		}
	case rx != nil:
		items = domain.CloneLineItems(rx.Items)
	}
	if len(items) == 0 {
		return nil, store.InvalidInput("invoice needs at least one item")
	}

	now := m.now()
	date := draft.Date
	if date.IsZero() {
		date = now
	}
	inv := domain.Invoice{
		ID:             xid.New("inv"),
		CustomerID:     customerID,
		PrescriptionID: draft.PrescriptionID,
		IdempotencyKey: draft.IdempotencyKey,
		Date:           domain.DateOf(date),
		Status:         domain.InvoiceUnpaid,
		Items:          items,
		Total:          domain.SumLineItems(items),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.InsertInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ReplaceItems swaps the item list of an UNPAID invoice and recomputes the
// total. A PAID invoice's items are frozen because stock was deducted
// against them.
func (m *Machine) ReplaceItems(ctx context.Context, tx store.Tx, inv *domain.Invoice, requested []domain.InvoiceItemRequest) error {
	if inv.Status != domain.InvoiceUnpaid {
		return &store.InvalidStateError{Entity: "invoice", ID: inv.ID, From: string(inv.Status), Action: "replace_items"}
	}
	items, err := m.priceItems(ctx, tx, requested)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return store.InvalidInput("invoice needs at least one item")
	}
	inv.Items = items
	inv.Total = domain.SumLineItems(items)
	inv.UpdatedAt = m.now()
	return tx.SaveInvoice(ctx, *inv)
}

// UpdateDetails changes the customer or date. Allowed in any status.
func (m *Machine) UpdateDetails(ctx context.Context, tx store.Tx, inv *domain.Invoice, customerID *string, date *time.Time) error {
	if customerID == nil && date == nil {
		return nil
	}
	if customerID != nil {
		id := strings.TrimSpace(*customerID)
		if _, err := tx.GetCustomer(ctx, id); err != nil {
			return err
		}
		inv.CustomerID = id
	}
	if date != nil && !date.IsZero() {
		inv.Date = domain.DateOf(*date)
	}
	inv.UpdatedAt = m.now()
	return tx.SaveInvoice(ctx, *inv)
}

// MarkPaid moves the invoice to PAID and reports whether it changed. Paying a
// PAID invoice is a no-op.
func (m *Machine) MarkPaid(ctx context.Context, tx store.Tx, inv *domain.Invoice) (bool, error) {
	if inv.Status == domain.InvoicePaid {
		return false, nil
	}
	if inv.Status != domain.InvoiceUnpaid {
		return false, &store.InvalidStateError{Entity: "invoice", ID: inv.ID, From: string(inv.Status), Action: "mark_paid"}
	}
	now := m.now()
	inv.Status = domain.InvoicePaid
	inv.PaidAt = &now
	inv.UpdatedAt = now
	if err := tx.SaveInvoice(ctx, *inv); err != nil {
		return false, err
	}
	return true, nil
}

// resolveCustomer picks the invoice customer: an explicit id wins, otherwise
// the prescription's customer reference is tried as an id and then as a name.
func (m *Machine) resolveCustomer(ctx context.Context, tx store.Tx, explicit string, rx *domain.Prescription) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		c, err := tx.GetCustomer(ctx, explicit)
		if err != nil {
			return "", err
		}
		return c.ID, nil
	}
	if rx == nil {
		return "", store.InvalidInput("customer_id is required when no prescription is referenced")
	}

	c, err := tx.GetCustomer(ctx, rx.Customer)
	if err == nil {
		return c.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	c, err = tx.FindCustomerByName(ctx, rx.Customer)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// priceItems turns requested lines into priced line items. A line without an
// explicit unit price takes the drug's selling price at this moment.
func (m *Machine) priceItems(ctx context.Context, tx store.Tx, requested []domain.InvoiceItemRequest) ([]domain.LineItem, error) {
	ids := make([]string, 0, len(requested))
	for _, r := range requested {
		if r.DrugID == "" || r.Quantity <= 0 {
			return nil, store.InvalidInput("item for drug %q needs a positive quantity", r.DrugID)
		}
		if r.UnitPrice != nil && r.UnitPrice.IsNegative() {
			return nil, store.InvalidInput("unit price for drug %q cannot be negative", r.DrugID)
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
		price := drug.SellingPrice
		if r.UnitPrice != nil {
			price = *r.UnitPrice
		}
		items = append(items, domain.LineItem{DrugID: r.DrugID, Quantity: r.Quantity, UnitPrice: price})
	}
	return items, nil
}
