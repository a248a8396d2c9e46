package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

// memTx stages writes in overlay maps and applies them to the store only on
// commit. The caller holds s.mu for the lifetime of the tx.
type memTx struct {
	s             *Store
	drugs         map[string]domain.Drug
	prescriptions map[string]domain.Prescription
	invoices      map[string]domain.Invoice
	idem          map[string]string
	deductions    map[string]domain.DeductionRecord
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:             s,
		drugs:         make(map[string]domain.Drug),
		prescriptions: make(map[string]domain.Prescription),
		invoices:      make(map[string]domain.Invoice),
		idem:          make(map[string]string),
		deductions:    make(map[string]domain.DeductionRecord),
	}
}

func (t *memTx) commit() {
	for id, d := range t.drugs {
		t.s.drugs[id] = d
	}
	for id, p := range t.prescriptions {
		t.s.prescriptions[id] = p
	}
	for id, inv := range t.invoices {
		t.s.invoices[id] = inv
	}
	for key, id := range t.idem {
		t.s.invoicesByIdem[key] = id
	}
	for id, rec := range t.deductions {
		t.s.deductions[id] = rec
	}
}

func (t *memTx) drug(id string) (domain.Drug, bool) {
	if d, ok := t.drugs[id]; ok {
		return d, true
	}
	d, ok := t.s.drugs[id]
	return d, ok
}

func (t *memTx) GetDrugs(_ context.Context, ids []string) (map[string]domain.Drug, error) {
	out := make(map[string]domain.Drug, len(ids))
	for _, id := range ids {
		if d, ok := t.drug(id); ok {
			out[id] = d
		}
	}
	return out, nil
}

// LockDrugs is GetDrugs here: holding s.mu already excludes other writers.
func (t *memTx) LockDrugs(ctx context.Context, ids []string) (map[string]domain.Drug, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return t.GetDrugs(ctx, slices.Compact(sorted))
}

func (t *memTx) DecrementStock(_ context.Context, drugID string, qty int) error {
	d, ok := t.drug(drugID)
	if !ok {
		return store.NotFound("drug", drugID)
	}
	if qty <= 0 {
		return store.InvalidInput("decrement quantity must be positive")
	}
	if d.Quantity < qty {
		return &store.InsufficientStockError{DrugID: drugID, Requested: qty, Available: d.Quantity}
	}
	d.Quantity -= qty
	d.UpdatedAt = t.s.now()
	t.drugs[drugID] = d
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, drugID string, qty int, expiry time.Time) (*domain.Drug, error) {
	d, ok := t.drug(drugID)
	if !ok {
		return nil, store.NotFound("drug", drugID)
	}
	if qty <= 0 {
		return nil, store.InvalidInput("restock quantity must be positive")
	}
	d.Quantity += qty
	if !expiry.IsZero() {
		d.ExpiryDate = domain.DateOf(expiry)
	}
	d.UpdatedAt = t.s.now()
	t.drugs[drugID] = d
	return &d, nil
}

func (t *memTx) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, store.NotFound("customer", id)
	}
	return &c, nil
}

// FindCustomerByName matches case-insensitively and prefers the oldest
// customer when names collide.
func (t *memTx) FindCustomerByName(_ context.Context, name string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)
	var found *domain.Customer
	for _, c := range t.s.customers {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) || (c.CreatedAt.Equal(found.CreatedAt) && c.ID < found.ID) {
			match := c
			found = &match
		}
	}
	if found == nil {
		return nil, store.NotFound("customer", name)
	}
	return found, nil
}

func (t *memTx) prescription(id string) (domain.Prescription, bool) {
	if p, ok := t.prescriptions[id]; ok {
		return p, true
	}
	p, ok := t.s.prescriptions[id]
	return p, ok
}

func (t *memTx) InsertPrescription(_ context.Context, p domain.Prescription) error {
	if _, exists := t.prescription(p.ID); exists {
		return store.ErrConflict
	}
	t.prescriptions[p.ID] = p.Clone()
	return nil
}

func (t *memTx) LockPrescription(_ context.Context, id string) (*domain.Prescription, error) {
	p, ok := t.prescription(id)
	if !ok {
		return nil, store.NotFound("prescription", id)
	}
	dup := p.Clone()
	return &dup, nil
}

func (t *memTx) SavePrescription(_ context.Context, p domain.Prescription) error {
	if _, ok := t.prescription(p.ID); !ok {
		return store.NotFound("prescription", p.ID)
	}
	t.prescriptions[p.ID] = p.Clone()
	return nil
}

func (t *memTx) invoice(id string) (domain.Invoice, bool) {
	if inv, ok := t.invoices[id]; ok {
		return inv, true
	}
	inv, ok := t.s.invoices[id]
	return inv, ok
}

func (t *memTx) InsertInvoice(_ context.Context, inv domain.Invoice) error {
	if _, exists := t.invoice(inv.ID); exists {
		return store.ErrConflict
	}
	if inv.IdempotencyKey != "" {
		if _, taken := t.idemLookup(inv.IdempotencyKey); taken {
			return store.ErrConflict
		}
		t.idem[inv.IdempotencyKey] = inv.ID
	}
	t.invoices[inv.ID] = inv.Clone()
	return nil
}

func (t *memTx) LockInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	inv, ok := t.invoice(id)
	if !ok {
		return nil, store.NotFound("invoice", id)
	}
	dup := inv.Clone()
	return &dup, nil
}

func (t *memTx) SaveInvoice(_ context.Context, inv domain.Invoice) error {
	current, ok := t.invoice(inv.ID)
	if !ok {
		return store.NotFound("invoice", inv.ID)
	}
	// The idempotency key is fixed at creation.
	inv.IdempotencyKey = current.IdempotencyKey
	t.invoices[inv.ID] = inv.Clone()
	return nil
}

func (t *memTx) idemLookup(key string) (string, bool) {
	if id, ok := t.idem[key]; ok {
		return id, true
	}
	id, ok := t.s.invoicesByIdem[key]
	return id, ok
}

func (t *memTx) FindInvoiceByIdempotency(_ context.Context, key string) (*domain.Invoice, error) {
	id, ok := t.idemLookup(key)
	if !ok {
		return nil, store.NotFound("invoice", key)
	}
	inv, ok := t.invoice(id)
	if !ok {
		return nil, store.NotFound("invoice", id)
	}
	dup := inv.Clone()
	return &dup, nil
}

func (t *memTx) GetDeductionRecord(_ context.Context, invoiceID string) (*domain.DeductionRecord, error) {
	if rec, ok := t.deductions[invoiceID]; ok {
		return &rec, nil
	}
	rec, ok := t.s.deductions[invoiceID]
	if !ok {
		return nil, store.NotFound("deduction", invoiceID)
	}
	return &rec, nil
}

func (t *memTx) InsertDeductionRecord(ctx context.Context, rec domain.DeductionRecord) error {
	if _, err := t.GetDeductionRecord(ctx, rec.InvoiceID); err == nil {
		return store.ErrConflict
	}
	t.deductions[rec.InvoiceID] = rec
	return nil
}
