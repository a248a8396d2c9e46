package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

type sqlTx struct {
	tx  *sqlx.Tx
	d   dialect
	now func() time.Time
}

func (t *sqlTx) selectDrugs(ctx context.Context, ids []string, suffix string) (map[string]domain.Drug, error) {
	out := make(map[string]domain.Drug, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+drugColumns+` FROM drugs WHERE id IN (?) ORDER BY id`+suffix, ids)
	if err != nil {
		return nil, err
	}
	var rows []drugRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.toDomain()
	}
	return out, nil
}

func (t *sqlTx) GetDrugs(ctx context.Context, ids []string) (map[string]domain.Drug, error) {
	return t.selectDrugs(ctx, ids, "")
}

func (t *sqlTx) LockDrugs(ctx context.Context, ids []string) (map[string]domain.Drug, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return t.selectDrugs(ctx, slices.Compact(sorted), t.d.forUpdate())
}

func (t *sqlTx) DecrementStock(ctx context.Context, drugID string, qty int) error {
	if qty <= 0 {
		return store.InvalidInput("decrement quantity must be positive")
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE drugs
		SET quantity = quantity - ?, updated_at = ?
		WHERE id = ? AND quantity >= ?
	`), qty, t.d.ts(t.now()), drugID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var available int
	err = t.tx.GetContext(ctx, &available, t.tx.Rebind(`SELECT quantity FROM drugs WHERE id = ?`), drugID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFound("drug", drugID)
		}
		return err
	}
	return &store.InsufficientStockError{DrugID: drugID, Requested: qty, Available: available}
}

func (t *sqlTx) IncrementStock(ctx context.Context, drugID string, qty int, expiry time.Time) (*domain.Drug, error) {
	if qty <= 0 {
		return nil, store.InvalidInput("restock quantity must be positive")
	}
	var expiryArg any
	if !expiry.IsZero() {
		expiryArg = t.d.date(expiry)
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE drugs
		SET quantity = quantity + ?, expiry_date = COALESCE(?, expiry_date), updated_at = ?
		WHERE id = ?
	`), qty, expiryArg, t.d.ts(t.now()), drugID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.NotFound("drug", drugID)
	}
	drugs, err := t.GetDrugs(ctx, []string{drugID})
	if err != nil {
		return nil, err
	}
	drug := drugs[drugID]
	return &drug, nil
}

func (t *sqlTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, t.tx, id)
}

func (t *sqlTx) FindCustomerByName(ctx context.Context, name string) (*domain.Customer, error) {
	var row customerRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`
		SELECT `+customerColumns+`
		FROM customers
		WHERE LOWER(name) = LOWER(?)
		ORDER BY created_at, id
		LIMIT 1
	`), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("customer", name)
		}
		return nil, err
	}
	c := row.toDomain()
	return &c, nil
}

func (t *sqlTx) InsertPrescription(ctx context.Context, p domain.Prescription) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO prescriptions (`+prescriptionColumns+`)
		VALUES (?,?,?,?,?,?,?)
	`), p.ID, p.Customer, t.d.date(p.Date), string(p.Status), p.Total, t.d.ts(p.CreatedAt), t.d.ts(p.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return writeItems(ctx, t.tx, "prescription_items", "prescription_id", p.ID, p.Items)
}

func (t *sqlTx) LockPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return getPrescription(ctx, t.tx, id, t.d.forUpdate())
}

func (t *sqlTx) SavePrescription(ctx context.Context, p domain.Prescription) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE prescriptions
		SET customer = ?, prescribed_on = ?, status = ?, total = ?, updated_at = ?
		WHERE id = ?
	`), p.Customer, t.d.date(p.Date), string(p.Status), p.Total, t.d.ts(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("prescription", p.ID)
	}
	return writeItems(ctx, t.tx, "prescription_items", "prescription_id", p.ID, p.Items)
}

func (t *sqlTx) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`), inv.ID, inv.CustomerID, nullIfEmpty(inv.PrescriptionID), nullIfEmpty(inv.IdempotencyKey),
		t.d.date(inv.Date), string(inv.Status), inv.Total, t.d.nullTS(inv.PaidAt),
		t.d.ts(inv.CreatedAt), t.d.ts(inv.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return writeItems(ctx, t.tx, "invoice_items", "invoice_id", inv.ID, inv.Items)
}

func (t *sqlTx) LockInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return getInvoice(ctx, t.tx, "id", id, t.d.forUpdate())
}

// SaveInvoice rewrites the mutable columns. The idempotency key and
// prescription link are fixed at creation.
func (t *sqlTx) SaveInvoice(ctx context.Context, inv domain.Invoice) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE invoices
		SET customer_id = ?, invoiced_on = ?, status = ?, total = ?, paid_at = ?, updated_at = ?
		WHERE id = ?
	`), inv.CustomerID, t.d.date(inv.Date), string(inv.Status), inv.Total, t.d.nullTS(inv.PaidAt), t.d.ts(inv.UpdatedAt), inv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("invoice", inv.ID)
	}
	return writeItems(ctx, t.tx, "invoice_items", "invoice_id", inv.ID, inv.Items)
}

func (t *sqlTx) FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error) {
	return getInvoice(ctx, t.tx, "idempotency_key", key, "")
}

func (t *sqlTx) GetDeductionRecord(ctx context.Context, invoiceID string) (*domain.DeductionRecord, error) {
	return getDeduction(ctx, t.tx, invoiceID)
}

func (t *sqlTx) InsertDeductionRecord(ctx context.Context, rec domain.DeductionRecord) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO stock_deductions (invoice_id, stock_deducted, prescription_id, recorded_at)
		VALUES (?,?,?,?)
	`), rec.InvoiceID, rec.StockDeducted, nullIfEmpty(rec.PrescriptionID), t.d.ts(rec.RecordedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}
