package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

const drugColumns = `id, name, category_id, quantity, expiry_date, purchase_price, selling_price, supplier, description, created_at, updated_at`

type drugRow struct {
	ID            string          `db:"id"`
	Name          string          `db:"name"`
	CategoryID    string          `db:"category_id"`
	Quantity      int             `db:"quantity"`
	ExpiryDate    dbTime          `db:"expiry_date"`
	PurchasePrice decimal.Decimal `db:"purchase_price"`
	SellingPrice  decimal.Decimal `db:"selling_price"`
	Supplier      string          `db:"supplier"`
	Description   sql.NullString  `db:"description"`
	CreatedAt     dbTime          `db:"created_at"`
	UpdatedAt     dbTime          `db:"updated_at"`
}

func (r drugRow) toDomain() domain.Drug {
	return domain.Drug{
		ID:            r.ID,
		Name:          r.Name,
		CategoryID:    r.CategoryID,
		Quantity:      r.Quantity,
		ExpiryDate:    r.ExpiryDate.Time,
		PurchasePrice: r.PurchasePrice,
		SellingPrice:  r.SellingPrice,
		Supplier:      r.Supplier,
		Description:   r.Description.String,
		CreatedAt:     r.CreatedAt.Time,
		UpdatedAt:     r.UpdatedAt.Time,
	}
}

const customerColumns = `id, name, phone, address, created_at`

type customerRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Phone     sql.NullString `db:"phone"`
	Address   sql.NullString `db:"address"`
	CreatedAt dbTime         `db:"created_at"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone.String,
		Address:   r.Address.String,
		CreatedAt: r.CreatedAt.Time,
	}
}

const prescriptionColumns = `id, customer, prescribed_on, status, total, created_at, updated_at`

type prescriptionRow struct {
	ID        string          `db:"id"`
	Customer  string          `db:"customer"`
	Date      dbTime          `db:"prescribed_on"`
	Status    string          `db:"status"`
	Total     decimal.Decimal `db:"total"`
	CreatedAt dbTime          `db:"created_at"`
	UpdatedAt dbTime          `db:"updated_at"`
}

func (r prescriptionRow) toDomain() domain.Prescription {
	return domain.Prescription{
		ID:        r.ID,
		Customer:  r.Customer,
		Date:      r.Date.Time,
		Status:    domain.PrescriptionStatus(r.Status),
		Total:     r.Total,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

const invoiceColumns = `id, customer_id, prescription_id, idempotency_key, invoiced_on, status, total, paid_at, created_at, updated_at`

type invoiceRow struct {
	ID             string          `db:"id"`
	CustomerID     string          `db:"customer_id"`
	PrescriptionID sql.NullString  `db:"prescription_id"`
	IdempotencyKey sql.NullString  `db:"idempotency_key"`
	Date           dbTime          `db:"invoiced_on"`
	Status         string          `db:"status"`
	Total          decimal.Decimal `db:"total"`
	PaidAt         dbTime          `db:"paid_at"`
	CreatedAt      dbTime          `db:"created_at"`
	UpdatedAt      dbTime          `db:"updated_at"`
}

func (r invoiceRow) toDomain() domain.Invoice {
	return domain.Invoice{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		PrescriptionID: r.PrescriptionID.String,
		IdempotencyKey: r.IdempotencyKey.String,
		Date:           r.Date.Time,
		Status:         domain.InvoiceStatus(r.Status),
		Total:          r.Total,
		PaidAt:         r.PaidAt.ptr(),
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
}

type itemRow struct {
	OwnerID   string          `db:"owner_id"`
	LineNo    int             `db:"line_no"`
	DrugID    string          `db:"drug_id"`
	Quantity  int             `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

type deductionRow struct {
	InvoiceID      string         `db:"invoice_id"`
	StockDeducted  bool           `db:"stock_deducted"`
	PrescriptionID sql.NullString `db:"prescription_id"`
	RecordedAt     dbTime         `db:"recorded_at"`
}

func (r deductionRow) toDomain() domain.DeductionRecord {
	return domain.DeductionRecord{
		InvoiceID:      r.InvoiceID,
		StockDeducted:  r.StockDeducted,
		PrescriptionID: r.PrescriptionID.String,
		RecordedAt:     r.RecordedAt.Time,
	}
}

// loadItems reads line items for the given owners from prescription_items or
// invoice_items, keyed by owner id and ordered by line number.
func loadItems(ctx context.Context, q queryer, table, ownerColumn string, ownerIDs []string) (map[string][]domain.LineItem, error) {
	out := make(map[string][]domain.LineItem, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+ownerColumn+` AS owner_id, line_no, drug_id, quantity, unit_price
		FROM `+table+`
		WHERE `+ownerColumn+` IN (?)
		ORDER BY `+ownerColumn+`, line_no`, ownerIDs)
	if err != nil {
		return nil, err
	}
	var rows []itemRow
	if err := q.SelectContext(ctx, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.OwnerID] = append(out[r.OwnerID], domain.LineItem{
			DrugID:    r.DrugID,
			Quantity:  r.Quantity,
			UnitPrice: r.UnitPrice,
		})
	}
	return out, nil
}

func getPrescription(ctx context.Context, q queryer, id string, suffix string) (*domain.Prescription, error) {
	var row prescriptionRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = ?`+suffix), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("prescription", id)
		}
		return nil, err
	}
	items, err := loadItems(ctx, q, "prescription_items", "prescription_id", []string{id})
	if err != nil {
		return nil, err
	}
	p := row.toDomain()
	p.Items = items[id]
	if p.Items == nil {
		p.Items = []domain.LineItem{}
	}
	return &p, nil
}

func getInvoice(ctx context.Context, q queryer, column, value string, suffix string) (*domain.Invoice, error) {
	var row invoiceRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE `+column+` = ?`+suffix), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("invoice", value)
		}
		return nil, err
	}
	items, err := loadItems(ctx, q, "invoice_items", "invoice_id", []string{row.ID})
	if err != nil {
		return nil, err
	}
	inv := row.toDomain()
	inv.Items = items[row.ID]
	if inv.Items == nil {
		inv.Items = []domain.LineItem{}
	}
	return &inv, nil
}

func getDeduction(ctx context.Context, q queryer, invoiceID string) (*domain.DeductionRecord, error) {
	var row deductionRow
	err := q.GetContext(ctx, &row, q.Rebind(`
		SELECT invoice_id, stock_deducted, prescription_id, recorded_at
		FROM stock_deductions
		WHERE invoice_id = ?
	`), invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("deduction", invoiceID)
		}
		return nil, err
	}
	rec := row.toDomain()
	return &rec, nil
}

func getCustomer(ctx context.Context, q queryer, id string) (*domain.Customer, error) {
	var row customerRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+customerColumns+` FROM customers WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("customer", id)
		}
		return nil, err
	}
	c := row.toDomain()
	return &c, nil
}

func writeItems(ctx context.Context, q queryer, table, ownerColumn, ownerID string, items []domain.LineItem) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM `+table+` WHERE `+ownerColumn+` = ?`), ownerID); err != nil {
		return err
	}
	insert := q.Rebind(`INSERT INTO ` + table + ` (` + ownerColumn + `, line_no, drug_id, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`)
	for i, item := range items {
		if _, err := q.ExecContext(ctx, insert, ownerID, i+1, item.DrugID, item.Quantity, item.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}
