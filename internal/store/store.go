package store

import (
	"context"
	"time"

	"apotek/backend/internal/domain"
)

// Repository is the persistence boundary. Reads outside RunInTx see committed
// state only; every mutation of stock, prescriptions or invoices goes through
// a unit of work.
type Repository interface {
	// RunInTx executes fn in a single unit of work. If fn returns an error
	// nothing it staged becomes visible.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// ListDrugs returns drugs ordered by name. A zero Limit returns all rows.
	ListDrugs(ctx context.Context, page domain.ListPage) ([]domain.Drug, error)
	GetDrug(ctx context.Context, id string) (*domain.Drug, error)
	CreateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error)
	UpdateDrugDetails(ctx context.Context, drug domain.Drug) (*domain.Drug, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)

	GetPrescription(ctx context.Context, id string) (*domain.Prescription, error)
	ListPrescriptions(ctx context.Context, page domain.ListPage) ([]domain.Prescription, error)

	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, page domain.ListPage) ([]domain.Invoice, error)
	GetDeductionRecord(ctx context.Context, invoiceID string) (*domain.DeductionRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}

// Tx is the view of the store inside a unit of work. Lock* methods hold the
// returned rows against concurrent writers until the unit of work ends.
type Tx interface {
	GetDrugs(ctx context.Context, ids []string) (map[string]domain.Drug, error)
	// LockDrugs locks the rows in ascending id order. Unknown ids are absent
	// from the result.
	LockDrugs(ctx context.Context, ids []string) (map[string]domain.Drug, error)
	// DecrementStock lowers quantity only if at least qty units remain and
	// returns ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, drugID string, qty int) error
	IncrementStock(ctx context.Context, drugID string, qty int, expiry time.Time) (*domain.Drug, error)

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByName(ctx context.Context, name string) (*domain.Customer, error)

	InsertPrescription(ctx context.Context, p domain.Prescription) error
	LockPrescription(ctx context.Context, id string) (*domain.Prescription, error)
	SavePrescription(ctx context.Context, p domain.Prescription) error

	InsertInvoice(ctx context.Context, inv domain.Invoice) error
	LockInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	SaveInvoice(ctx context.Context, inv domain.Invoice) error
	FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error)

	GetDeductionRecord(ctx context.Context, invoiceID string) (*domain.DeductionRecord, error)
	// InsertDeductionRecord fails with ErrConflict if the invoice already has one.
	InsertDeductionRecord(ctx context.Context, rec domain.DeductionRecord) error
}
