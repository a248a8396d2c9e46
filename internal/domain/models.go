package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Drug struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CategoryID    string          `json:"category_id"`
	Quantity      int             `json:"quantity"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Supplier      string          `json:"supplier"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ExpiredOn reports whether the drug can no longer be dispensed on the given
// day. A drug expiring today is still sellable.
func (d Drug) ExpiredOn(day time.Time) bool {
	return DateOf(d.ExpiryDate).Before(DateOf(day))
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LineItem is a (drug, quantity, unit price) tuple. The unit price is captured
// once when the line is created and never re-read from the catalog.
type LineItem struct {
	DrugID    string          `json:"drug_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func CloneLineItems(items []LineItem) []LineItem {
	dup := make([]LineItem, len(items))
	copy(dup, items)
	return dup
}

type Prescription struct {
	ID        string             `json:"id"`
	Customer  string             `json:"customer"`
	Date      time.Time          `json:"date"`
	Status    PrescriptionStatus `json:"status"`
	Items     []LineItem         `json:"items"`
	Total     decimal.Decimal    `json:"total"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (p Prescription) Clone() Prescription {
	dup := p
	dup.Items = CloneLineItems(p.Items)
	return dup
}

type Invoice struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	PrescriptionID string          `json:"prescription_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Date           time.Time       `json:"date"`
	Status         InvoiceStatus   `json:"status"`
	Items          []LineItem      `json:"items"`
	Total          decimal.Decimal `json:"total"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (i Invoice) Clone() Invoice {
	dup := i
	dup.Items = CloneLineItems(i.Items)
	if i.PaidAt != nil {
		paidAt := *i.PaidAt
		dup.PaidAt = &paidAt
	}
	return dup
}

// DeductionRecord is the durable marker that stock has been settled for an
// invoice. StockDeducted is false when the invoice rode on a prescription
// whose stock had already been taken by an earlier invoice.
type DeductionRecord struct {
	InvoiceID      string    `json:"invoice_id"`
	StockDeducted  bool      `json:"stock_deducted"`
	PrescriptionID string    `json:"prescription_id,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type StockAdjustment struct {
	DrugID   string `json:"drug_id"`
	Quantity int    `json:"quantity"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
)

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
