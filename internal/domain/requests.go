package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
	Username    string    `json:"username"`
}

type DrugCreateRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	CategoryID    string          `json:"category_id" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gte=0"`
	ExpiryDate    string          `json:"expiry_date" validate:"required"`
	Supplier      string          `json:"supplier" validate:"required"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Description   string          `json:"description"`
}

// DrugUpdateRequest edits catalog fields. Quantity and expiry only move
// through restock and fulfillment.
type DrugUpdateRequest struct {
	Name          *string          `json:"name" validate:"omitempty,max=200"`
	CategoryID    *string          `json:"category_id"`
	Supplier      *string          `json:"supplier"`
	PurchasePrice *decimal.Decimal `json:"purchase_price"`
	SellingPrice  *decimal.Decimal `json:"selling_price"`
	Description   *string          `json:"description"`
}

type RestockRequest struct {
	Quantity   int    `json:"quantity" validate:"gt=0"`
	ExpiryDate string `json:"expiry_date"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"max=32"`
	Address string `json:"address" validate:"max=500"`
}

type PrescriptionItemRequest struct {
	DrugID   string `json:"drug_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type PrescriptionCreateRequest struct {
	Customer string                    `json:"customer" validate:"required"`
	Date     string                    `json:"date"`
	Items    []PrescriptionItemRequest `json:"items" validate:"required,min=1,dive"`
}

// PrescriptionUpdateRequest leaves a field untouched when it is nil. A non-nil
// Items replaces the whole item list.
type PrescriptionUpdateRequest struct {
	Customer *string                   `json:"customer"`
	Date     *string                   `json:"date"`
	Items    []PrescriptionItemRequest `json:"items" validate:"omitempty,min=1,dive"`
}

type InvoiceItemRequest struct {
	DrugID    string           `json:"drug_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type InvoiceCreateRequest struct {
	PrescriptionID string               `json:"prescription_id"`
	CustomerID     string               `json:"customer_id"`
	Date           string               `json:"date"`
	Status         InvoiceStatus        `json:"status"`
	Items          []InvoiceItemRequest `json:"items" validate:"omitempty,dive"`
	IdempotencyKey string               `json:"idempotency_key" validate:"max=128"`
}

type InvoiceUpdateRequest struct {
	CustomerID *string              `json:"customer_id"`
	Date       *string              `json:"date"`
	Status     *InvoiceStatus       `json:"status"`
	Items      []InvoiceItemRequest `json:"items" validate:"omitempty,min=1,dive"`
}

// FulfillmentOutcome describes what a payment did to stock.
type FulfillmentOutcome struct {
	InvoiceID string            `json:"invoice_id"`
	Result    string            `json:"result"`
	Deducted  []StockAdjustment `json:"deducted,omitempty"`
}

const (
	ResultDeducted           = "deducted"
	ResultAlreadySettled     = "already_settled"
	ResultPrescriptionFilled = "prescription_already_fulfilled"
)

type InvoiceResponse struct {
	Invoice     Invoice             `json:"invoice"`
	Duplicate   bool                `json:"duplicate,omitempty"`
	Fulfillment *FulfillmentOutcome `json:"fulfillment,omitempty"`
}

type DrugAlert struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
}

type InventoryAlerts struct {
	LowStock     []DrugAlert `json:"low_stock"`
	ExpiringSoon []DrugAlert `json:"expiring_soon"`
	Expired      []DrugAlert `json:"expired"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

type ListPage struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p ListPage) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
