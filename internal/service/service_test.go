package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"apotek/backend/internal/alerts"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/memory"
)

type countingCache struct {
	mu      sync.Mutex
	value   *domain.InventoryAlerts
	deletes int
}

func (c *countingCache) Get(_ context.Context, _ string) (*domain.InventoryAlerts, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil, false, nil
	}
	v := *c.value
	return &v, true, nil
}

func (c *countingCache) Set(_ context.Context, _ string, value *domain.InventoryAlerts, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := *value
	c.value = &v
	return nil
}

func (c *countingCache) Delete(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.deletes++
	return nil
}

func (c *countingCache) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes
}

func newTestService(t *testing.T) (*Service, *countingCache) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	alertCache := &countingCache{}
	svc := New(Dependencies{
		Repo:   memory.NewSeeded(),
		Alerts: alerts.NewEngine(alertCache, alerts.Options{}),
		Logger: logger,
	})
	return svc, alertCache
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func pharmacistCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "apoteker", Role: domain.RolePharmacist})
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := pharmacistCtx()

	_, err := svc.CreateDrug(ctx, domain.DrugCreateRequest{Name: "Vitamin C", CategoryID: "vitamin", ExpiryDate: "2030-01-01", Supplier: "PT Sehat"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden create, got %v", err)
	}
	if _, err := svc.RestockDrug(ctx, "drug-cetirizine-10", domain.RestockRequest{Quantity: 5}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden restock, got %v", err)
	}
	name := "Renamed"
	if _, err := svc.UpdateDrug(ctx, "drug-cetirizine-10", domain.DrugUpdateRequest{Name: &name}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden update, got %v", err)
	}
	if _, err := svc.ListAuditLogs(context.Background(), 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden audit list without actor, got %v", err)
	}
}

func TestCreateDrugValidatesAndAudits(t *testing.T) {
	svc, alertCache := newTestService(t)
	ctx := adminCtx()

	if _, err := svc.CreateDrug(ctx, domain.DrugCreateRequest{Name: "Vitamin C", CategoryID: "vitamin", Supplier: "PT Sehat"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected missing expiry to be invalid, got %v", err)
	}
	if _, err := svc.CreateDrug(ctx, domain.DrugCreateRequest{Name: "Vitamin C", CategoryID: "vitamin", ExpiryDate: "01/01/2030", Supplier: "PT Sehat"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected malformed expiry to be invalid, got %v", err)
	}
	if _, err := svc.CreateDrug(ctx, domain.DrugCreateRequest{Name: "Vitamin C", CategoryID: "vitamin", ExpiryDate: "2030-01-01", Supplier: "PT Sehat", SellingPrice: decimal.NewFromInt(-1)}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected negative price to be invalid, got %v", err)
	}

	drug, err := svc.CreateDrug(ctx, domain.DrugCreateRequest{
		Name:          " Vitamin C 500mg ",
		CategoryID:    "vitamin",
		Quantity:      40,
		ExpiryDate:    "2030-01-01",
		Supplier:      "PT Sehat",
		PurchasePrice: decimal.NewFromInt(800),
		SellingPrice:  decimal.NewFromInt(1200),
	})
	if err != nil {
		t.Fatalf("create drug failed: %v", err)
	}
	if drug.Name != "Vitamin C 500mg" || drug.Quantity != 40 {
		t.Fatalf("unexpected drug %+v", drug)
	}
	if alertCache.invalidations() != 1 {
		t.Fatalf("expected alert cache to be invalidated once, got %d", alertCache.invalidations())
	}

	logs, err := svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != "drug_create" || logs[0].EntityID != drug.ID || logs[0].ActorUsername != "admin" {
		t.Fatalf("expected drug_create audit entry first, got %+v", logs)
	}
}

func TestUpdateDrugKeepsStockFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	before, err := svc.GetDrug(ctx, "drug-paracetamol-500")
	if err != nil {
		t.Fatalf("get drug failed: %v", err)
	}
	price := decimal.NewFromInt(2500)
	after, err := svc.UpdateDrug(ctx, "drug-paracetamol-500", domain.DrugUpdateRequest{SellingPrice: &price})
	if err != nil {
		t.Fatalf("update drug failed: %v", err)
	}
	if !after.SellingPrice.Equal(price) {
		t.Fatalf("expected selling price %s, got %s", price, after.SellingPrice)
	}
	if after.Quantity != before.Quantity || !after.ExpiryDate.Equal(before.ExpiryDate) {
		t.Fatalf("catalog update must not move stock: before %+v after %+v", before, after)
	}

	empty := "  "
	if _, err := svc.UpdateDrug(ctx, "drug-paracetamol-500", domain.DrugUpdateRequest{Name: &empty}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected blank name to be invalid, got %v", err)
	}
}

func TestRestockInvalidatesAlerts(t *testing.T) {
	svc, alertCache := newTestService(t)
	ctx := adminCtx()

	alertsBefore, err := svc.InventoryAlerts(ctx)
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}
	if !containsDrug(alertsBefore.LowStock, "drug-cetirizine-10") {
		t.Fatalf("expected cetirizine to be low on stock, got %+v", alertsBefore.LowStock)
	}

	drug, err := svc.RestockDrug(ctx, "drug-cetirizine-10", domain.RestockRequest{Quantity: 50})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if drug.Quantity != 58 {
		t.Fatalf("expected quantity 58, got %d", drug.Quantity)
	}
	if alertCache.invalidations() != 1 {
		t.Fatalf("expected one invalidation, got %d", alertCache.invalidations())
	}

	alertsAfter, err := svc.InventoryAlerts(ctx)
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}
	if containsDrug(alertsAfter.LowStock, "drug-cetirizine-10") {
		t.Fatalf("expected cetirizine to leave the low stock list after restock")
	}
}

func TestPaidInvoiceInvalidatesAlertsOnlyWhenStockMoves(t *testing.T) {
	svc, alertCache := newTestService(t)
	ctx := pharmacistCtx()

	unpaid, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin",
		Items:      []domain.InvoiceItemRequest{{DrugID: "drug-amoxicillin-500", Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if unpaid.Fulfillment != nil || alertCache.invalidations() != 0 {
		t.Fatalf("unpaid invoice must not settle or invalidate: %+v", unpaid)
	}

	paid, err := svc.PayInvoice(ctx, unpaid.Invoice.ID)
	if err != nil {
		t.Fatalf("pay failed: %v", err)
	}
	if paid.Fulfillment == nil || paid.Fulfillment.Result != domain.ResultDeducted {
		t.Fatalf("expected deduction, got %+v", paid.Fulfillment)
	}
	if alertCache.invalidations() != 1 {
		t.Fatalf("expected one invalidation after deduction, got %d", alertCache.invalidations())
	}

	again, err := svc.PayInvoice(ctx, unpaid.Invoice.ID)
	if err != nil {
		t.Fatalf("repeat pay failed: %v", err)
	}
	if again.Fulfillment.Result != domain.ResultAlreadySettled || alertCache.invalidations() != 1 {
		t.Fatalf("repeat pay must be a no-op, got %+v with %d invalidations", again.Fulfillment, alertCache.invalidations())
	}

	drug, err := svc.GetDrug(ctx, "drug-amoxicillin-500")
	if err != nil {
		t.Fatalf("get drug failed: %v", err)
	}
	if drug.Quantity != 90 {
		t.Fatalf("expected 90 left, got %d", drug.Quantity)
	}

	rec, err := svc.GetDeduction(ctx, unpaid.Invoice.ID)
	if err != nil || !rec.StockDeducted {
		t.Fatalf("expected deduction record, got %+v err=%v", rec, err)
	}
}

func TestCreateInvoiceRejectsBadRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := pharmacistCtx()

	if _, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{CustomerID: "cust-walkin"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected missing items to be invalid, got %v", err)
	}
	if _, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin",
		Date:       "yesterday",
		Items:      []domain.InvoiceItemRequest{{DrugID: "drug-amoxicillin-500", Quantity: 1}},
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected malformed date to be invalid, got %v", err)
	}
	if _, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin",
		Items:      []domain.InvoiceItemRequest{{DrugID: "drug-amoxicillin-500", Quantity: 0}},
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected zero quantity to be invalid, got %v", err)
	}
}

func TestDuplicateCreateIsNotAuditedTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := pharmacistCtx()
	req := domain.InvoiceCreateRequest{
		CustomerID:     "cust-walkin",
		Status:         domain.InvoicePaid,
		Items:          []domain.InvoiceItemRequest{{DrugID: "drug-paracetamol-500", Quantity: 2}},
		IdempotencyKey: "counter-7-0001",
	}

	first, err := svc.CreateInvoice(ctx, req)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := svc.CreateInvoice(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Duplicate || second.Invoice.ID != first.Invoice.ID {
		t.Fatalf("expected replay to return the original invoice, got %+v", second)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	creates := 0
	for _, entry := range logs {
		if entry.Action == "invoice_create" {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("expected one invoice_create audit entry, got %d", creates)
	}
}

func TestPrescriptionLifecycleThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := pharmacistCtx()

	rx, err := svc.CreatePrescription(ctx, domain.PrescriptionCreateRequest{
		Customer: "Sari Wulandari",
		Date:     "2026-04-02",
		Items:    []domain.PrescriptionItemRequest{{DrugID: "drug-omeprazole-20", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create prescription failed: %v", err)
	}
	if rx.Status != domain.PrescriptionPending {
		t.Fatalf("expected pending prescription, got %s", rx.Status)
	}

	items := []domain.PrescriptionItemRequest{{DrugID: "drug-omeprazole-20", Quantity: 6}}
	rx, err = svc.UpdatePrescription(ctx, rx.ID, domain.PrescriptionUpdateRequest{Items: items})
	if err != nil {
		t.Fatalf("update prescription failed: %v", err)
	}

	resp, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{PrescriptionID: rx.ID, Status: domain.InvoicePaid})
	if err != nil {
		t.Fatalf("create paid invoice failed: %v", err)
	}
	if resp.Invoice.CustomerID != "cust-sari" {
		t.Fatalf("expected customer resolved by name, got %s", resp.Invoice.CustomerID)
	}

	drug, err := svc.GetDrug(ctx, "drug-omeprazole-20")
	if err != nil {
		t.Fatalf("get drug failed: %v", err)
	}
	if drug.Quantity != 34 {
		t.Fatalf("expected 34 left, got %d", drug.Quantity)
	}

	stored, err := svc.GetPrescription(ctx, rx.ID)
	if err != nil {
		t.Fatalf("get prescription failed: %v", err)
	}
	if stored.Status != domain.PrescriptionConfirmed {
		t.Fatalf("expected confirmed prescription, got %s", stored.Status)
	}
	if _, err := svc.UpdatePrescription(ctx, rx.ID, domain.PrescriptionUpdateRequest{Items: items}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected confirmed prescription to be immutable, got %v", err)
	}
}

func TestParseDateFormats(t *testing.T) {
	if got, err := parseDate(""); err != nil || !got.IsZero() {
		t.Fatalf("expected zero time for empty input, got %v %v", got, err)
	}
	got, err := parseDate("2026-04-02")
	if err != nil || got.Format(time.DateOnly) != "2026-04-02" {
		t.Fatalf("expected calendar date, got %v %v", got, err)
	}
	got, err = parseDate("2026-04-02T23:30:00+07:00")
	if err != nil || got.Format(time.DateOnly) != "2026-04-02" {
		t.Fatalf("expected RFC 3339 to normalize to UTC, got %v %v", got, err)
	}
	if _, err := parseDate("02-04-2026"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func containsDrug(alerts []domain.DrugAlert, id string) bool {
	for _, a := range alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}
