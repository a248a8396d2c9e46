package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"apotek/backend/internal/alerts"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/fulfillment"
	"apotek/backend/internal/invoice"
	"apotek/backend/internal/ledger"
	"apotek/backend/internal/lock"
	"apotek/backend/internal/prescription"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Dependencies struct {
	Repo   store.Repository
	Locker lock.Locker
	Alerts *alerts.Engine
	Logger *logrus.Logger
	// FulfillmentTimeout bounds each invoice unit of work including the wait
	// for the invoice lock.
	FulfillmentTimeout time.Duration
	Now                func() time.Time
}

type Service struct {
	repo          store.Repository
	ledger        *ledger.Ledger
	prescriptions *prescription.Machine
	coordinator   *fulfillment.Coordinator
	alerts        *alerts.Engine
	validate      *validator.Validate
	logger        *logrus.Logger
	now           func() time.Time
}

func New(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewEngine(nil, alerts.Options{Now: deps.Now})
	}

	stock := ledger.New().WithClock(deps.Now)
	prescriptions := prescription.New().WithClock(deps.Now)
	invoices := invoice.New().WithClock(deps.Now)
	coordinator := fulfillment.New(deps.Repo, deps.Locker, stock, invoices, prescriptions, deps.Logger, fulfillment.Options{
		Timeout: deps.FulfillmentTimeout,
		Now:     deps.Now,
	})

	return &Service{
		repo:          deps.Repo,
		ledger:        stock,
		prescriptions: prescriptions,
		coordinator:   coordinator,
		alerts:        deps.Alerts,
		validate:      validator.New(),
		logger:        deps.Logger,
		now:           deps.Now,
	}
}

func (s *Service) ListDrugs(ctx context.Context, page domain.ListPage) ([]domain.Drug, error) {
	return s.repo.ListDrugs(ctx, page)
}

func (s *Service) GetDrug(ctx context.Context, id string) (domain.Drug, error) {
	drug, err := s.repo.GetDrug(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Drug{}, err
	}
	return *drug, nil
}

func (s *Service) CreateDrug(ctx context.Context, req domain.DrugCreateRequest) (domain.Drug, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Drug{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Drug{}, err
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.Drug{}, err
	}
	if req.PurchasePrice.IsNegative() || req.SellingPrice.IsNegative() {
		return domain.Drug{}, store.InvalidInput("prices cannot be negative")
	}

	created, err := s.repo.CreateDrug(ctx, domain.Drug{
		ID:            xid.New("drug"),
		Name:          strings.TrimSpace(req.Name),
		CategoryID:    strings.TrimSpace(req.CategoryID),
		Quantity:      req.Quantity,
		ExpiryDate:    expiry,
		PurchasePrice: req.PurchasePrice,
		SellingPrice:  req.SellingPrice,
		Supplier:      strings.TrimSpace(req.Supplier),
		Description:   strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Drug{}, err
	}
	s.invalidateAlerts(ctx, "drug_create")
	s.logAudit(ctx, "drug_create", "drug", created.ID, fmt.Sprintf("name=%s,qty=%d,expiry=%s", created.Name, created.Quantity, created.ExpiryDate.Format(time.DateOnly)))
	return *created, nil
}

func (s *Service) UpdateDrug(ctx context.Context, id string, req domain.DrugUpdateRequest) (domain.Drug, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Drug{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Drug{}, err
	}
	existing, err := s.repo.GetDrug(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Drug{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Drug{}, store.InvalidInput("name cannot be empty")
		}
		updated.Name = name
	}
	if req.CategoryID != nil {
		updated.CategoryID = strings.TrimSpace(*req.CategoryID)
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.PurchasePrice != nil {
		if req.PurchasePrice.IsNegative() {
			return domain.Drug{}, store.InvalidInput("purchase price cannot be negative")
		}
		updated.PurchasePrice = *req.PurchasePrice
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.IsNegative() {
			return domain.Drug{}, store.InvalidInput("selling price cannot be negative")
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}

	saved, err := s.repo.UpdateDrugDetails(ctx, updated)
	if err != nil {
		return domain.Drug{}, err
	}
	s.invalidateAlerts(ctx, "drug_update")
	s.logAudit(ctx, "drug_update", "drug", saved.ID, fmt.Sprintf("purchase_price=%s,selling_price=%s", saved.PurchasePrice, saved.SellingPrice))
	return *saved, nil
}

func (s *Service) RestockDrug(ctx context.Context, id string, req domain.RestockRequest) (domain.Drug, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Drug{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Drug{}, err
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.Drug{}, err
	}

	var drug *domain.Drug
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		restocked, err := s.ledger.Restock(ctx, tx, strings.TrimSpace(id), req.Quantity, expiry)
		if err != nil {
			return err
		}
		drug = restocked
		return nil
	})
	if err != nil {
		return domain.Drug{}, err
	}
	s.invalidateAlerts(ctx, "drug_restock")
	s.logAudit(ctx, "drug_restock", "drug", drug.ID, fmt.Sprintf("qty=+%d,on_hand=%d,expiry=%s", req.Quantity, drug.Quantity, drug.ExpiryDate.Format(time.DateOnly)))
	return *drug, nil
}

func (s *Service) InventoryAlerts(ctx context.Context) (domain.InventoryAlerts, error) {
	return s.alerts.Alerts(ctx, func(ctx context.Context) ([]domain.Drug, error) {
		return s.repo.ListDrugs(ctx, domain.ListPage{})
	})
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreatePrescription(ctx context.Context, req domain.PrescriptionCreateRequest) (domain.Prescription, error) {
	if err := s.check(req); err != nil {
		return domain.Prescription{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.Prescription{}, err
	}

	var created *domain.Prescription
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		p, err := s.prescriptions.Create(ctx, tx, prescription.Draft{
			Customer: req.Customer,
			Date:     date,
			Items:    prescriptionLines(req.Items),
		})
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return domain.Prescription{}, err
	}
	s.logAudit(ctx, "prescription_create", "prescription", created.ID, fmt.Sprintf("customer=%s,items=%d,total=%s", created.Customer, len(created.Items), created.Total))
	return *created, nil
}

func (s *Service) UpdatePrescription(ctx context.Context, id string, req domain.PrescriptionUpdateRequest) (domain.Prescription, error) {
	if err := s.check(req); err != nil {
		return domain.Prescription{}, err
	}
	changes := prescription.Changes{Customer: req.Customer}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return domain.Prescription{}, err
		}
		changes.Date = &date
	}
	if req.Items != nil {
		changes.Items = prescriptionLines(req.Items)
	}

	var updated *domain.Prescription
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		p, err := s.prescriptions.Edit(ctx, tx, strings.TrimSpace(id), changes)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return domain.Prescription{}, err
	}
	s.logAudit(ctx, "prescription_update", "prescription", updated.ID, fmt.Sprintf("items=%d,total=%s", len(updated.Items), updated.Total))
	return *updated, nil
}

func (s *Service) GetPrescription(ctx context.Context, id string) (domain.Prescription, error) {
	p, err := s.repo.GetPrescription(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Prescription{}, err
	}
	return *p, nil
}

func (s *Service) ListPrescriptions(ctx context.Context, page domain.ListPage) ([]domain.Prescription, error) {
	return s.repo.ListPrescriptions(ctx, page)
}

// CreateInvoice is the first of the three ways an invoice can become PAID.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.InvoiceResponse, error) {
	if err := s.check(req); err != nil {
		return domain.InvoiceResponse{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}
	if req.PrescriptionID == "" && len(req.Items) == 0 {
		return domain.InvoiceResponse{}, store.InvalidInput("items are required when no prescription is referenced")
	}

	result, err := s.coordinator.CreateInvoice(ctx, invoice.Draft{
		CustomerID:     strings.TrimSpace(req.CustomerID),
		PrescriptionID: strings.TrimSpace(req.PrescriptionID),
		Date:           date,
		Items:          req.Items,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}, req.Status)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	resp := domain.InvoiceResponse{Invoice: result.Invoice, Duplicate: result.Duplicate, Fulfillment: result.Outcome}
	if result.Duplicate {
		return resp, nil
	}
	s.afterSettle(ctx, result.Outcome)
	s.logAudit(ctx, "invoice_create", "invoice", result.Invoice.ID, fmt.Sprintf("status=%s,total=%s,prescription=%s", result.Invoice.Status, result.Invoice.Total, result.Invoice.PrescriptionID))
	return resp, nil
}

// PayInvoice is the dedicated payment action.
func (s *Service) PayInvoice(ctx context.Context, id string) (domain.InvoiceResponse, error) {
	inv, outcome, err := s.coordinator.Pay(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.InvoiceResponse{}, err
	}
	s.afterSettle(ctx, outcome)
	s.logAudit(ctx, "invoice_pay", "invoice", inv.ID, "result="+outcome.Result)
	return domain.InvoiceResponse{Invoice: *inv, Fulfillment: outcome}, nil
}

// UpdateInvoice edits an invoice; setting status PAID settles it.
func (s *Service) UpdateInvoice(ctx context.Context, id string, req domain.InvoiceUpdateRequest) (domain.InvoiceResponse, error) {
	if err := s.check(req); err != nil {
		return domain.InvoiceResponse{}, err
	}
	changes := fulfillment.Changes{
		CustomerID: req.CustomerID,
		Status:     req.Status,
		Items:      req.Items,
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return domain.InvoiceResponse{}, err
		}
		changes.Date = &date
	}

	inv, outcome, err := s.coordinator.UpdateInvoice(ctx, strings.TrimSpace(id), changes)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}
	s.afterSettle(ctx, outcome)
	detail := fmt.Sprintf("status=%s,total=%s", inv.Status, inv.Total)
	if outcome != nil {
		detail += ",result=" + outcome.Result
	}
	s.logAudit(ctx, "invoice_update", "invoice", inv.ID, detail)
	return domain.InvoiceResponse{Invoice: *inv, Fulfillment: outcome}, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, page domain.ListPage) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, page)
}

func (s *Service) GetDeduction(ctx context.Context, invoiceID string) (domain.DeductionRecord, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return domain.DeductionRecord{}, err
	}
	rec, err := s.repo.GetDeductionRecord(ctx, invoiceID)
	if err != nil {
		return domain.DeductionRecord{}, err
	}
	return *rec, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) afterSettle(ctx context.Context, outcome *domain.FulfillmentOutcome) {
	if outcome == nil || outcome.Result != domain.ResultDeducted {
		return
	}
	s.invalidateAlerts(ctx, "stock_deduct")
}

func (s *Service) invalidateAlerts(ctx context.Context, action string) {
	if err := s.alerts.Invalidate(ctx); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "service",
			"action": action,
			"entity": "inventory_alerts",
		}).WithError(err).Warn("failed to invalidate alert cache")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":    "audit",
			"action":    action,
			"entity":    entityType,
			"entity_id": entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return store.InvalidInput("%v", err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s:%s", fe.Namespace(), fe.Tag()))
	}
	return store.InvalidInput("validation failed (%s)", strings.Join(parts, ", "))
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty input
// yields the zero time, which callers treat as "today".
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.DateOnly, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, store.InvalidInput("date %q must be YYYY-MM-DD or RFC 3339", raw)
	}
	return parsed.UTC(), nil
}

func prescriptionLines(items []domain.PrescriptionItemRequest) []domain.StockAdjustment {
	lines := make([]domain.StockAdjustment, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.StockAdjustment{DrugID: strings.TrimSpace(item.DrugID), Quantity: item.Quantity})
	}
	return lines
}
