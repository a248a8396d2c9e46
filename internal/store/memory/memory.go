package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

// Store keeps everything in process. A unit of work holds the write lock for
// its whole duration, so units of work never interleave.
type Store struct {
	mu              sync.RWMutex
	drugs           map[string]domain.Drug
	customers       map[string]domain.Customer
	prescriptions   map[string]domain.Prescription
	invoices        map[string]domain.Invoice
	invoicesByIdem  map[string]string
	deductions      map[string]domain.DeductionRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	now             func() time.Time
}

func New() *Store {
	return &Store{
		drugs:           make(map[string]domain.Drug),
		customers:       make(map[string]domain.Customer),
		prescriptions:   make(map[string]domain.Prescription),
		invoices:        make(map[string]domain.Invoice),
		invoicesByIdem:  make(map[string]string),
		deductions:      make(map[string]domain.DeductionRecord),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD,
// falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	pharmacistPwd := envOr("SEED_PHARMACIST_PASSWORD", "pharmacist123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PHARMACIST_PASSWORD") == "" {
		logrus.WithField("module", "memory").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"apoteker", pharmacistPwd, domain.RolePharmacist},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("module", "memory").WithError(err).Fatalf("failed to hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := s.now()
	today := domain.DateOf(now)
	months := func(n int) time.Time { return today.AddDate(0, n, 0) }

	drugs := []domain.Drug{
		{ID: "drug-amoxicillin-500", Name: "Amoxicillin 500mg", CategoryID: "antibiotic", Quantity: 100, ExpiryDate: months(18), PurchasePrice: decimal.RequireFromString("1200"), SellingPrice: decimal.RequireFromString("1800"), Supplier: "PT Kimia Farma"},
		{ID: "drug-paracetamol-500", Name: "Paracetamol 500mg", CategoryID: "analgesic", Quantity: 250, ExpiryDate: months(24), PurchasePrice: decimal.RequireFromString("350"), SellingPrice: decimal.RequireFromString("600"), Supplier: "PT Kalbe Farma"},
		{ID: "drug-cetirizine-10", Name: "Cetirizine 10mg", CategoryID: "antihistamine", Quantity: 8, ExpiryDate: months(12), PurchasePrice: decimal.RequireFromString("900"), SellingPrice: decimal.RequireFromString("1500"), Supplier: "PT Dexa Medica"},
		{ID: "drug-omeprazole-20", Name: "Omeprazole 20mg", CategoryID: "antacid", Quantity: 40, ExpiryDate: today.AddDate(0, 0, 5), PurchasePrice: decimal.RequireFromString("1500"), SellingPrice: decimal.RequireFromString("2300"), Supplier: "PT Kalbe Farma"},
		{ID: "drug-ibuprofen-400", Name: "Ibuprofen 400mg", CategoryID: "analgesic", Quantity: 30, ExpiryDate: today.AddDate(0, 0, -3), PurchasePrice: decimal.RequireFromString("700"), SellingPrice: decimal.RequireFromString("1100"), Supplier: "PT Sanbe Farma"},
	}
	for _, d := range drugs {
		d.CreatedAt = now
		d.UpdatedAt = now
		s.drugs[d.ID] = d
	}
	for _, c := range []domain.Customer{
		{ID: "cust-walkin", Name: "Walk-in Customer"},
		{ID: "cust-sari", Name: "Sari Wulandari", Phone: "081234567890", Address: "Jl. Melati 12, Bandung"},
	} {
		c.CreatedAt = now
		s.customers[c.ID] = c
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// The mutex wait cannot be cancelled, so the deadline is re-checked once
	// it is held and again before anything is applied.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) ListDrugs(_ context.Context, page domain.ListPage) ([]domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drugs := make([]domain.Drug, 0, len(s.drugs))
	for _, d := range s.drugs {
		drugs = append(drugs, d)
	}
	slices.SortFunc(drugs, func(a, b domain.Drug) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return paginate(drugs, page), nil
}

func (s *Store) GetDrug(_ context.Context, id string) (*domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drug, ok := s.drugs[id]
	if !ok {
		return nil, store.NotFound("drug", id)
	}
	return &drug, nil
}

func (s *Store) CreateDrug(_ context.Context, drug domain.Drug) (*domain.Drug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if drug.ID == "" || drug.Name == "" || drug.Quantity < 0 {
		return nil, store.InvalidInput("drug id, name and a non-negative quantity are required")
	}
	if _, exists := s.drugs[drug.ID]; exists {
		return nil, store.ErrConflict
	}
	now := s.now()
	drug.ExpiryDate = domain.DateOf(drug.ExpiryDate)
	drug.CreatedAt = now
	drug.UpdatedAt = now
	s.drugs[drug.ID] = drug
	created := drug
	return &created, nil
}

// UpdateDrugDetails rewrites catalog fields. Quantity and expiry are kept.
func (s *Store) UpdateDrugDetails(_ context.Context, drug domain.Drug) (*domain.Drug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.drugs[drug.ID]
	if !ok {
		return nil, store.NotFound("drug", drug.ID)
	}
	current.Name = drug.Name
	current.CategoryID = drug.CategoryID
	current.Supplier = drug.Supplier
	current.PurchasePrice = drug.PurchasePrice
	current.SellingPrice = drug.SellingPrice
	current.Description = drug.Description
	current.UpdatedAt = s.now()
	s.drugs[drug.ID] = current
	updated := current
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.InvalidInput("customer id and name are required")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = s.now()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.NotFound("customer", id)
	}
	return &customer, nil
}

func (s *Store) GetPrescription(_ context.Context, id string) (*domain.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prescriptions[id]
	if !ok {
		return nil, store.NotFound("prescription", id)
	}
	dup := p.Clone()
	return &dup, nil
}

func (s *Store) ListPrescriptions(_ context.Context, page domain.ListPage) ([]domain.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Prescription, 0, len(s.prescriptions))
	for _, p := range s.prescriptions {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Prescription) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return paginate(out, page), nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, store.NotFound("invoice", id)
	}
	dup := inv.Clone()
	return &dup, nil
}

func (s *Store) ListInvoices(_ context.Context, page domain.ListPage) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, inv.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Invoice) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return paginate(out, page), nil
}

func (s *Store) GetDeductionRecord(_ context.Context, invoiceID string) (*domain.DeductionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.deductions[invoiceID]
	if !ok {
		return nil, store.NotFound("deduction", invoiceID)
	}
	return &rec, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" || entry.Action == "" {
		return store.InvalidInput("audit log id and action are required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		out = append(out, s.auditLogs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.InvalidInput("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RolePharmacist
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.NotFound("user", username)
	}
	return &user, nil
}

func paginate[T any](items []T, page domain.ListPage) []T {
	if page.Limit <= 0 {
		return items
	}
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+page.Limit, len(items))
	return items[start:end]
}

func newestFirst(a, b time.Time, aID, bID string) int {
	if c := b.Compare(a); c != 0 {
		return c
	}
	return strings.Compare(aID, bID)
}
