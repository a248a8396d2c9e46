package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

// Store is the SQL-backed repository. It speaks both PostgreSQL (through the
// pgx stdlib driver) and SQLite (modernc, pure Go); queries are written with
// '?' placeholders and rebound per driver.
type Store struct {
	db  *sqlx.DB
	d   dialect
	now func() time.Time
}

func Open(ctx context.Context, driverName string, dsn string) (*Store, error) {
	switch driverName {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if driverName == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(8)
		db.SetMaxOpenConns(30)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, d: dialect{driver: driverName}, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside a database transaction at the driver's default
// isolation (READ COMMITTED on PostgreSQL). Consistency comes from row locks
// taken by the Lock* methods and the guarded stock decrement.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	dbTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	if err := fn(&sqlTx{tx: dbTx, d: s.d, now: s.now}); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (s *Store) ListDrugs(ctx context.Context, page domain.ListPage) ([]domain.Drug, error) {
	query := `SELECT ` + drugColumns + ` FROM drugs ORDER BY name, id`
	args := []any{}
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset())
	}
	var rows []drugRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	drugs := make([]domain.Drug, 0, len(rows))
	for _, r := range rows {
		drugs = append(drugs, r.toDomain())
	}
	return drugs, nil
}

func (s *Store) GetDrug(ctx context.Context, id string) (*domain.Drug, error) {
	var row drugRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+drugColumns+` FROM drugs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("drug", id)
		}
		return nil, err
	}
	drug := row.toDomain()
	return &drug, nil
}

func (s *Store) CreateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error) {
	if drug.ID == "" || drug.Name == "" || drug.Quantity < 0 {
		return nil, store.InvalidInput("drug id, name and a non-negative quantity are required")
	}
	now := s.now()
	drug.ExpiryDate = domain.DateOf(drug.ExpiryDate)
	drug.CreatedAt = now
	drug.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO drugs (`+drugColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`), drug.ID, drug.Name, drug.CategoryID, drug.Quantity, s.d.date(drug.ExpiryDate),
		drug.PurchasePrice, drug.SellingPrice, drug.Supplier, nullIfEmpty(drug.Description),
		s.d.ts(now), s.d.ts(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &drug, nil
}

func (s *Store) UpdateDrugDetails(ctx context.Context, drug domain.Drug) (*domain.Drug, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE drugs
		SET name = ?, category_id = ?, supplier = ?, purchase_price = ?, selling_price = ?, description = ?, updated_at = ?
		WHERE id = ?
	`), drug.Name, drug.CategoryID, drug.Supplier, drug.PurchasePrice, drug.SellingPrice,
		nullIfEmpty(drug.Description), s.d.ts(s.now()), drug.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.NotFound("drug", drug.ID)
	}
	return s.GetDrug(ctx, drug.ID)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.InvalidInput("customer id and name are required")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO customers (`+customerColumns+`) VALUES (?,?,?,?,?)
	`), customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address), s.d.ts(customer.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func (s *Store) GetPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return getPrescription(ctx, s.db, id, "")
}

func (s *Store) ListPrescriptions(ctx context.Context, page domain.ListPage) ([]domain.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions ORDER BY created_at DESC, id`
	args := []any{}
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset())
	}
	var rows []prescriptionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	items, err := loadItems(ctx, s.db, "prescription_items", "prescription_id", ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prescription, 0, len(rows))
	for _, r := range rows {
		p := r.toDomain()
		p.Items = items[r.ID]
		if p.Items == nil {
			p.Items = []domain.LineItem{}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return getInvoice(ctx, s.db, "id", id, "")
}

func (s *Store) ListInvoices(ctx context.Context, page domain.ListPage) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY created_at DESC, id`
	args := []any{}
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset())
	}
	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	items, err := loadItems(ctx, s.db, "invoice_items", "invoice_id", ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Invoice, 0, len(rows))
	for _, r := range rows {
		inv := r.toDomain()
		inv.Items = items[r.ID]
		if inv.Items == nil {
			inv.Items = []domain.LineItem{}
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *Store) GetDeductionRecord(ctx context.Context, invoiceID string) (*domain.DeductionRecord, error) {
	return getDeduction(ctx, s.db, invoiceID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" || entry.Action == "" {
		return store.InvalidInput("audit log id and action are required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`), entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, s.d.ts(entry.CreatedAt))
	return err
}

type auditRow struct {
	ID            string `db:"id"`
	ActorUsername string `db:"actor_username"`
	ActorRole     string `db:"actor_role"`
	Action        string `db:"action"`
	EntityType    string `db:"entity_type"`
	EntityID      string `db:"entity_id"`
	Detail        string `db:"detail"`
	CreatedAt     dbTime `db:"created_at"`
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.AuditLog{
			ID:            r.ID,
			ActorUsername: r.ActorUsername,
			ActorRole:     r.ActorRole,
			Action:        r.Action,
			EntityType:    r.EntityType,
			EntityID:      r.EntityID,
			Detail:        r.Detail,
			CreatedAt:     r.CreatedAt.Time,
		})
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.InvalidInput("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RolePharmacist
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES (?,?,?,?,?)
	`), username, user.Password, user.Role, true, s.d.ts(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var row struct {
		Username  string `db:"username"`
		Password  string `db:"password_hash"`
		Role      string `db:"role"`
		Active    bool   `db:"active"`
		CreatedAt dbTime `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT username, password_hash, role, active, created_at
		FROM users
		WHERE username = ?
	`), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("user", username)
		}
		return nil, err
	}
	return &domain.UserAccount{
		Username:  row.Username,
		Password:  row.Password,
		Role:      row.Role,
		Active:    row.Active,
		CreatedAt: row.CreatedAt.Time,
	}, nil
}
