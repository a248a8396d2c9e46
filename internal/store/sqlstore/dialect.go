package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"apotek/backend/internal/domain"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// sqlite keeps timestamps as fixed-width UTC text so they sort lexically.
const (
	sqliteTimeLayout = "2006-01-02 15:04:05.000000000"
	sqliteDateLayout = time.DateOnly
)

type dialect struct {
	driver string
}

func (d dialect) postgres() bool { return d.driver == DriverPostgres }

// forUpdate is appended to row-locking selects. SQLite has no row locks; its
// single connection already serializes units of work.
func (d dialect) forUpdate() string {
	if d.postgres() {
		return " FOR UPDATE"
	}
	return ""
}

func (d dialect) ts(t time.Time) any {
	if d.postgres() {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func (d dialect) date(t time.Time) any {
	if d.postgres() {
		return domain.DateOf(t)
	}
	return domain.DateOf(t).Format(sqliteDateLayout)
}

func (d dialect) nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.ts(*t)
}

// ddl expands the type placeholders used by the schema statements.
func (d dialect) ddl(stmt string) string {
	var r *strings.Replacer
	if d.postgres() {
		r = strings.NewReplacer("{money}", "NUMERIC(14,2)", "{ts}", "TIMESTAMPTZ", "{date}", "DATE", "{bool}", "BOOLEAN")
	} else {
		r = strings.NewReplacer("{money}", "TEXT", "{ts}", "TEXT", "{date}", "TEXT", "{bool}", "INTEGER")
	}
	return r.Replace(stmt)
}

// dbTime scans both native timestamps (pgx) and the text form sqlite stores.
type dbTime struct {
	time.Time
}

var dbTimeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	sqliteDateLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (t *dbTime) parse(raw string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unrecognised time %q", raw)
}

func (t dbTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// queryer is the read/write surface shared by *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}
