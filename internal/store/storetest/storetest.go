// Package storetest provides repositories and fixtures for tests that should
// hold for every store implementation.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/memory"
	"apotek/backend/internal/store/sqlstore"
)

type Backend struct {
	Name string
	Repo store.Repository
}

// Backends returns a fresh in-memory store and a fresh SQLite database.
func Backends(t testing.TB) []Backend {
	t.Helper()
	return []Backend{
		{Name: "memory", Repo: memory.New()},
		{Name: "sqlite", Repo: OpenSQLite(t)},
	}
}

// Each runs fn as a subtest against every backend.
func Each(t *testing.T, fn func(t *testing.T, repo store.Repository)) {
	t.Helper()
	for _, b := range Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			fn(t, b.Repo)
		})
	}
}

func OpenSQLite(t testing.TB) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "apotek.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

// Drug builds a drug with fixed prices: purchase 1000, selling 1500.
func Drug(id string, qty int, expiry time.Time) domain.Drug {
	return domain.Drug{
		ID:            id,
		Name:          id,
		CategoryID:    "general",
		Quantity:      qty,
		ExpiryDate:    domain.DateOf(expiry),
		PurchasePrice: decimal.NewFromInt(1000),
		SellingPrice:  decimal.NewFromInt(1500),
		Supplier:      "PT Test Farma",
	}
}

func MustCreateDrug(t testing.TB, repo store.Repository, drug domain.Drug) domain.Drug {
	t.Helper()
	created, err := repo.CreateDrug(context.Background(), drug)
	require.NoError(t, err)
	return *created
}

func MustCreateCustomer(t testing.TB, repo store.Repository, id, name string) domain.Customer {
	t.Helper()
	created, err := repo.CreateCustomer(context.Background(), domain.Customer{ID: id, Name: name, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	return *created
}

func Quantity(t testing.TB, repo store.Repository, drugID string) int {
	t.Helper()
	drug, err := repo.GetDrug(context.Background(), drugID)
	require.NoError(t, err)
	return drug.Quantity
}

// InTx runs fn in a unit of work and returns its error.
func InTx(repo store.Repository, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx := context.Background()
	return repo.RunInTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) })
}
