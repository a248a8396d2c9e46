package prescription_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/prescription"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/storetest"
)

var nextYear = time.Now().UTC().AddDate(1, 0, 0)

func createRx(t *testing.T, repo store.Repository, m *prescription.Machine, draft prescription.Draft) *domain.Prescription {
	t.Helper()
	var rx *domain.Prescription
	err := storetest.InTx(repo, func(ctx context.Context, tx store.Tx) error {
		var err error
		rx, err = m.Create(ctx, tx, draft)
		return err
	})
	require.NoError(t, err)
	return rx
}

func TestCreateSnapshotsPurchasePrice(t *testing.T) {
	storetest.Each(t, func(t *testing.T, repo store.Repository) {
		storetest.MustCreateDrug(t, repo, storetest.Drug("drug-a", 10, nextYear))
		m := prescription.New()

		rx := createRx(t, repo, m, prescription.Draft{
			Customer: "  Sari  ",
			Items:    []domain.StockAdjustment{{DrugID: "drug-a", Quantity: 3}},
		})
		require.Equal(t, "Sari", rx.Customer)
		require.Equal(t, domain.PrescriptionPending, rx.Status)
		require.True(t, rx.Items[0].UnitPrice.Equal(decimal.NewFromInt(1000)))
		require.True(t, rx.Total.Equal(decimal.NewFromInt(3000)))

		drug, err := repo.GetDrug(context.Background(), "drug-a")
		require.NoError(t, err)
		drug.PurchasePrice = decimal.NewFromInt(4000)
		_, err = repo.UpdateDrugDetails(context.Background(), *drug)
		require.NoError(t, err)

		stored, err := repo.GetPrescription(context.Background(), rx.ID)
		require.NoError(t, err)
		require.True(t, stored.Total.Equal(decimal.NewFromInt(3000)), "catalog price changes must not reach a stored prescription")
		require.Equal(t, 10, storetest.Quantity(t, repo, "drug-a"), "creating a prescription never touches stock")
	})
}

func TestCreateRejectsBadDrafts(t *testing.T) {
	storetest.Each(t, func(t *testing.T, repo store.Repository) {
		storetest.MustCreateDrug(t, repo, storetest.Drug("drug-a", 10, nextYear))
		m := prescription.New()

		cases := map[string]prescription.Draft{
			"blank customer": {Customer: " ", Items: []domain.StockAdjustment{{DrugID: "drug-a", Quantity: 1}}},
			"no items":       {Customer: "Sari"},
			"zero quantity":  {Customer: "Sari", Items: []domain.StockAdjustment{{DrugID: "drug-a", Quantity: 0}}},
		}
		for name, draft := range cases {
			err := storetest.InTx(repo, func(ctx context.Context, tx store.Tx) error {
				_, err := m.Create(ctx, tx, draft)
				return err
			})
			require.ErrorIs(t, err, store.ErrInvalidInput, name)
		}

		err := storetest.InTx(repo, func(ctx context.Context, tx store.Tx) error {
			_, err := m.Create(ctx, tx, prescription.Draft{Customer: "Sari", Items: []domain.StockAdjustment{{DrugID: "drug-ghost", Quantity: 1}}})
			return err
		})
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestEditPendingPrescription(t *testing.T) {
	storetest.Each(t, func(t *testing.T, repo store.Repository) {
		storetest.MustCreateDrug(t, repo, storetest.Drug("drug-a", 10, nextYear))
		storetest.MustCreateDrug(t, repo, storetest.Drug("drug-b", 10, nextYear))
		m := prescription.New()
		rx := createRx(t, repo, m, prescription.Draft{
			Customer: "Sari",
			Items:    []domain.StockAdjustment{{DrugID: "drug-a", Quantity: 1}},
		})

		customer := "Budi"
		date := time.Date(2026, 2, 1, 15, 30, 0, 0, time.UTC)
		var edited *domain.Prescription
		err := storetest.InTx(repo, func(ctx context.Context, tx store.Tx) error {
			var err error
			edited, err = m.Edit(ctx, tx, rx.ID, prescription.Changes{
				Customer: &customer,
				Date:     &date,
				Items:    []domain.StockAdjustment{{DrugID: "drug-b", Quantity: 2}, {DrugID: "drug-a", Quantity: 1}},
			})
			return err
		})
		require.NoError(t, err)
		require.Equal(t, "Budi", edited.Customer)
		require.True(t, edited.Date.Equal(domain.DateOf(date)))
		require.Len(t, edited.Items, 2)
		require.True(t, edited.Total.Equal(decimal.NewFromInt(3000)))

		stored, err := repo.GetPrescription(context.Background(), rx.ID)
		require.NoError(t, err)
		require.Equal(t, "drug-b", stored.Items[0].DrugID)
		require.True(t, stored.Total.Equal(decimal.NewFromInt(3000)))
	})
}

func TestConfirmedPrescriptionIsImmutable(t *testing.T) {
	storetest.Each(t, func(t *testing.T, repo store.Repository) {
		storetest.MustCreateDrug(t, repo, storetest.Drug("drug-a", 10, nextYear))
		m := prescription.New()
		rx := createRx(t, repo, m, prescription.Draft{
			Customer: "Sari",
			Items:    []domain.StockAdjustment{{DrugID: "drug-a", Quantity: 1}},
		})

		var first, second bool
		err := storetest.InTx(repo, func(ctx context.Context, tx store.Tx) error {
			locked, err := tx.LockPrescription(ctx, rx.ID)
			if err != nil {
				return err
			}
			if first, err = m.Confirm(ctx, tx, locked); err != nil {
				return err
			}
			second, err = m.Confirm(ctx, tx, locked)
			return err
		})
		require.NoError(t, err)
		require.True(t, first)
		require.False(t, second, "confirming twice is a no-op")

		customer := "Budi"
		err = storetest.InTx(repo, func(ctx context.Context, tx store.Tx) error {
			_, err := m.Edit(ctx, tx, rx.ID, prescription.Changes{Customer: &customer})
			return err
		})
		var stateErr *store.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		require.Equal(t, "prescription", stateErr.Entity)

		stored, err := repo.GetPrescription(context.Background(), rx.ID)
		require.NoError(t, err)
		require.Equal(t, domain.PrescriptionConfirmed, stored.Status)
		require.Equal(t, "Sari", stored.Customer)
	})
}
