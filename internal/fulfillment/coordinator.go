// Package fulfillment is the single place where an invoice becomes PAID.
// Every entry point (create already paid, pay, edit to PAID) runs through
// the Coordinator so stock is deducted exactly once per invoice.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/invoice"
	"apotek/backend/internal/ledger"
	"apotek/backend/internal/lock"
	"apotek/backend/internal/prescription"
	"apotek/backend/internal/store"
)

const defaultTimeout = 10 * time.Second

type Options struct {
	// Timeout bounds lock acquisition plus the unit of work.
	Timeout time.Duration
	Now     func() time.Time
}

type Coordinator struct {
	repo          store.Repository
	locker        lock.Locker
	ledger        *ledger.Ledger
	invoices      *invoice.Machine
	prescriptions *prescription.Machine
	logger        *logrus.Logger
	timeout       time.Duration
	now           func() time.Time
}

func New(
	repo store.Repository,
	locker lock.Locker,
	stock *ledger.Ledger,
	invoices *invoice.Machine,
	prescriptions *prescription.Machine,
	logger *logrus.Logger,
	opts Options,
) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		repo:          repo,
		locker:        locker,
		ledger:        stock,
		invoices:      invoices,
		prescriptions: prescriptions,
		logger:        logger,
		timeout:       opts.Timeout,
		now:           opts.Now,
	}
}

// CreateResult is what CreateInvoice hands back. Duplicate is set when the
// idempotency key matched an earlier invoice, which is returned unchanged.
type CreateResult struct {
	Invoice   domain.Invoice
	Outcome   *domain.FulfillmentOutcome
	Duplicate bool
}

// CreateInvoice creates an invoice and, when status is PAID, settles it in
// the same unit of work. A stock failure leaves no invoice behind.
func (c *Coordinator) CreateInvoice(ctx context.Context, draft invoice.Draft, status domain.InvoiceStatus) (*CreateResult, error) {
	if status == "" {
		status = domain.InvoiceUnpaid
	}
	if !status.Valid() {
		return nil, store.InvalidInput("unknown invoice status %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if draft.IdempotencyKey != "" {
		release, err := c.acquire(ctx, "invoice-key:"+draft.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var result CreateResult
	err := c.repo.RunInTx(ctx, func(tx store.Tx) error {
		result = CreateResult{}
		if draft.IdempotencyKey != "" {
			existing, err := tx.FindInvoiceByIdempotency(ctx, draft.IdempotencyKey)
			if err == nil {
				result.Invoice = *existing
				result.Duplicate = true
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		inv, err := c.invoices.Create(ctx, tx, draft)
		if err != nil {
			return err
		}
		if status == domain.InvoicePaid {
			outcome, err := c.settle(ctx, tx, inv)
			if err != nil {
				return err
			}
			result.Outcome = outcome
		}
		result.Invoice = *inv
		return nil
	})
	if err != nil {
		return nil, timedOut(err, "invoice create")
	}
	if result.Outcome != nil {
		c.logOutcome("create_paid", result.Outcome)
	}
	return &result, nil
}

// Pay marks an invoice PAID, deducting stock if it is still owed. Paying an
// already settled invoice succeeds without side effects.
func (c *Coordinator) Pay(ctx context.Context, invoiceID string) (*domain.Invoice, *domain.FulfillmentOutcome, error) {
	return c.withInvoice(ctx, invoiceID, "pay", func(ctx context.Context, tx store.Tx, inv *domain.Invoice) (*domain.FulfillmentOutcome, error) {
		return c.settle(ctx, tx, inv)
	})
}

// Changes is an invoice edit. Nil fields are left untouched; a non-nil
// Items replaces the item list.
type Changes struct {
	CustomerID *string
	Date       *time.Time
	Status     *domain.InvoiceStatus
	Items      []domain.InvoiceItemRequest
}

// UpdateInvoice edits an invoice. Moving it to PAID settles it in the same
// unit of work as the edit; PAID invoices keep their items and status.
func (c *Coordinator) UpdateInvoice(ctx context.Context, invoiceID string, changes Changes) (*domain.Invoice, *domain.FulfillmentOutcome, error) {
	if changes.Status != nil && !changes.Status.Valid() {
		return nil, nil, store.InvalidInput("unknown invoice status %q", *changes.Status)
	}
	return c.withInvoice(ctx, invoiceID, "update", func(ctx context.Context, tx store.Tx, inv *domain.Invoice) (*domain.FulfillmentOutcome, error) {
		if inv.Status == domain.InvoicePaid {
			if changes.Items != nil {
				return nil, &store.InvalidStateError{Entity: "invoice", ID: inv.ID, From: string(inv.Status), Action: "replace_items"}
			}
			if changes.Status != nil && *changes.Status == domain.InvoiceUnpaid {
				return nil, &store.InvalidStateError{Entity: "invoice", ID: inv.ID, From: string(inv.Status), Action: "mark_unpaid"}
			}
		}

		if err := c.invoices.UpdateDetails(ctx, tx, inv, changes.CustomerID, changes.Date); err != nil {
			return nil, err
		}
		if changes.Items != nil {
			if err := c.invoices.ReplaceItems(ctx, tx, inv, changes.Items); err != nil {
				return nil, err
			}
		}
		if changes.Status != nil && *changes.Status == domain.InvoicePaid {
			return c.settle(ctx, tx, inv)
		}
		return nil, nil
	})
}

type invoiceStep func(ctx context.Context, tx store.Tx, inv *domain.Invoice) (*domain.FulfillmentOutcome, error)

// withInvoice serializes work on one invoice: the keyed lock first, then a
// unit of work holding the invoice row.
func (c *Coordinator) withInvoice(ctx context.Context, invoiceID string, action string, step invoiceStep) (*domain.Invoice, *domain.FulfillmentOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	release, err := c.acquire(ctx, "invoice:"+invoiceID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var (
		result  domain.Invoice
		outcome *domain.FulfillmentOutcome
	)
	err = c.repo.RunInTx(ctx, func(tx store.Tx) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		outcome, err = step(ctx, tx, inv)
		if err != nil {
			return err
		}
		result = *inv
		return nil
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"module":    "fulfillment",
			"action":    action,
			"entity":    "invoice",
			"entity_id": invoiceID,
		}).WithError(err).Info("invoice unit of work rolled back")
		return nil, nil, timedOut(err, "invoice "+invoiceID)
	}
	if outcome != nil {
		c.logOutcome(action, outcome)
	}
	return &result, outcome, nil
}

// settle runs inside a unit of work that already holds the invoice row.
// An existing deduction record makes it a no-op. A prescription that is
// already CONFIRMED had its stock taken by an earlier invoice.
func (c *Coordinator) settle(ctx context.Context, tx store.Tx, inv *domain.Invoice) (*domain.FulfillmentOutcome, error) {
	outcome := &domain.FulfillmentOutcome{InvoiceID: inv.ID}

	_, err := tx.GetDeductionRecord(ctx, inv.ID)
	switch {
	case err == nil:
		if _, err := c.invoices.MarkPaid(ctx, tx, inv); err != nil {
			return nil, err
		}
		outcome.Result = domain.ResultAlreadySettled
		return outcome, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if inv.Status == domain.InvoicePaid {
		// Paid before deduction records existed. Stock was handled then.
		c.logger.WithFields(logrus.Fields{
			"module":    "fulfillment",
			"action":    "settle",
			"entity":    "invoice",
			"entity_id": inv.ID,
		}).Warn("paid invoice has no deduction record; treating as settled")
		outcome.Result = domain.ResultAlreadySettled
		return outcome, nil
	}

	var rx *domain.Prescription
	owed := true
	if inv.PrescriptionID != "" {
		rx, err = tx.LockPrescription(ctx, inv.PrescriptionID)
		if err != nil {
			return nil, err
		}
		owed = rx.Status != domain.PrescriptionConfirmed
	}

	if owed {
		deducted, err := c.ledger.ReserveAndDeduct(ctx, tx, inv.Items)
		if err != nil {
			return nil, err
		}
		outcome.Result = domain.ResultDeducted
		outcome.Deducted = deducted
	} else {
		outcome.Result = domain.ResultPrescriptionFilled
	}

	if _, err := c.invoices.MarkPaid(ctx, tx, inv); err != nil {
		return nil, err
	}
	rec := domain.DeductionRecord{
		InvoiceID:      inv.ID,
		StockDeducted:  owed,
		PrescriptionID: inv.PrescriptionID,
		RecordedAt:     c.now(),
	}
	if err := tx.InsertDeductionRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: invoice %s was settled concurrently", store.ErrConflict, inv.ID)
		}
		return nil, err
	}
	if rx != nil {
		if _, err := c.prescriptions.Confirm(ctx, tx, rx); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func (c *Coordinator) acquire(ctx context.Context, key string) (lock.Release, error) {
	release, err := c.locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %s is busy: %v", store.ErrConflict, key, err)
		}
		return nil, timedOut(err, key)
	}
	return release, nil
}

// timedOut reports a unit of work that ran out of time, usually waiting on a
// row lock or the connection, as a conflict the caller may retry.
func timedOut(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s did not finish in time: %v", store.ErrConflict, what, err)
	}
	return err
}

func (c *Coordinator) logOutcome(action string, outcome *domain.FulfillmentOutcome) {
	c.logger.WithFields(logrus.Fields{
		"module":    "fulfillment",
		"action":    action,
		"entity":    "invoice",
		"entity_id": outcome.InvoiceID,
		"result":    outcome.Result,
		"lines":     len(outcome.Deducted),
	}).Info("invoice settled")
}
