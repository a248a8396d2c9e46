package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrExpiredDrug       = errors.New("drug expired")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

type InsufficientStockError struct {
	DrugID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for drug %q: requested %d, available %d", e.DrugID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ExpiredDrugError struct {
	DrugID     string
	ExpiryDate time.Time
}

func (e *ExpiredDrugError) Error() string {
	return fmt.Sprintf("drug %q expired on %s", e.DrugID, e.ExpiryDate.Format(time.DateOnly))
}

func (e *ExpiredDrugError) Is(target error) bool { return target == ErrExpiredDrug }

// InvalidStateError rejects an action that the entity's current status does
// not allow, e.g. editing a confirmed prescription.
type InvalidStateError struct {
	Entity string
	ID     string
	From   string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %q: cannot %s while %s", e.Entity, e.ID, e.Action, e.From)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
