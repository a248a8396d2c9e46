package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type PrescriptionStatus string

const (
	PrescriptionPending   PrescriptionStatus = "PENDING"
	PrescriptionConfirmed PrescriptionStatus = "CONFIRMED"
)

func (s PrescriptionStatus) Valid() bool {
	return s == PrescriptionPending || s == PrescriptionConfirmed
}

type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "UNPAID"
	InvoicePaid   InvoiceStatus = "PAID"
)

func (s InvoiceStatus) Valid() bool {
	return s == InvoiceUnpaid || s == InvoicePaid
}

// ParseInvoiceStatus accepts any letter case ("paid", "Paid") and rejects
// values outside the closed set.
func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	status := InvoiceStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown invoice status %q", raw)
	}
	return status, nil
}

func ParsePrescriptionStatus(raw string) (PrescriptionStatus, error) {
	status := PrescriptionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown prescription status %q", raw)
	}
	return status, nil
}

func (s *InvoiceStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseInvoiceStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *PrescriptionStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePrescriptionStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
