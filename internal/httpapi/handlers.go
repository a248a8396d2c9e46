package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"apotek/backend/internal/domain"
)

func (a *API) handleListDrugs(w http.ResponseWriter, r *http.Request) {
	drugs, err := a.service.ListDrugs(r.Context(), parsePage(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drugs": drugs})
}

func (a *API) handleCreateDrug(w http.ResponseWriter, r *http.Request) {
	var req domain.DrugCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	drug, err := a.service.CreateDrug(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"drug": drug})
}

func (a *API) handleGetDrug(w http.ResponseWriter, r *http.Request) {
	drug, err := a.service.GetDrug(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drug": drug})
}

func (a *API) handleUpdateDrug(w http.ResponseWriter, r *http.Request) {
	var req domain.DrugUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	drug, err := a.service.UpdateDrug(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drug": drug})
}

func (a *API) handleRestockDrug(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	drug, err := a.service.RestockDrug(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drug": drug})
}

func (a *API) handleInventoryAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.service.InventoryAlerts(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleListPrescriptions(w http.ResponseWriter, r *http.Request) {
	prescriptions, err := a.service.ListPrescriptions(r.Context(), parsePage(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescriptions": prescriptions})
}

func (a *API) handleCreatePrescription(w http.ResponseWriter, r *http.Request) {
	var req domain.PrescriptionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.service.CreatePrescription(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"prescription": p})
}

func (a *API) handleGetPrescription(w http.ResponseWriter, r *http.Request) {
	p, err := a.service.GetPrescription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescription": p})
}

func (a *API) handleUpdatePrescription(w http.ResponseWriter, r *http.Request) {
	var req domain.PrescriptionUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.service.UpdatePrescription(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescription": p})
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := a.service.ListInvoices(r.Context(), parsePage(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

// handleCreateInvoice takes the idempotency key from the Idempotency-Key
// header or the body. A replayed key answers 200 with the original invoice.
func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if header := strings.TrimSpace(r.Header.Get("Idempotency-Key")); header != "" {
		if req.IdempotencyKey != "" && strings.TrimSpace(req.IdempotencyKey) != header {
			writeError(w, http.StatusBadRequest, errors.New("idempotency key in header and body differ"))
			return
		}
		req.IdempotencyKey = header
	}

	resp, err := a.service.CreateInvoice(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (a *API) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UpdateInvoice(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.PayInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetDeduction(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.GetDeduction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deduction": rec})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
