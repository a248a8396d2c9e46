package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"apotek/backend/internal/service"
	"apotek/backend/internal/store"
)

type errorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Entity   string `json:"entity,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
}

// respondError maps an error from the service layer to a status code and a
// body that names the failing entity where the error carries one.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		notFound   *store.NotFoundError
		shortStock *store.InsufficientStockError
		expired    *store.ExpiredDrugError
		badState   *store.InvalidStateError
	)
	switch {
	case errors.As(err, &notFound):
		status, body.Code = http.StatusNotFound, "not_found"
		body.Entity, body.EntityID = notFound.Entity, notFound.ID
	case errors.Is(err, store.ErrNotFound):
		status, body.Code = http.StatusNotFound, "not_found"
	case errors.As(err, &shortStock):
		status, body.Code = http.StatusConflict, "insufficient_stock"
		body.Entity, body.EntityID = "drug", shortStock.DrugID
	case errors.As(err, &expired):
		status, body.Code = http.StatusConflict, "expired_drug"
		body.Entity, body.EntityID = "drug", expired.DrugID
	case errors.As(err, &badState):
		status, body.Code = http.StatusConflict, "invalid_state"
		body.Entity, body.EntityID = badState.Entity, badState.ID
	case errors.Is(err, store.ErrConflict):
		status, body.Code = http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrInvalidInput):
		status, body.Code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrForbidden):
		status, body.Code = http.StatusForbidden, "forbidden"
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInactiveAccount):
		status, body.Code = http.StatusUnauthorized, "unauthorized"
	}

	if status >= 500 {
		a.logger.WithFields(logrus.Fields{
			"module":     "http",
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).WithError(err).Error("internal error")
		body = errorBody{Error: "internal server error", Code: "internal"}
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry the underlying message.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: codeForStatus(status)})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}
