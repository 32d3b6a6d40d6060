package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"scribe/internal/api"
	"scribe/internal/entitlement"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// statusFor maps an error marker to its HTTP status.
func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotReady), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := api.ErrorResponse{
		Error:  services.Kind(err),
		Detail: err.Error(),
	}
	if rid := w.Header().Get(requestIDHeader); rid != "" {
		body.RequestID = rid
	}
	switch status {
	case http.StatusRequestEntityTooLarge:
		body.Error = "validation_error"
		body.Detail = "upload exceeds the request size limit"
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "request failed", "request_failed",
			logging.String(logging.FieldErrorHint, "inspect the wrapped error"),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		if status == http.StatusInternalServerError {
			body.Detail = "internal error"
		}
	}

	var quota *entitlement.QuotaError
	if errors.As(err, &quota) {
		limit, used, remaining := quota.Limit, quota.Used, quota.Remaining()
		body.Limit = &limit
		body.Used = &used
		body.Remaining = &remaining
		body.ResetAt = api.FormatTime(quota.ResetAt)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
