package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/logger"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Shortfall int64  `json:"shortfall,omitempty"`
	LimitKind string `json:"limit_kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps the error taxonomy to HTTP statuses. Expected
// business outcomes carry structured detail; anything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientBalanceError
		limit        *domain.LimitExceededError
		transition   *domain.InvalidStateTransitionError
		conflict     *domain.ConcurrencyConflictError
		charge       *domain.ExternalChargeError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", validation.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:     "insufficient_balance",
			Message:   insufficient.Error(),
			Shortfall: insufficient.Shortfall(),
		})
	case errors.As(err, &limit):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:     "limit_exceeded",
			Message:   limit.Error(),
			LimitKind: string(limit.Kind),
		})
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_state_transition", transition.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", conflict.Error())
	case errors.As(err, &charge):
		writeError(w, http.StatusBadGateway, "charge_failed", charge.Error())
	default:
		logger.Error("Unhandled error in HTTP layer", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
