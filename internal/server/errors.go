package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"PegVault/internal/errs"
)

// statusFromError maps settlement errors onto HTTP status codes. Validation
// failures are 400, state conflicts 409, authorization 403, and an unusable
// oracle or paused protocol 503.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidAmount),
		errors.Is(err, errs.ErrInvalidAddress),
		errors.Is(err, errs.ErrInvalidParameter),
		errors.Is(err, errs.ErrInvalidLeverage),
		errors.Is(err, errs.ErrExcessiveSlippage):
		return http.StatusBadRequest

	case errors.Is(err, errs.ErrWouldBreachCollateralization),
		errors.Is(err, errs.ErrWouldExceedLimit),
		errors.Is(err, errs.ErrBelowThreshold),
		errors.Is(err, errs.ErrInvalidCondition),
		errors.Is(err, errs.ErrReentrancy):
		return http.StatusConflict

	case errors.Is(err, errs.ErrNotAuthorized):
		return http.StatusForbidden

	case errors.Is(err, errs.ErrOraclePriceInvalid),
		errors.Is(err, errs.ErrPaused):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFromError(err), errorResponse{Error: err.Error()})
}
