package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/warp/hoursbank/generic"
)

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation     = "validation_failed"
	CodeConfiguration  = "schedule_configuration"
	CodeAmbiguous      = "ambiguous_adjustment"
	CodeConsistency    = "ledger_consistency"
	CodeOverflow       = "range_overflow"
	CodeInsufficient   = "insufficient_balance"
	CodeDuplicate      = "duplicate_idempotency_key"
	CodeTransition     = "invalid_transition"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeInvalidInput   = "invalid_input"
	CodeLockContention = "lock_contention"
	CodeIncomplete     = "batch_incomplete"
	CodeInternal       = "internal"
)

// statusFor maps a domain error to an HTTP status and code.
func statusFor(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, generic.ErrConfiguration):
		return http.StatusUnprocessableEntity, CodeConfiguration
	case errors.Is(err, generic.ErrAmbiguousAdjustment):
		return http.StatusConflict, CodeAmbiguous
	case errors.Is(err, generic.ErrLedgerConsistency), errors.Is(err, generic.ErrSnapshotStale):
		return http.StatusOK, CodeConsistency
	case errors.Is(err, generic.ErrRangeOverflow):
		return http.StatusUnprocessableEntity, CodeOverflow
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, CodeInsufficient
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, CodeTransition
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusServiceUnavailable, CodeLockContention
	case errors.Is(err, generic.ErrBatchIncomplete):
		return http.StatusInternalServerError, CodeIncomplete
	}
	return http.StatusInternalServerError, CodeInternal
}

// handleError writes the mapped error. Internal errors are logged and their
// message is not exposed.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, funcName string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		resp.Error = "request validation failed"
		resp.Details = validationDetails(validationErrs)
	}
	var ambiguous *generic.AmbiguousAdjustmentError
	if errors.As(err, &ambiguous) {
		resp.Details = map[string]any{"chosen": ambiguous.ChosenID, "candidates": ambiguous.Candidates}
	}

	switch status {
	case http.StatusInternalServerError:
		h.logError(funcName, r.URL.Path, err)
		resp.Error = "an unexpected error occurred"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
