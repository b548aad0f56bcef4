package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/catalog"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/draft"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/service"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/terminal"
	"github.com/nirvana9010/heya-pos/pkg/circuitbreaker"
)

const maxBodyBytes = 1 << 20 // 1MB

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorDetails(w, status, code, message, "")
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return false
	}
	return true
}

// handleServiceError converts checkout errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error) {
	var ve pricing.ValidationError
	if errors.As(err, &ve) {
		respondErrorDetails(w, http.StatusBadRequest, "validation_error", ve.Message, ve.Field)
		return
	}

	var httpStatus int
	var code string
	message := err.Error()

	switch {
	case errors.Is(err, service.ErrOperationInFlight):
		httpStatus, code = http.StatusConflict, "operation_in_flight"
	case errors.Is(err, service.ErrPaymentPending):
		httpStatus, code = http.StatusConflict, "payment_pending"
	case errors.Is(err, backend.ErrStateConflict), errors.Is(err, draft.ErrAlreadyCheckout):
		httpStatus, code = http.StatusConflict, "state_conflict"
		message = backend.Message(err)
	case errors.Is(err, service.ErrNoPaymentNeeded):
		httpStatus, code = http.StatusUnprocessableEntity, "no_payment_needed"
	case errors.Is(err, loyalty.ErrWalkInIneligible):
		httpStatus, code = http.StatusUnprocessableEntity, "walk_in_ineligible"
	case errors.Is(err, loyalty.ErrNoRewardAvailable), errors.Is(err, loyalty.ErrInvalidPoints):
		httpStatus, code = http.StatusUnprocessableEntity, "no_reward"
	case errors.Is(err, loyalty.ErrRedemptionFailed):
		httpStatus, code = http.StatusUnprocessableEntity, "loyalty_redemption_failed"
	case errors.Is(err, pricing.ErrTipsDisabled), errors.Is(err, service.ErrSplitDisabled), errors.Is(err, loyalty.ErrLoyaltyDisabled):
		httpStatus, code = http.StatusUnprocessableEntity, "feature_disabled"
	case errors.Is(err, pricing.ErrOrderNotReady):
		httpStatus, code = http.StatusConflict, "order_not_ready"
	case isTerminalError(err):
		httpStatus, code = http.StatusUnprocessableEntity, "terminal_error"
		message = terminal.UserMessage(err)
	case errors.Is(err, service.ErrUnknownReference), errors.Is(err, draft.ErrDraftNotFound),
		errors.Is(err, catalog.ErrServiceNotFound), errors.Is(err, backend.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, backend.ErrValidation):
		httpStatus, code = http.StatusBadRequest, "invalid_request"
		message = backend.Message(err)
	case errors.Is(err, service.ErrPaymentTimeout), errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, backend.ErrNetwork), circuitbreaker.IsOpen(err):
		httpStatus, code = http.StatusBadGateway, "backend_unavailable"
		message = backend.Message(err)
	case errors.Is(err, backend.ErrUnauthorized):
		httpStatus, code = http.StatusBadGateway, "backend_unauthorized"
		message = backend.Message(err)
	default:
		log.Printf("unhandled checkout error: %v", err)
		httpStatus, code, message = http.StatusInternalServerError, "internal_error", "internal server error"
	}

	respondError(w, httpStatus, code, message)
}

func isTerminalError(err error) bool {
	for _, target := range []error{
		terminal.ErrDeclined,
		terminal.ErrCancelled,
		terminal.ErrTimeout,
		terminal.ErrUnavailable,
		terminal.ErrNotPaired,
		terminal.ErrRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
