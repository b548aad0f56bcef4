package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrStateConflict = errors.New("order is not in the expected state")
	ErrValidation    = errors.New("request rejected as invalid")
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("not authorized")
	ErrNetwork       = errors.New("backend unreachable")
)

// stateCodes are server error codes that mean the order moved on under us.
var stateCodes = map[string]bool{
	"INVALID_STATE":            true,
	"INVALID_STATE_TRANSITION": true,
	"ORDER_LOCKED":             true,
	"ORDER_ALREADY_PAID":       true,
	"ORDER_CANCELLED":          true,
}

// APIError is a non-2xx response. Message is always operator-readable.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Unwrap classifies the error so callers can use errors.Is with the sentinels above.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusConflict || stateCodes[strings.ToUpper(e.Code)]:
		return ErrStateConflict
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return nil
	}
}

type errorBody struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		e.Code = eb.Code
		e.Message = messageText(eb.Message)
		if e.Message == "" {
			e.Message = eb.Error
		}
	}
	if e.Message == "" {
		e.Message = genericMessage(status)
	}
	return e
}

// messageText accepts both "message": "x" and the validation shape "message": ["x", "y"].
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

func genericMessage(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "The requested resource was not found"
	case status == http.StatusUnauthorized:
		return "Your session has expired, please sign in again"
	case status >= 500:
		return "Server error, please try again"
	default:
		return fmt.Sprintf("Request failed with status %d", status)
	}
}

// Message returns the operator-facing text for any error the client produced.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, ErrNetwork) {
		return "Unable to reach the server, check your connection"
	}
	return err.Error()
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return errors.Is(err, ErrNetwork)
}
