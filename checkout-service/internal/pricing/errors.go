package pricing

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotReady  = errors.New("order is not hydrated yet")
	ErrTotalsMismatch = errors.New("client totals do not match server totals")
	ErrTipsDisabled   = errors.New("tips are disabled for this merchant")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
