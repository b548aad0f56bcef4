package service

import (
	"errors"
	"fmt"
)

var (
	ErrOperationInFlight = errors.New("another operation is already running for this order")
	ErrNoPaymentNeeded   = errors.New("no payment needed, the order has no outstanding balance")
	ErrPaymentTimeout    = errors.New("payment timed out before the server answered")
	ErrSplitDisabled     = errors.New("split payments are disabled for this merchant")
	ErrUnknownReference  = errors.New("no terminal payment matches this reference")
	ErrPaymentPending    = errors.New("a payment with this idempotency key is still being resolved")

	ErrCashPaymentTimeout = fmt.Errorf("%w: the cash sale may still be recorded, refresh the order before taking cash again", ErrPaymentTimeout)
)
