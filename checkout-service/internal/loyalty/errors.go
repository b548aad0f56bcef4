package loyalty

import "errors"

var (
	ErrWalkInIneligible  = errors.New("walk-in customers are not eligible for loyalty rewards")
	ErrNoRewardAvailable = errors.New("no loyalty reward available")
	ErrLoyaltyDisabled   = errors.New("loyalty is disabled for this merchant")
	ErrInvalidPoints     = errors.New("points to redeem must be between 1 and the current balance")
	ErrRedemptionFailed  = errors.New("loyalty redemption was rejected")
)
