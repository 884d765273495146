package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Billing errors
	ErrUnknownPlan        = errors.New("unknown subscription plan")
	ErrCouponNotFound     = errors.New("coupon not found or inactive")
	ErrCouponInactive     = errors.New("coupon not applicable to this plan")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrProviderIDMismatch = errors.New("different provider payment id already attached")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrAlreadySubscribed  = errors.New("active subscription of this plan already exists")
	ErrAlreadyPurchased   = errors.New("lifetime purchase already completed")
	ErrPaymentInFlight    = errors.New("a payment of this plan is already being created")
	ErrChargeLocked       = errors.New("charge already in flight for this subscription")
)
