package payments

import (
	"errors"
	"fmt"

	"racereg/internal/coupons"
)

var (
	ErrInvalidRace             = errors.New("invalid race category")
	ErrInvalidCouponCode       = coupons.ErrInvalidCode
	ErrMissingFields           = errors.New("missing required fields")
	ErrInvalidSignature        = errors.New("payment verification failed, invalid signature")
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
	ErrAlreadyPaid             = errors.New("registration is already paid")
	ErrOrderMismatch           = errors.New("order does not belong to this registration")
	ErrCheckoutInProgress      = errors.New("another checkout holds a coupon for this registration")
)

// GatewayError wraps a failed call to the payment gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
