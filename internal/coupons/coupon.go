package coupons

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"racereg/internal/model"
)

var (
	ErrInvalidPercent  = errors.New("discount value must be between 0 and 100")
	ErrInvalidMaxUsage = errors.New("max usage must not be negative")
)

// New validates admin input and builds an active coupon with zero counters.
func New(code string, percent decimal.Decimal, expiresAt *time.Time, maxUsage *int64) (*model.Coupon, error) {
	code, err := Normalize(code)
	if err != nil {
		return nil, err
	}
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, ErrInvalidPercent
	}
	if maxUsage != nil && *maxUsage < 0 {
		return nil, ErrInvalidMaxUsage
	}
	now := time.Now().UTC()
	return &model.Coupon{
		Code:          code,
		DiscountValue: percent,
		IsActive:      true,
		ExpiresAt:     expiresAt,
		MaxUsage:      maxUsage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
