// Package coupons keeps coupon capacity honest under concurrent checkouts.
//
// A checkout reserves a slot (reserved_count) when its gateway order is
// created; settlement converts the slot into a use (usage_count) and a
// cancelled or failed checkout gives it back. Every counter change is a
// single conditional update in the repository.
package coupons

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"racereg/internal/model"
	"racereg/internal/pricing"
	"racereg/internal/store"
)

var (
	ErrInvalidCode = errors.New("coupon code must be 5-12 uppercase letters or digits")

	codeRegex = regexp.MustCompile(`^[A-Z0-9]{5,12}$`)
)

type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonInactive  Reason = "inactive"
	ReasonExpired   Reason = "expired"
	ReasonExhausted Reason = "exhausted"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:  "Invalid coupon code",
	ReasonInactive:  "This coupon is no longer active",
	ReasonExpired:   "This coupon has expired",
	ReasonExhausted: "This coupon has reached its maximum usage limit",
}

type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

func (e *RejectedError) Message() string {
	return reasonMessages[e.Reason]
}

// Repository is the atomic coupon storage the ledger depends on.
type Repository interface {
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
	// ReserveCoupon increments reserved_count only if the coupon is active,
	// unexpired at now and below capacity. It returns store.ErrConditionFailed
	// when the coupon exists but the condition does not hold.
	ReserveCoupon(ctx context.Context, code string, now time.Time) (*model.Coupon, error)
	CommitCoupon(ctx context.Context, code string, held bool) error
	ReleaseCoupon(ctx context.Context, code string) error
}

type Reservation struct {
	Code           string `json:"couponCode"`
	Percent        string `json:"discountPercent"`
	DiscountAmount int64  `json:"discountAmount"`
	DiscountedBase int64  `json:"discountedAmount"`
}

type Ledger struct {
	repo Repository
	now  func() time.Time
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Normalize upper-cases and trims a user supplied code and checks its shape.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !codeRegex.MatchString(c) {
		return "", ErrInvalidCode
	}
	return c, nil
}

func (l *Ledger) ValidateAndReserve(ctx context.Context, code string, base int64) (Reservation, error) {
	code, err := Normalize(code)
	if err != nil {
		return Reservation{}, err
	}
	now := l.now()
	c, err := l.repo.ReserveCoupon(ctx, code, now)
	switch {
	case err == nil:
		return reservation(c, base), nil
	case errors.Is(err, store.ErrNotFound):
		return Reservation{}, &RejectedError{Code: code, Reason: ReasonNotFound}
	case errors.Is(err, store.ErrConditionFailed):
		current, gerr := l.repo.GetCoupon(ctx, code)
		if gerr != nil {
			if errors.Is(gerr, store.ErrNotFound) {
				return Reservation{}, &RejectedError{Code: code, Reason: ReasonNotFound}
			}
			return Reservation{}, fmt.Errorf("reload coupon %s: %w", code, gerr)
		}
		reason := classify(current, now)
		if reason == "" {
			// capacity freed between the update and the read
			reason = ReasonExhausted
		}
		return Reservation{}, &RejectedError{Code: code, Reason: reason}
	default:
		return Reservation{}, fmt.Errorf("reserve coupon %s: %w", code, err)
	}
}

// Quote validates a coupon and prices the discount without reserving a slot.
func (l *Ledger) Quote(ctx context.Context, code string, base int64) (Reservation, error) {
	code, err := Normalize(code)
	if err != nil {
		return Reservation{}, err
	}
	c, err := l.repo.GetCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Reservation{}, &RejectedError{Code: code, Reason: ReasonNotFound}
		}
		return Reservation{}, err
	}
	if reason := classify(c, l.now()); reason != "" {
		return Reservation{}, &RejectedError{Code: code, Reason: reason}
	}
	return reservation(c, base), nil
}

// Price recomputes the discount of a coupon whose slot is already held,
// ignoring its current active/capacity state.
func (l *Ledger) Price(ctx context.Context, code string, base int64) (Reservation, error) {
	c, err := l.repo.GetCoupon(ctx, code)
	if err != nil {
		return Reservation{}, err
	}
	return reservation(c, base), nil
}

// Commit turns a held reservation into a use. When held is false the slot was
// already given back (late capture after a failure), so only usage grows.
func (l *Ledger) Commit(ctx context.Context, code string, held bool) error {
	if err := l.repo.CommitCoupon(ctx, code, held); err != nil {
		return fmt.Errorf("commit coupon %s: %w", code, err)
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, code string) error {
	err := l.repo.ReleaseCoupon(ctx, code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("release coupon %s: %w", code, err)
	}
	return nil
}

func classify(c *model.Coupon, now time.Time) Reason {
	switch {
	case !c.IsActive:
		return ReasonInactive
	case c.ExpiresAt != nil && c.ExpiresAt.Before(now):
		return ReasonExpired
	case c.MaxUsage != nil && c.UsageCount+c.ReservedCount >= *c.MaxUsage:
		return ReasonExhausted
	}
	return ""
}

func reservation(c *model.Coupon, base int64) Reservation {
	discount := pricing.Discount(base, c.DiscountValue)
	return Reservation{
		Code:           c.Code,
		Percent:        c.DiscountValue.String(),
		DiscountAmount: discount,
		DiscountedBase: base - discount,
	}
}
