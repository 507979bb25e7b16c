// Package payments reconciles registrations with gateway orders. A payment can
// be confirmed by the client (VerifyPayment), by the gateway (HandleWebhook)
// or by the sweeper; all three converge on the same paid state through
// conditional store updates, so each side effect happens at most once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"racereg/internal/coupons"
	"racereg/internal/gateway"
	"racereg/internal/invoice"
	"racereg/internal/logging"
	"racereg/internal/model"
	"racereg/internal/pricing"
	"racereg/internal/store"
)

const (
	SourceVerify  = "VERIFY_PAYMENT"
	SourceWebhook = "WEBHOOK"
	SourceSweeper = "SWEEPER"
)

type Store interface {
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	GetRegistrationByOrderID(ctx context.Context, orderID string) (*model.Registration, error)
	HoldCoupon(ctx context.Context, id, code string) error
	ReleaseCouponHold(ctx context.Context, id string) (string, error)
	CommitCouponHold(ctx context.Context, id string) (string, bool, error)
	AttachOrder(ctx context.Context, id string, a model.OrderAttachment) error
	MarkPaid(ctx context.Context, id string, s model.Settlement) (*model.Registration, bool, error)
	MarkFailed(ctx context.Context, id, code, reason string) (bool, error)
	MarkAbandoned(ctx context.Context, id, orderID string) (bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Registration, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]gateway.Payment, error)
}

type Notifier interface {
	Enqueue(registrationID, source string)
}

type Settings struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

type Engine struct {
	pricing  *pricing.Engine
	ledger   *coupons.Ledger
	store    Store
	gw       Gateway
	notifier Notifier
	settings Settings
	now      func() time.Time
	log      *slog.Logger
}

func NewEngine(p *pricing.Engine, l *coupons.Ledger, s Store, gw Gateway, n Notifier, settings Settings) *Engine {
	if settings.Currency == "" {
		settings.Currency = "INR"
	}
	return &Engine{
		pricing:  p,
		ledger:   l,
		store:    s,
		gw:       gw,
		notifier: n,
		settings: settings,
		now:      time.Now,
		log:      logging.Logg,
	}
}

type CreateOrderInput struct {
	RegistrationID string `json:"registrationId"`
	RaceCategory   string `json:"raceCategory"`
	CouponCode     string `json:"couponCode,omitempty"`
}

type Order struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	KeyID    string `json:"keyId"`
}

type CreateOrderResult struct {
	Order        Order           `json:"order"`
	Summary      pricing.Summary `json:"paymentSummary"`
	RaceCategory string          `json:"raceCategory"`
	CouponCode   string          `json:"couponCode,omitempty"`
}

// CreateOrder prices the registration, reserves the coupon slot and opens a
// gateway order for the final amount. Amounts are always computed here.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	race := strings.TrimSpace(in.RaceCategory)
	if in.RegistrationID == "" || race == "" {
		return nil, ErrMissingFields
	}
	b, err := e.pricing.Breakdown(race)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRace, race)
	}
	var code string
	if strings.TrimSpace(in.CouponCode) != "" {
		if code, err = coupons.Normalize(in.CouponCode); err != nil {
			return nil, err
		}
	}

	reg, err := e.store.GetRegistration(ctx, in.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg.PaymentStatus == model.StatusPaid {
		return nil, ErrAlreadyPaid
	}
	log := e.log.With("registration_id", reg.ID)

	holding := reg.CouponState == model.CouponReserved && reg.CouponCode != nil
	if holding && *reg.CouponCode != code {
		e.releaseHold(ctx, reg.ID)
		holding = false
	}

	var (
		discount     int64
		reservedHere bool
	)
	if code != "" {
		var res coupons.Reservation
		if holding {
			// the slot from an earlier attempt is reused, not taken again
			res, err = e.ledger.Price(ctx, code, b.BaseAmount)
			if err != nil {
				return nil, fmt.Errorf("price held coupon: %w", err)
			}
		} else {
			res, err = e.ledger.ValidateAndReserve(ctx, code, b.BaseAmount)
			if err != nil {
				return nil, err
			}
			if err := e.store.HoldCoupon(ctx, reg.ID, code); err != nil {
				if rerr := e.ledger.Release(ctx, code); rerr != nil {
					log.Error("Failed to release coupon", "coupon", code, "error", rerr)
				}
				if errors.Is(err, store.ErrConditionFailed) {
					return nil, ErrCheckoutInProgress
				}
				return nil, fmt.Errorf("hold coupon: %w", err)
			}
			reservedHere = true
		}
		discount = res.DiscountAmount
	}

	summary := pricing.Apply(b, discount)
	now := e.now()
	receipt := fmt.Sprintf("receipt_%s_%d", race, now.UnixMilli())
	notes := map[string]string{
		"registrationId":   reg.ID,
		"raceCategory":     race,
		"baseAmount":       strconv.FormatInt(summary.BaseAmount, 10),
		"discountAmount":   strconv.FormatInt(summary.DiscountAmount, 10),
		"discountedAmount": strconv.FormatInt(summary.DiscountedAmount, 10),
		"gatewayFee":       strconv.FormatInt(summary.GatewayFee, 10),
		"finalAmount":      strconv.FormatInt(summary.FinalAmount, 10),
		"couponCode":       code,
	}

	order, err := e.gw.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   summary.FinalAmount * 100,
		Currency: e.settings.Currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		if reservedHere {
			e.releaseHold(context.WithoutCancel(ctx), reg.ID)
		}
		log.Error("Error creating gateway order", "error", err)
		return nil, &GatewayError{Op: "create order", Err: err}
	}

	err = e.store.AttachOrder(ctx, reg.ID, model.OrderAttachment{
		OrderID:        order.ID,
		BaseAmount:     summary.BaseAmount,
		DiscountAmount: summary.DiscountAmount,
		GatewayFee:     summary.GatewayFee,
		ChargedAmount:  summary.FinalAmount,
		CreatedAt:      now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("attach order: %w", err)
	}
	log.Info("Gateway order created", "order_id", order.ID, "amount", summary.FinalAmount, "coupon", code)

	currency := order.Currency
	if currency == "" {
		currency = e.settings.Currency
	}
	return &CreateOrderResult{
		Order: Order{
			OrderID:  order.ID,
			Amount:   summary.FinalAmount * 100,
			Currency: currency,
			Receipt:  receipt,
			KeyID:    e.settings.KeyID,
		},
		Summary:      summary,
		RaceCategory: race,
		CouponCode:   code,
	}, nil
}

// CancelOrder gives back the coupon slot held by an abandoned checkout. It
// never fails; a couponCode that does not match the held one is ignored.
func (e *Engine) CancelOrder(ctx context.Context, registrationID, couponCode string) {
	if registrationID == "" {
		return
	}
	if couponCode != "" {
		reg, err := e.store.GetRegistration(ctx, registrationID)
		if err != nil {
			e.log.Warn("Cancel for unknown registration", "registration_id", registrationID, "error", err)
			return
		}
		if reg.CouponCode == nil || !strings.EqualFold(*reg.CouponCode, strings.TrimSpace(couponCode)) {
			return
		}
	}
	e.releaseHold(ctx, registrationID)
}

type VerifyInput struct {
	OrderID        string `json:"razorpay_order_id"`
	PaymentID      string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
	RegistrationID string `json:"registrationId"`
}

type VerifyResult struct {
	Registration *model.Registration
	AlreadyPaid  bool
}

// VerifyPayment settles a registration from the checkout callback once the
// payment signature proves the order/payment pair came from the gateway.
func (e *Engine) VerifyPayment(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	if in.OrderID == "" || in.PaymentID == "" || in.Signature == "" {
		return nil, ErrMissingFields
	}
	if !gateway.VerifyPaymentSignature(in.OrderID, in.PaymentID, in.Signature, e.settings.KeySecret) {
		e.log.Warn("Payment signature mismatch", "order_id", in.OrderID, "registration_id", in.RegistrationID)
		return nil, ErrInvalidSignature
	}

	var (
		reg *model.Registration
		err error
	)
	if in.RegistrationID != "" {
		reg, err = e.store.GetRegistration(ctx, in.RegistrationID)
	} else {
		reg, err = e.store.GetRegistrationByOrderID(ctx, in.OrderID)
	}
	if err != nil {
		return nil, err
	}

	var notes map[string]string
	order, err := e.gw.FetchOrder(ctx, in.OrderID)
	if err != nil {
		e.log.Warn("Could not fetch order notes", "order_id", in.OrderID, "error", err)
	} else {
		notes = order.Notes
	}

	if reg.RazorpayOrderID == nil || *reg.RazorpayOrderID != in.OrderID {
		// an older order of the same registration is fine, someone else's is not
		if notes["registrationId"] != reg.ID {
			return nil, ErrOrderMismatch
		}
	}

	base, charged := amountsFromNotes(notes)
	updated, transitioned, err := e.settle(ctx, reg.ID, in.OrderID, in.PaymentID, base, charged, SourceVerify)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Registration: updated, AlreadyPaid: !transitioned}, nil
}

// settle marks the registration paid unless it already is, then commits the
// coupon and schedules the confirmation. The commit and the email are guarded
// by their own conditional updates, so repeating settle is harmless.
func (e *Engine) settle(ctx context.Context, id, orderID, paymentID string, base, charged *int64, source string) (*model.Registration, bool, error) {
	paidAt := e.now().UTC()
	updated, transitioned, err := e.store.MarkPaid(ctx, id, model.Settlement{
		OrderID:       orderID,
		PaymentID:     paymentID,
		PaidAt:        paidAt,
		BaseAmount:    base,
		ChargedAmount: charged,
		InvoiceNumber: invoice.NewNumber(paidAt, paymentID),
	})
	if err != nil {
		return nil, false, fmt.Errorf("mark paid: %w", err)
	}
	log := e.log.With("registration_id", id, "order_id", orderID, "source", source)
	if transitioned {
		log.Info("Registration paid", "payment_id", paymentID)
	} else {
		log.Info("Registration already paid")
	}

	e.commitCoupon(ctx, id)

	if transitioned || !updated.ConfirmationEmailSent {
		e.notifier.Enqueue(id, source)
	}
	return updated, transitioned, nil
}

func (e *Engine) commitCoupon(ctx context.Context, id string) {
	code, held, err := e.store.CommitCouponHold(ctx, id)
	if errors.Is(err, store.ErrConditionFailed) {
		return
	}
	if err != nil {
		e.log.Error("Failed to mark coupon committed", "registration_id", id, "error", err)
		return
	}
	if err := e.ledger.Commit(ctx, code, held); err != nil {
		e.log.Error("Failed to commit coupon", "registration_id", id, "coupon", code, "error", err)
	}
}

func (e *Engine) releaseHold(ctx context.Context, id string) {
	code, err := e.store.ReleaseCouponHold(ctx, id)
	if errors.Is(err, store.ErrConditionFailed) {
		return
	}
	if err != nil {
		e.log.Error("Failed to release coupon hold", "registration_id", id, "error", err)
		return
	}
	if err := e.ledger.Release(ctx, code); err != nil {
		e.log.Error("Failed to release coupon", "registration_id", id, "coupon", code, "error", err)
		return
	}
	e.log.Info("Coupon reservation released", "registration_id", id, "coupon", code)
}

type Status struct {
	RegistrationID    string              `json:"registrationId"`
	PaymentStatus     model.PaymentStatus `json:"paymentStatus"`
	RazorpayOrderID   *string             `json:"razorpayOrderId"`
	RazorpayPaymentID *string             `json:"razorpayPaymentId"`
	PaymentDate       *time.Time          `json:"paymentDate"`
	BaseAmount        *int64              `json:"baseAmount"`
	ChargedAmount     *int64              `json:"chargedAmount"`
	CouponCode        *string             `json:"couponCode"`
}

func (e *Engine) CheckStatus(ctx context.Context, id string) (*Status, error) {
	reg, err := e.store.GetRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		RegistrationID:    reg.ID,
		PaymentStatus:     reg.PaymentStatus,
		RazorpayOrderID:   reg.RazorpayOrderID,
		RazorpayPaymentID: reg.RazorpayPaymentID,
		PaymentDate:       reg.PaymentDate,
		BaseAmount:        reg.BaseAmount,
		ChargedAmount:     reg.ChargedAmount,
		CouponCode:        reg.CouponCode,
	}, nil
}

func (e *Engine) GetPriceBreakdown(raceKey string) (pricing.Breakdown, error) {
	b, err := e.pricing.Breakdown(strings.TrimSpace(raceKey))
	if err != nil {
		return pricing.Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidRace, raceKey)
	}
	return b, nil
}

type CouponPreview struct {
	Coupon  coupons.Reservation `json:"coupon"`
	Summary pricing.Summary     `json:"paymentSummary"`
}

// PreviewCoupon prices a race with a coupon without reserving anything.
func (e *Engine) PreviewCoupon(ctx context.Context, raceKey, code string) (*CouponPreview, error) {
	b, err := e.GetPriceBreakdown(raceKey)
	if err != nil {
		return nil, err
	}
	res, err := e.ledger.Quote(ctx, code, b.BaseAmount)
	if err != nil {
		return nil, err
	}
	return &CouponPreview{Coupon: res, Summary: pricing.Apply(b, res.DiscountAmount)}, nil
}

func amountsFromNotes(notes map[string]string) (base, charged *int64) {
	parse := func(key string) *int64 {
		v, err := strconv.ParseInt(notes[key], 10, 64)
		if err != nil || v <= 0 {
			return nil
		}
		return &v
	}
	return parse("baseAmount"), parse("finalAmount")
}
