package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"   // заявка создана, оплата не подтверждена
	StatusPaid      PaymentStatus = "paid"      // оплата подтверждена, терминальный статус
	StatusFailed    PaymentStatus = "failed"    // шлюз сообщил об ошибке оплаты
	StatusAbandoned PaymentStatus = "abandoned" // заказ просрочен и не оплачен
)

// CouponState tracks what happened to the coupon slot held by one registration.
type CouponState string

const (
	CouponNone      CouponState = ""
	CouponReserved  CouponState = "reserved"
	CouponCommitted CouponState = "committed"
	CouponReleased  CouponState = "released"
)

var TShirtSizes = []string{"XS", "S", "M", "L", "XL", "XXL"}

type Registration struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Race       string `json:"race"`
	TShirtSize string `json:"tshirtSize"`

	PaymentStatus  PaymentStatus `json:"paymentStatus"`
	BaseAmount     *int64        `json:"baseAmount"`    // сумма, которую получает организатор
	ChargedAmount  *int64        `json:"chargedAmount"` // сумма, списанная с участника
	DiscountAmount int64         `json:"discountAmount"`
	GatewayFee     int64         `json:"gatewayFee"`

	CouponCode  *string     `json:"couponCode"`
	CouponState CouponState `json:"couponState,omitempty"`

	RazorpayOrderID   *string    `json:"razorpayOrderId"`
	RazorpayPaymentID *string    `json:"razorpayPaymentId"`
	PaymentDate       *time.Time `json:"paymentDate"`
	OrderCreatedAt    *time.Time `json:"orderCreatedAt,omitempty"`

	FailureCode   string `json:"failureCode,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	InvoiceNumber         string `json:"invoiceNumber,omitempty"`
	ConfirmationEmailSent bool   `json:"confirmationEmailSent"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settlement carries the values written when a registration becomes paid.
// Nil amounts keep whatever was captured at order creation.
type Settlement struct {
	OrderID       string
	PaymentID     string
	PaidAt        time.Time
	BaseAmount    *int64
	ChargedAmount *int64
	InvoiceNumber string
}

// OrderAttachment is written when a gateway order is created for a registration.
type OrderAttachment struct {
	OrderID        string
	BaseAmount     int64
	DiscountAmount int64
	GatewayFee     int64
	ChargedAmount  int64
	CreatedAt      time.Time
}

type Coupon struct {
	Code          string          `json:"code"`
	DiscountValue decimal.Decimal `json:"discountValue"` // процент от 0 до 100
	IsActive      bool            `json:"isActive"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	MaxUsage      *int64          `json:"maxUsage"` // nil: без ограничений
	UsageCount    int64           `json:"usageCount"`
	ReservedCount int64           `json:"reservedCount"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
