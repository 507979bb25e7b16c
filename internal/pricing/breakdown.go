package pricing

import (
	"github.com/shopspring/decimal"
)

// DefaultFeeRate is Razorpay's 2% fee plus 18% GST on it.
const DefaultFeeRate = 0.0236

type Breakdown struct {
	RaceKey       string  `json:"raceCategory"`
	BaseAmount    int64   `json:"baseAmount"`
	GatewayFee    int64   `json:"gatewayFee"`
	ChargedAmount int64   `json:"chargedAmount"`
	FeePercentage float64 `json:"feePercentage"`
}

type Summary struct {
	BaseAmount       int64 `json:"baseAmount"`
	DiscountAmount   int64 `json:"discountAmount"`
	DiscountedAmount int64 `json:"discountedAmount"`
	GatewayFee       int64 `json:"gatewayFee"`
	FinalAmount      int64 `json:"finalAmount"`
}

type Engine struct {
	catalog *Catalog
	rate    decimal.Decimal
}

func NewEngine(catalog *Catalog, feeRate float64) *Engine {
	return &Engine{catalog: catalog, rate: decimal.NewFromFloat(feeRate)}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Breakdown prices a race so that the merchant nets exactly the base amount
// after the gateway takes its percentage of the charged amount.
func (e *Engine) Breakdown(raceKey string) (Breakdown, error) {
	base, err := e.catalog.Price(raceKey)
	if err != nil {
		return Breakdown{}, err
	}
	fee := GatewayFee(base, e.rate)
	return Breakdown{
		RaceKey:       raceKey,
		BaseAmount:    base,
		GatewayFee:    fee,
		ChargedAmount: base + fee,
		FeePercentage: e.rate.Mul(decimal.NewFromInt(100)).InexactFloat64(),
	}, nil
}

// GatewayFee returns ceil(base / (1 - rate)) - base.
func GatewayFee(base int64, rate decimal.Decimal) int64 {
	b := decimal.NewFromInt(base)
	charged := b.DivRound(decimal.NewFromInt(1).Sub(rate), 16).Ceil()
	return charged.IntPart() - base
}

// Discount returns floor(base * percent / 100).
func Discount(base int64, percent decimal.Decimal) int64 {
	if percent.IsNegative() {
		return 0
	}
	d := decimal.NewFromInt(base).Mul(percent).Div(decimal.NewFromInt(100)).Floor().IntPart()
	if d > base {
		return base
	}
	return d
}

// Apply subtracts a discount from the base amount only; the gateway fee is
// charged in full.
func Apply(b Breakdown, discount int64) Summary {
	discounted := b.BaseAmount - discount
	if discounted < 0 {
		discounted = 0
	}
	final := decimal.NewFromInt(discounted).Add(decimal.NewFromInt(b.GatewayFee)).Round(0).IntPart()
	return Summary{
		BaseAmount:       b.BaseAmount,
		DiscountAmount:   b.BaseAmount - discounted,
		DiscountedAmount: discounted,
		GatewayFee:       b.GatewayFee,
		FinalAmount:      final,
	}
}
