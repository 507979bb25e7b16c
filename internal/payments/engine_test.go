package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"racereg/internal/coupons"
	"racereg/internal/gateway"
	"racereg/internal/mailer"
	"racereg/internal/model"
	"racereg/internal/notify"
	"racereg/internal/pricing"
	"racereg/internal/store"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "whsec"
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	orders    map[string]gateway.Order
	payments  map[string][]gateway.Payment
	createErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: map[string]gateway.Order{}, payments: map[string][]gateway.Payment{}}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	o := gateway.Order{
		ID: fmt.Sprintf("order_%d", g.seq), Amount: req.Amount, Currency: req.Currency,
		Receipt: req.Receipt, Status: "created", Notes: maps.Clone(req.Notes),
	}
	g.orders[o.ID] = o
	return &o, nil
}

func (g *fakeGateway) FetchOrder(_ context.Context, id string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok {
		return nil, &gateway.APIError{StatusCode: http.StatusNotFound}
	}
	return &o, nil
}

func (g *fakeGateway) FetchOrderPayments(_ context.Context, id string) ([]gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.payments[id], nil
}

func (g *fakeGateway) created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

type countingMailer struct {
	sent atomic.Int32
}

func (m *countingMailer) Send(_ context.Context, _ mailer.Message) (string, error) {
	m.sent.Add(1)
	return uuid.NewString(), nil
}

type pdfStub struct{}

func (pdfStub) Render(reg *model.Registration) ([]byte, error) {
	return []byte("%PDF-1.3 " + reg.ID), nil
}

type harness struct {
	engine *Engine
	store  *store.BoltStore
	gw     *fakeGateway
	mail   *countingMailer
	pool   *notify.WorkerPool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "payments.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := &harness{store: s, gw: newFakeGateway(), mail: &countingMailer{}}
	d := notify.NewDispatcher(s, pdfStub{}, h.mail, "City Run", "INR")
	h.pool = d.Run(context.Background(), 2)
	t.Cleanup(h.pool.Stop)

	h.engine = NewEngine(
		pricing.NewEngine(pricing.DefaultCatalog(), pricing.DefaultFeeRate),
		coupons.NewLedger(s), s, h.gw, d,
		Settings{KeyID: "rzp_test", KeySecret: testKeySecret, WebhookSecret: testWebhookSecret, Currency: "INR"},
	)
	return h
}

func (h *harness) register(t *testing.T) *model.Registration {
	t.Helper()
	reg, _, err := h.store.SaveDraft(context.Background(), &model.Registration{
		ID: uuid.NewString(), Name: "Asha Rao", Email: uuid.NewString() + "@example.com",
		Phone: "9876543210", Race: "5KM", TShirtSize: "M",
	})
	if err != nil {
		t.Fatalf("save registration: %v", err)
	}
	return reg
}

func (h *harness) coupon(t *testing.T, code string, percent int64, usage, maxUsage int64) {
	t.Helper()
	err := h.store.CreateCoupon(context.Background(), &model.Coupon{
		Code: code, DiscountValue: decimal.NewFromInt(percent), IsActive: true,
		MaxUsage: &maxUsage, UsageCount: usage, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
}

func (h *harness) counts(t *testing.T, code string) (usage, reserved int64) {
	t.Helper()
	c, err := h.store.GetCoupon(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	return c.UsageCount, c.ReservedCount
}

func (h *harness) get(t *testing.T, id string) *model.Registration {
	t.Helper()
	reg, err := h.store.GetRegistration(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// emails drains the notification pool and returns how many were sent.
func (h *harness) emails() int {
	h.pool.Wait()
	return int(h.mail.sent.Load())
}

func (h *harness) createOrder(t *testing.T, regID, coupon string) *CreateOrderResult {
	t.Helper()
	res, err := h.engine.CreateOrder(context.Background(), CreateOrderInput{RegistrationID: regID, RaceCategory: "5KM", CouponCode: coupon})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res
}

func verifyInput(regID, orderID, paymentID string) VerifyInput {
	return VerifyInput{
		OrderID: orderID, PaymentID: paymentID, RegistrationID: regID,
		Signature: gateway.PaymentSignature(orderID, paymentID, testKeySecret),
	}
}

func webhook(t *testing.T, event string, p gateway.Payment) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": map[string]any{"payment": map[string]any{"entity": p}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body, gateway.ComputeSignature(body, testWebhookSecret)
}

func TestCreateOrderWithoutCoupon(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)

	res := h.createOrder(t, reg.ID, "")
	want := pricing.Summary{BaseAmount: 699, DiscountAmount: 0, DiscountedAmount: 699, GatewayFee: 17, FinalAmount: 716}
	if res.Summary != want {
		t.Fatalf("expected %+v, got %+v", want, res.Summary)
	}
	if res.Order.Amount != 71600 || res.Order.Currency != "INR" || res.Order.KeyID != "rzp_test" {
		t.Fatalf("unexpected order: %+v", res.Order)
	}

	order, _ := h.gw.FetchOrder(context.Background(), res.Order.OrderID)
	if order.Notes["registrationId"] != reg.ID || order.Notes["finalAmount"] != "716" || order.Notes["gatewayFee"] != "17" {
		t.Fatalf("order notes incomplete: %v", order.Notes)
	}

	got := h.get(t, reg.ID)
	if got.RazorpayOrderID == nil || *got.RazorpayOrderID != res.Order.OrderID || *got.ChargedAmount != 716 {
		t.Fatalf("order not attached: %+v", got)
	}
}

func TestCreateOrderWithCoupon(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)

	res := h.createOrder(t, reg.ID, "early10")
	want := pricing.Summary{BaseAmount: 699, DiscountAmount: 69, DiscountedAmount: 630, GatewayFee: 17, FinalAmount: 647}
	if res.Summary != want {
		t.Fatalf("expected %+v, got %+v", want, res.Summary)
	}
	if res.Order.Amount != 64700 || res.CouponCode != "EARLY10" {
		t.Fatalf("unexpected order: %+v", res)
	}
	if _, reserved := h.counts(t, "EARLY10"); reserved != 1 {
		t.Fatalf("expected one reservation, got %d", reserved)
	}
	if got := h.get(t, reg.ID); got.CouponState != model.CouponReserved || *got.CouponCode != "EARLY10" {
		t.Fatalf("coupon not recorded on registration: %+v", got)
	}

	// a retried checkout reuses the slot
	h.createOrder(t, reg.ID, "EARLY10")
	if _, reserved := h.counts(t, "EARLY10"); reserved != 1 {
		t.Fatalf("retry must not reserve again, got %d", reserved)
	}

	// dropping the coupon gives the slot back
	res = h.createOrder(t, reg.ID, "")
	if res.Summary.FinalAmount != 716 {
		t.Fatalf("expected full price, got %d", res.Summary.FinalAmount)
	}
	if _, reserved := h.counts(t, "EARLY10"); reserved != 0 {
		t.Fatalf("expected reservation released, got %d", reserved)
	}
}

func TestCreateOrderRejections(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "FULLUP", 10, 5, 5)
	ctx := context.Background()

	_, err := h.engine.CreateOrder(ctx, CreateOrderInput{RegistrationID: reg.ID, RaceCategory: "42KM"})
	if !errors.Is(err, ErrInvalidRace) {
		t.Fatalf("expected ErrInvalidRace, got %v", err)
	}
	_, err = h.engine.CreateOrder(ctx, CreateOrderInput{RegistrationID: reg.ID, RaceCategory: "5KM", CouponCode: "x!"})
	if !errors.Is(err, ErrInvalidCouponCode) {
		t.Fatalf("expected ErrInvalidCouponCode, got %v", err)
	}
	_, err = h.engine.CreateOrder(ctx, CreateOrderInput{RegistrationID: reg.ID, RaceCategory: "5KM", CouponCode: "FULLUP"})
	var rej *coupons.RejectedError
	if !errors.As(err, &rej) || rej.Reason != coupons.ReasonExhausted {
		t.Fatalf("expected exhausted rejection, got %v", err)
	}
	_, err = h.engine.CreateOrder(ctx, CreateOrderInput{RegistrationID: uuid.NewString(), RaceCategory: "5KM"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if h.gw.created() != 0 {
		t.Fatalf("no gateway order should have been created, got %d", h.gw.created())
	}
}

func TestCreateOrderGatewayFailureReleasesCoupon(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	h.gw.createErr = &gateway.APIError{StatusCode: http.StatusBadGateway}

	_, err := h.engine.CreateOrder(context.Background(), CreateOrderInput{RegistrationID: reg.ID, RaceCategory: "5KM", CouponCode: "EARLY10"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if _, reserved := h.counts(t, "EARLY10"); reserved != 0 {
		t.Fatalf("reservation leaked: %d", reserved)
	}

	h.gw.createErr = nil
	h.createOrder(t, reg.ID, "EARLY10")
	if _, reserved := h.counts(t, "EARLY10"); reserved != 1 {
		t.Fatalf("expected a fresh reservation, got %d", reserved)
	}
}

func TestLastCouponSlotConcurrentCheckouts(t *testing.T) {
	h := newHarness(t)
	h.coupon(t, "LAST10", 10, 9, 10)
	regs := []*model.Registration{h.register(t), h.register(t)}

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		capacity atomic.Int32
	)
	for _, reg := range regs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.engine.CreateOrder(context.Background(), CreateOrderInput{RegistrationID: id, RaceCategory: "5KM", CouponCode: "LAST10"})
			var rej *coupons.RejectedError
			switch {
			case err == nil:
				ok.Add(1)
			case errors.As(err, &rej) && rej.Reason == coupons.ReasonExhausted:
				capacity.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(reg.ID)
	}
	wg.Wait()

	if ok.Load() != 1 || capacity.Load() != 1 {
		t.Fatalf("expected one success and one capacity error, got %d/%d", ok.Load(), capacity.Load())
	}
	if usage, reserved := h.counts(t, "LAST10"); usage != 9 || reserved != 1 {
		t.Fatalf("expected usage=9 reserved=1, got %d/%d", usage, reserved)
	}
}

func TestVerifyPayment(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	res := h.createOrder(t, reg.ID, "EARLY10")
	ctx := context.Background()

	tampered := verifyInput(reg.ID, res.Order.OrderID, "pay_1")
	tampered.Signature = gateway.PaymentSignature(res.Order.OrderID, "pay_2", testKeySecret)
	if _, err := h.engine.VerifyPayment(ctx, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if got := h.get(t, reg.ID); got.PaymentStatus != model.StatusPending {
		t.Fatalf("tampered signature mutated the registration: %s", got.PaymentStatus)
	}
	if n := h.emails(); n != 0 {
		t.Fatalf("expected no email, got %d", n)
	}

	out, err := h.engine.VerifyPayment(ctx, verifyInput(reg.ID, res.Order.OrderID, "pay_1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AlreadyPaid || out.Registration.PaymentStatus != model.StatusPaid {
		t.Fatalf("expected a fresh settlement, got %+v", out)
	}
	paid := out.Registration
	if *paid.RazorpayPaymentID != "pay_1" || *paid.ChargedAmount != 647 || *paid.BaseAmount != 699 || paid.InvoiceNumber == "" {
		t.Fatalf("unexpected settlement: %+v", paid)
	}
	if usage, reserved := h.counts(t, "EARLY10"); usage != 1 || reserved != 0 {
		t.Fatalf("expected usage=1 reserved=0, got %d/%d", usage, reserved)
	}

	again, err := h.engine.VerifyPayment(ctx, verifyInput("", res.Order.OrderID, "pay_1"))
	if err != nil {
		t.Fatalf("repeat verify by order id: %v", err)
	}
	if !again.AlreadyPaid {
		t.Fatal("expected repeat verify to be a no-op")
	}
	if usage, _ := h.counts(t, "EARLY10"); usage != 1 {
		t.Fatalf("coupon committed twice: %d", usage)
	}
	if n := h.emails(); n != 1 {
		t.Fatalf("expected exactly one email, got %d", n)
	}
}

func TestVerifyPaymentForeignOrder(t *testing.T) {
	h := newHarness(t)
	victim := h.register(t)
	payer := h.register(t)
	res := h.createOrder(t, payer.ID, "")

	_, err := h.engine.VerifyPayment(context.Background(), verifyInput(victim.ID, res.Order.OrderID, "pay_1"))
	if !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected ErrOrderMismatch, got %v", err)
	}
	if got := h.get(t, victim.ID); got.PaymentStatus == model.StatusPaid {
		t.Fatal("registration paid with another registration's order")
	}
}

func TestWebhookCaptureDeliveredTwice(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	res := h.createOrder(t, reg.ID, "EARLY10")

	body, sig := webhook(t, EventPaymentCaptured, gateway.Payment{
		ID: "pay_9", OrderID: res.Order.OrderID, Amount: 64700, Status: "captured",
	})
	for i := 0; i < 2; i++ {
		out, err := h.engine.HandleWebhook(context.Background(), body, sig)
		if err != nil || !out.Success {
			t.Fatalf("delivery %d: %+v %v", i, out, err)
		}
	}

	got := h.get(t, reg.ID)
	if got.PaymentStatus != model.StatusPaid || *got.RazorpayPaymentID != "pay_9" || *got.ChargedAmount != 647 {
		t.Fatalf("unexpected registration: %+v", got)
	}
	if usage, reserved := h.counts(t, "EARLY10"); usage != 1 || reserved != 0 {
		t.Fatalf("expected usage=1 reserved=0, got %d/%d", usage, reserved)
	}
	if n := h.emails(); n != 1 {
		t.Fatalf("expected exactly one email, got %d", n)
	}
}

func TestVerifyRacesWebhook(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	res := h.createOrder(t, reg.ID, "EARLY10")
	body, sig := webhook(t, EventPaymentCaptured, gateway.Payment{ID: "pay_1", OrderID: res.Order.OrderID, Amount: 64700})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.engine.VerifyPayment(context.Background(), verifyInput(reg.ID, res.Order.OrderID, "pay_1")); err != nil {
				t.Errorf("verify: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.engine.HandleWebhook(context.Background(), body, sig); err != nil {
				t.Errorf("webhook: %v", err)
			}
		}()
	}
	wg.Wait()

	if usage, reserved := h.counts(t, "EARLY10"); usage != 1 || reserved != 0 {
		t.Fatalf("expected usage=1 reserved=0, got %d/%d", usage, reserved)
	}
	if n := h.emails(); n != 1 {
		t.Fatalf("expected exactly one email, got %d", n)
	}
}

func TestFailureNeverDowngradesPaid(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	res := h.createOrder(t, reg.ID, "")
	ctx := context.Background()

	if _, err := h.engine.VerifyPayment(ctx, verifyInput(reg.ID, res.Order.OrderID, "pay_1")); err != nil {
		t.Fatal(err)
	}
	body, sig := webhook(t, EventPaymentFailed, gateway.Payment{
		ID: "pay_0", OrderID: res.Order.OrderID, Status: "failed",
		ErrorCode: "BAD_REQUEST_ERROR", ErrorDescription: "Payment declined",
		Notes: map[string]string{"registrationId": reg.ID},
	})
	if _, err := h.engine.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatal(err)
	}
	if got := h.get(t, reg.ID); got.PaymentStatus != model.StatusPaid || got.FailureCode != "" {
		t.Fatalf("paid registration downgraded: %+v", got)
	}
}

func TestFailureThenLateCapture(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	res := h.createOrder(t, reg.ID, "EARLY10")
	ctx := context.Background()

	body, sig := webhook(t, EventPaymentFailed, gateway.Payment{
		ID: "pay_0", OrderID: res.Order.OrderID, Status: "failed",
		ErrorCode: "BAD_REQUEST_ERROR", ErrorDescription: "Payment declined",
	})
	if _, err := h.engine.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatal(err)
	}
	got := h.get(t, reg.ID)
	if got.PaymentStatus != model.StatusFailed || got.FailureReason != "Payment declined" {
		t.Fatalf("expected failed registration, got %+v", got)
	}
	if _, reserved := h.counts(t, "EARLY10"); reserved != 0 {
		t.Fatalf("expected reservation released, got %d", reserved)
	}

	// the payer retries on the same order and succeeds
	body, sig = webhook(t, EventPaymentCaptured, gateway.Payment{ID: "pay_1", OrderID: res.Order.OrderID, Amount: 64700})
	if _, err := h.engine.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatal(err)
	}
	if got := h.get(t, reg.ID); got.PaymentStatus != model.StatusPaid {
		t.Fatalf("expected paid, got %s", got.PaymentStatus)
	}
	if usage, reserved := h.counts(t, "EARLY10"); usage != 1 || reserved != 0 {
		t.Fatalf("expected usage=1 reserved=0, got %d/%d", usage, reserved)
	}
}

func TestWebhookSignatureAndNoise(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body, sig := webhook(t, "refund.created", gateway.Payment{ID: "pay_1"})

	if _, err := h.engine.HandleWebhook(ctx, body, ""); !errors.Is(err, ErrInvalidWebhookSignature) {
		t.Fatalf("expected ErrInvalidWebhookSignature, got %v", err)
	}
	if _, err := h.engine.HandleWebhook(ctx, append(body, ' '), sig); !errors.Is(err, ErrInvalidWebhookSignature) {
		t.Fatalf("expected ErrInvalidWebhookSignature for altered body, got %v", err)
	}

	out, err := h.engine.HandleWebhook(ctx, body, sig)
	if err != nil || !out.Success {
		t.Fatalf("expected ignored event to be acknowledged, got %+v %v", out, err)
	}

	body, sig = webhook(t, EventPaymentCaptured, gateway.Payment{ID: "pay_1", OrderID: "order_unknown"})
	out, err = h.engine.HandleWebhook(ctx, body, sig)
	if err != nil || !out.Success {
		t.Fatalf("expected unknown registration to be acknowledged, got %+v %v", out, err)
	}

	bad := []byte("{not json")
	out, err = h.engine.HandleWebhook(ctx, bad, gateway.ComputeSignature(bad, testWebhookSecret))
	if err != nil || out.Success {
		t.Fatalf("expected malformed body to be acknowledged as unprocessed, got %+v %v", out, err)
	}
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	h.createOrder(t, reg.ID, "EARLY10")
	ctx := context.Background()

	h.engine.CancelOrder(ctx, reg.ID, "OTHER10")
	if _, reserved := h.counts(t, "EARLY10"); reserved != 1 {
		t.Fatalf("mismatched code must not release, got %d", reserved)
	}
	h.engine.CancelOrder(ctx, reg.ID, "EARLY10")
	h.engine.CancelOrder(ctx, reg.ID, "EARLY10")
	h.engine.CancelOrder(ctx, uuid.NewString(), "EARLY10")
	if _, reserved := h.counts(t, "EARLY10"); reserved != 0 {
		t.Fatalf("expected a single release, got reserved=%d", reserved)
	}
}

func TestSweepStale(t *testing.T) {
	h := newHarness(t)
	h.coupon(t, "EARLY10", 10, 0, 100)
	idle := h.register(t)
	paidLate := h.register(t)
	idleOrder := h.createOrder(t, idle.ID, "EARLY10")
	paidOrder := h.createOrder(t, paidLate.ID, "")
	h.gw.payments[paidOrder.Order.OrderID] = []gateway.Payment{
		{ID: "pay_f", OrderID: paidOrder.Order.OrderID, Status: "failed"},
		{ID: "pay_c", OrderID: paidOrder.Order.OrderID, Status: "captured", Amount: 71600},
	}

	n, err := h.engine.SweepStale(context.Background(), time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("fresh orders must be left alone, got n=%d err=%v", n, err)
	}

	h.engine.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = h.engine.SweepStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 changes, got %d", n)
	}

	if got := h.get(t, idle.ID); got.PaymentStatus != model.StatusAbandoned || *got.RazorpayOrderID != idleOrder.Order.OrderID {
		t.Fatalf("expected abandoned, got %+v", got)
	}
	if _, reserved := h.counts(t, "EARLY10"); reserved != 0 {
		t.Fatalf("expected reservation released, got %d", reserved)
	}
	got := h.get(t, paidLate.ID)
	if got.PaymentStatus != model.StatusPaid || *got.RazorpayPaymentID != "pay_c" {
		t.Fatalf("expected captured order settled, got %+v", got)
	}
	if n := h.emails(); n != 1 {
		t.Fatalf("expected one email, got %d", n)
	}

	// an abandoned registration can check out again
	res := h.createOrder(t, idle.ID, "EARLY10")
	if res.Summary.FinalAmount != 647 || h.get(t, idle.ID).PaymentStatus != model.StatusPending {
		t.Fatal("expected abandoned registration to reopen")
	}
}

func TestPreviewCoupon(t *testing.T) {
	h := newHarness(t)
	h.coupon(t, "EARLY10", 10, 0, 100)

	p, err := h.engine.PreviewCoupon(context.Background(), "10KM", "early10")
	if err != nil {
		t.Fatal(err)
	}
	// 1199: fee 29, discount 119
	if p.Summary.DiscountAmount != 119 || p.Summary.GatewayFee != 29 || p.Summary.FinalAmount != 1109 {
		t.Fatalf("unexpected preview: %+v", p.Summary)
	}
	if _, reserved := h.counts(t, "EARLY10"); reserved != 0 {
		t.Fatalf("preview reserved a slot: %d", reserved)
	}
}
