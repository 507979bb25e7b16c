package payments

import (
	"context"
	"encoding/json"
	"errors"

	"racereg/internal/gateway"
	"racereg/internal/model"
	"racereg/internal/store"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventPaymentFailed   = "payment.failed"
)

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity gateway.Payment `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity gateway.Order `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// WebhookResult is what the gateway gets back. Once the signature checks out
// every outcome, internal errors included, is acknowledged.
type WebhookResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (e *Engine) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if signature == "" || !gateway.VerifyWebhookSignature(body, signature, e.settings.WebhookSecret) {
		e.log.Warn("Rejected webhook with invalid signature")
		return WebhookResult{}, ErrInvalidWebhookSignature
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		e.log.Error("Malformed webhook payload", "error", err)
		return WebhookResult{Success: false, Message: "Malformed payload"}, nil
	}

	var (
		msg string
		err error
	)
	switch ev.Event {
	case EventPaymentCaptured, EventOrderPaid:
		msg, err = e.onCaptured(ctx, &ev)
	case EventPaymentFailed:
		msg, err = e.onFailed(ctx, &ev)
	default:
		return WebhookResult{Success: true, Message: "Event ignored"}, nil
	}
	if err != nil {
		e.log.Error("Error processing webhook", "event", ev.Event, "error", err)
		return WebhookResult{Success: false, Message: "Internal error"}, nil
	}
	return WebhookResult{Success: true, Message: msg}, nil
}

func (e *Engine) onCaptured(ctx context.Context, ev *webhookEvent) (string, error) {
	payment := ev.Payload.Payment.Entity
	order := ev.Payload.Order.Entity
	orderID := payment.OrderID
	if orderID == "" {
		orderID = order.ID
	}
	if payment.ID == "" || orderID == "" {
		return "Missing payment or order id", nil
	}

	notes := mergeNotes(order.Notes, payment.Notes)
	if order.ID == "" {
		// payment.captured carries no order entity; its notes live on the order
		if o, err := e.gw.FetchOrder(ctx, orderID); err == nil {
			notes = mergeNotes(o.Notes, payment.Notes)
		} else {
			e.log.Warn("Could not fetch order notes", "order_id", orderID, "error", err)
		}
	}

	reg, err := e.lookup(ctx, notes["registrationId"], orderID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warn("Webhook for unknown registration", "order_id", orderID, "registration_id", notes["registrationId"])
		return "Registration not found", nil
	}
	if err != nil {
		return "", err
	}
	if reg.PaymentStatus == model.StatusPaid {
		return "Already processed", nil
	}

	base, charged := amountsFromNotes(notes)
	if charged == nil && payment.Amount > 0 {
		v := payment.Amount / 100
		charged = &v
	}
	if _, _, err := e.settle(ctx, reg.ID, orderID, payment.ID, base, charged, SourceWebhook); err != nil {
		return "", err
	}
	return "Webhook processed", nil
}

func (e *Engine) onFailed(ctx context.Context, ev *webhookEvent) (string, error) {
	payment := ev.Payload.Payment.Entity
	reg, err := e.lookup(ctx, payment.Notes["registrationId"], payment.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return "Registration not found", nil
	}
	if err != nil {
		return "", err
	}
	if reg.RazorpayOrderID != nil && payment.OrderID != "" && *reg.RazorpayOrderID != payment.OrderID {
		// a failure of an older order must not fail the current checkout
		return "Stale order", nil
	}

	failed, err := e.store.MarkFailed(ctx, reg.ID, payment.ErrorCode, payment.ErrorDescription)
	if err != nil {
		return "", err
	}
	if !failed {
		return "No change", nil
	}
	e.log.Info("Payment failed", "registration_id", reg.ID, "order_id", payment.OrderID,
		"error_code", payment.ErrorCode, "reason", payment.ErrorDescription)
	e.releaseHold(ctx, reg.ID)
	return "Webhook processed", nil
}

func (e *Engine) lookup(ctx context.Context, registrationID, orderID string) (*model.Registration, error) {
	if registrationID != "" {
		reg, err := e.store.GetRegistration(ctx, registrationID)
		if err == nil || !errors.Is(err, store.ErrNotFound) || orderID == "" {
			return reg, err
		}
	}
	if orderID == "" {
		return nil, store.ErrNotFound
	}
	return e.store.GetRegistrationByOrderID(ctx, orderID)
}

func mergeNotes(sets ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, s := range sets {
		for k, v := range s {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}
