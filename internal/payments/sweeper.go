package payments

import (
	"context"
	"time"
)

const sweepBatch = 100

// SweepStale reconciles pending registrations whose order is older than ttl.
// Orders with a captured payment are settled, the rest are abandoned and their
// coupon slots released. It returns how many registrations changed state.
func (e *Engine) SweepStale(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := e.store.ListStalePending(ctx, e.now().Add(-ttl), sweepBatch)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, reg := range stale {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		if reg.RazorpayOrderID == nil {
			continue
		}
		orderID := *reg.RazorpayOrderID
		log := e.log.With("registration_id", reg.ID, "order_id", orderID, "source", SourceSweeper)

		payments, err := e.gw.FetchOrderPayments(ctx, orderID)
		if err != nil {
			log.Warn("Could not fetch order payments", "error", err)
			continue
		}

		var captured, authorized bool
		var paymentID string
		var amount int64
		for _, p := range payments {
			switch p.Status {
			case "captured":
				captured, paymentID, amount = true, p.ID, p.Amount
			case "authorized":
				authorized = true
			}
		}

		switch {
		case captured:
			var notes map[string]string
			if o, err := e.gw.FetchOrder(ctx, orderID); err == nil {
				notes = o.Notes
			}
			base, charged := amountsFromNotes(notes)
			if charged == nil && amount > 0 {
				v := amount / 100
				charged = &v
			}
			_, transitioned, err := e.settle(ctx, reg.ID, orderID, paymentID, base, charged, SourceSweeper)
			if err != nil {
				log.Error("Failed to settle captured order", "error", err)
				continue
			}
			if transitioned {
				changed++
			}
		case authorized:
			// capture still pending at the gateway, check again next round
		default:
			ok, err := e.store.MarkAbandoned(ctx, reg.ID, orderID)
			if err != nil {
				log.Error("Failed to abandon order", "error", err)
				continue
			}
			if ok {
				log.Info("Order abandoned")
				e.releaseHold(ctx, reg.ID)
				changed++
			}
		}
	}
	return changed, nil
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.SweepStale(ctx, ttl)
			if err != nil && ctx.Err() == nil {
				e.log.Error("Stale order sweep failed", "error", err)
			} else if n > 0 {
				e.log.Info("Stale order sweep", "changed", n)
			}
		}
	}
}
