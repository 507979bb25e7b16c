package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"racereg/internal/model"
)

const registrationColumns = `id, name, email, phone, race, tshirt_size, payment_status,
	base_amount, charged_amount, discount_amount, gateway_fee, coupon_code, coupon_state,
	razorpay_order_id, razorpay_payment_id, payment_date, order_created_at,
	failure_code, failure_reason, invoice_number, confirmation_email_sent, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner, extra ...any) (*model.Registration, error) {
	var (
		r                          model.Registration
		status, couponState        string
		base, charged              sql.NullInt64
		coupon, orderID, paymentID sql.NullString
		paidAt, orderAt            sql.NullTime
	)
	dest := []any{&r.ID, &r.Name, &r.Email, &r.Phone, &r.Race, &r.TShirtSize, &status,
		&base, &charged, &r.DiscountAmount, &r.GatewayFee, &coupon, &couponState,
		&orderID, &paymentID, &paidAt, &orderAt,
		&r.FailureCode, &r.FailureReason, &r.InvoiceNumber, &r.ConfirmationEmailSent, &r.CreatedAt, &r.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.PaymentStatus = model.PaymentStatus(status)
	r.CouponState = model.CouponState(couponState)
	if base.Valid {
		r.BaseAmount = &base.Int64
	}
	if charged.Valid {
		r.ChargedAmount = &charged.Int64
	}
	if coupon.Valid {
		r.CouponCode = &coupon.String
	}
	if orderID.Valid {
		r.RazorpayOrderID = &orderID.String
	}
	if paymentID.Valid {
		r.RazorpayPaymentID = &paymentID.String
	}
	if paidAt.Valid {
		t := paidAt.Time
		r.PaymentDate = &t
	}
	if orderAt.Valid {
		t := orderAt.Time
		r.OrderCreatedAt = &t
	}
	return &r, nil
}

// SaveDraft inserts a registration or refreshes the profile of an existing
// unpaid one with the same email. The bool reports whether a row was created.
// A paid registration for the email yields ErrAlreadyRegistered.
func (ms *Database) SaveDraft(ctx context.Context, reg *model.Registration) (*model.Registration, bool, error) {
	now := time.Now().UTC()
	row := ms.DB.QueryRowContext(ctx, `
		INSERT INTO registrations (id, name, email, phone, race, tshirt_size, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $7)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			race = EXCLUDED.race,
			tshirt_size = EXCLUDED.tshirt_size,
			updated_at = EXCLUDED.updated_at
		WHERE registrations.payment_status <> 'paid'
		RETURNING `+registrationColumns+`, (xmax = 0)`,
		reg.ID, reg.Name, reg.Email, reg.Phone, reg.Race, reg.TShirtSize, now)

	var inserted bool
	saved, err := scanRegistration(row, &inserted)
	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, false, fmt.Errorf("save registration: %w", err)
	}
	return saved, inserted, nil
}

func (ms *Database) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	row := ms.DB.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

func (ms *Database) GetRegistrationByOrderID(ctx context.Context, orderID string) (*model.Registration, error) {
	row := ms.DB.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE razorpay_order_id = $1`, orderID)
	return scanRegistration(row)
}

func (ms *Database) GetRegistrationByInvoice(ctx context.Context, number string) (*model.Registration, error) {
	if number == "" {
		return nil, ErrNotFound
	}
	row := ms.DB.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE invoice_number = $1`, number)
	return scanRegistration(row)
}

// conditionResult tells a missing row apart from a failed condition after a
// conditional UPDATE touched nothing.
func (ms *Database) conditionResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = ms.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConditionFailed
}

// HoldCoupon records that the registration holds a reserved slot of code.
// It fails with ErrConditionFailed if the registration is paid or already holds one.
func (ms *Database) HoldCoupon(ctx context.Context, id, code string) error {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE registrations SET coupon_code = $2, coupon_state = 'reserved', updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid' AND coupon_state <> 'reserved'`, id, code)
	if err != nil {
		return fmt.Errorf("hold coupon: %w", err)
	}
	return ms.conditionResult(ctx, res, id)
}

// ReleaseCouponHold moves a held slot to released and returns its code.
// Only one caller can win the reserved -> released transition.
func (ms *Database) ReleaseCouponHold(ctx context.Context, id string) (string, error) {
	var code string
	err := ms.DB.QueryRowContext(ctx, `
		UPDATE registrations SET coupon_state = 'released', updated_at = now()
		WHERE id = $1 AND coupon_state = 'reserved' AND coupon_code IS NOT NULL
		RETURNING coupon_code`, id).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrConditionFailed
	}
	if err != nil {
		return "", fmt.Errorf("release coupon hold: %w", err)
	}
	return code, nil
}

// CommitCouponHold moves a reserved or released slot to committed. held
// reports whether the slot was still reserved at that moment.
func (ms *Database) CommitCouponHold(ctx context.Context, id string) (string, bool, error) {
	var code, prev string
	err := ms.DB.QueryRowContext(ctx, `
		UPDATE registrations r SET coupon_state = 'committed', updated_at = now()
		FROM (SELECT id, coupon_state FROM registrations WHERE id = $1 FOR UPDATE) p
		WHERE r.id = p.id AND p.coupon_state IN ('reserved', 'released') AND r.coupon_code IS NOT NULL
		RETURNING r.coupon_code, p.coupon_state`, id).Scan(&code, &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrConditionFailed
	}
	if err != nil {
		return "", false, fmt.Errorf("commit coupon hold: %w", err)
	}
	return code, model.CouponState(prev) == model.CouponReserved, nil
}

// AttachOrder stores a freshly created gateway order on an unpaid
// registration, moving failed and abandoned ones back to pending.
func (ms *Database) AttachOrder(ctx context.Context, id string, a model.OrderAttachment) error {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE registrations SET
			razorpay_order_id = $2,
			base_amount = $3,
			discount_amount = $4,
			gateway_fee = $5,
			charged_amount = $6,
			order_created_at = $7,
			payment_status = 'pending',
			failure_code = '',
			failure_reason = '',
			updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'`,
		id, a.OrderID, a.BaseAmount, a.DiscountAmount, a.GatewayFee, a.ChargedAmount, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("attach order: %w", err)
	}
	return ms.conditionResult(ctx, res, id)
}

// MarkPaid settles a registration unless it is already paid. The bool reports
// whether this call performed the transition; the returned row is current either way.
func (ms *Database) MarkPaid(ctx context.Context, id string, s model.Settlement) (*model.Registration, bool, error) {
	row := ms.DB.QueryRowContext(ctx, `
		UPDATE registrations SET
			payment_status = 'paid',
			razorpay_order_id = $2,
			razorpay_payment_id = $3,
			payment_date = $4,
			base_amount = COALESCE($5, base_amount),
			charged_amount = COALESCE($6, charged_amount),
			invoice_number = $7,
			failure_code = '',
			failure_reason = '',
			updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'
		RETURNING `+registrationColumns,
		id, s.OrderID, s.PaymentID, s.PaidAt, nullInt(s.BaseAmount), nullInt(s.ChargedAmount), s.InvoiceNumber)
	reg, err := scanRegistration(row)
	if err == nil {
		return reg, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("mark paid: %w", err)
	}
	current, err := ms.GetRegistration(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkFailed records a gateway failure on a registration that is still pending.
func (ms *Database) MarkFailed(ctx context.Context, id, code, reason string) (bool, error) {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE registrations SET payment_status = 'failed', failure_code = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`, id, code, reason)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return transitioned(ms.conditionResult(ctx, res, id))
}

// MarkAbandoned expires a pending registration whose current order is orderID.
func (ms *Database) MarkAbandoned(ctx context.Context, id, orderID string) (bool, error) {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE registrations SET payment_status = 'abandoned', updated_at = now()
		WHERE id = $1 AND payment_status = 'pending' AND razorpay_order_id = $2`, id, orderID)
	if err != nil {
		return false, fmt.Errorf("mark abandoned: %w", err)
	}
	return transitioned(ms.conditionResult(ctx, res, id))
}

// ListStalePending returns pending registrations whose order was created before cutoff.
func (ms *Database) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Registration, error) {
	rows, err := ms.DB.QueryContext(ctx, `
		SELECT `+registrationColumns+` FROM registrations
		WHERE payment_status = 'pending' AND razorpay_order_id IS NOT NULL AND order_created_at < $1
		ORDER BY order_created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()

	var out []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ClaimConfirmation flips confirmation_email_sent from false to true for a
// paid registration. Exactly one concurrent caller gets true.
func (ms *Database) ClaimConfirmation(ctx context.Context, id string) (bool, error) {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE registrations SET confirmation_email_sent = true, updated_at = now()
		WHERE id = $1 AND payment_status = 'paid' AND confirmation_email_sent = false`, id)
	if err != nil {
		return false, fmt.Errorf("claim confirmation: %w", err)
	}
	return transitioned(ms.conditionResult(ctx, res, id))
}

func (ms *Database) ReleaseConfirmation(ctx context.Context, id string) error {
	return ms.setConfirmation(ctx, id, false)
}

func (ms *Database) SetConfirmationSent(ctx context.Context, id string) error {
	return ms.setConfirmation(ctx, id, true)
}

func (ms *Database) setConfirmation(ctx context.Context, id string, sent bool) error {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE registrations SET confirmation_email_sent = $2, updated_at = now() WHERE id = $1`, id, sent)
	if err != nil {
		return fmt.Errorf("set confirmation flag: %w", err)
	}
	return ms.conditionResult(ctx, res, id)
}

func transitioned(err error) (bool, error) {
	if errors.Is(err, ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
