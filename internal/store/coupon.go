package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"racereg/internal/model"
)

const couponColumns = `code, discount_value, is_active, expires_at, max_usage, usage_count, reserved_count, created_at, updated_at`

func scanCoupon(row rowScanner) (*model.Coupon, error) {
	var (
		c        model.Coupon
		expires  sql.NullTime
		maxUsage sql.NullInt64
	)
	err := row.Scan(&c.Code, &c.DiscountValue, &c.IsActive, &expires, &maxUsage,
		&c.UsageCount, &c.ReservedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	if maxUsage.Valid {
		c.MaxUsage = &maxUsage.Int64
	}
	return &c, nil
}

func (ms *Database) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	row := ms.DB.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	return scanCoupon(row)
}

// ReserveCoupon checks eligibility and takes a slot in one statement, so two
// checkouts can never both take the last one.
func (ms *Database) ReserveCoupon(ctx context.Context, code string, now time.Time) (*model.Coupon, error) {
	row := ms.DB.QueryRowContext(ctx, `
		UPDATE coupons SET reserved_count = reserved_count + 1, updated_at = now()
		WHERE code = $1
			AND is_active
			AND (expires_at IS NULL OR expires_at >= $2)
			AND (max_usage IS NULL OR usage_count + reserved_count < max_usage)
		RETURNING `+couponColumns, code, now)
	c, err := scanCoupon(row)
	if errors.Is(err, ErrNotFound) {
		if _, gerr := ms.GetCoupon(ctx, code); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConditionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("reserve coupon: %w", err)
	}
	return c, nil
}

func (ms *Database) CommitCoupon(ctx context.Context, code string, held bool) error {
	q := `UPDATE coupons SET usage_count = usage_count + 1, updated_at = now() WHERE code = $1`
	if held {
		q = `UPDATE coupons SET usage_count = usage_count + 1,
			reserved_count = GREATEST(reserved_count - 1, 0), updated_at = now()
			WHERE code = $1`
	}
	res, err := ms.DB.ExecContext(ctx, q, code)
	if err != nil {
		return fmt.Errorf("commit coupon: %w", err)
	}
	return requireRow(res)
}

func (ms *Database) ReleaseCoupon(ctx context.Context, code string) error {
	res, err := ms.DB.ExecContext(ctx, `
		UPDATE coupons SET reserved_count = GREATEST(reserved_count - 1, 0), updated_at = now()
		WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("release coupon: %w", err)
	}
	return requireRow(res)
}

func (ms *Database) CreateCoupon(ctx context.Context, c *model.Coupon) error {
	_, err := ms.DB.ExecContext(ctx, `
		INSERT INTO coupons (code, discount_value, is_active, expires_at, max_usage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		c.Code, c.DiscountValue, c.IsActive, nullTime(c.ExpiresAt), nullInt(c.MaxUsage), c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("create coupon: %w", err)
	}
	return nil
}

func (ms *Database) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	rows, err := ms.DB.QueryContext(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var out []model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (ms *Database) SetCouponActive(ctx context.Context, code string, active bool) (*model.Coupon, error) {
	row := ms.DB.QueryRowContext(ctx, `
		UPDATE coupons SET is_active = $2, updated_at = now() WHERE code = $1
		RETURNING `+couponColumns, code, active)
	return scanCoupon(row)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
