package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"racereg/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Database is the Postgres backend. Every state transition the payment flow
// relies on is a single conditional statement.
type Database struct {
	DBDSN string
	DB    *sql.DB
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logging.Logg.Error("Couldn't connect to the database with an error", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	ms := &Database{DBDSN: dsn, DB: db}
	if err := ms.initDBTables(ctx); err != nil {
		db.Close()
		logging.Logg.Error("Failed to initialize DB", "error", err)
		return nil, err
	}
	logging.Logg.Info("Database connection was created")
	return ms, nil
}

func (ms *Database) Close() error {
	return ms.DB.Close()
}

func (ms *Database) initDBTables(ctx context.Context) error {
	var errs []error
	stmts := []string{
		`create table if not exists registrations (
			id TEXT PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			email VARCHAR(254) NOT NULL UNIQUE,
			phone VARCHAR(10) NOT NULL,
			race VARCHAR(20) NOT NULL,
			tshirt_size VARCHAR(4) NOT NULL,
			payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
			base_amount BIGINT,
			charged_amount BIGINT,
			discount_amount BIGINT NOT NULL DEFAULT 0,
			gateway_fee BIGINT NOT NULL DEFAULT 0,
			coupon_code VARCHAR(12),
			coupon_state VARCHAR(20) NOT NULL DEFAULT '',
			razorpay_order_id VARCHAR(64),
			razorpay_payment_id VARCHAR(64),
			payment_date TIMESTAMPTZ,
			order_created_at TIMESTAMPTZ,
			failure_code VARCHAR(64) NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			invoice_number VARCHAR(32) NOT NULL DEFAULT '',
			confirmation_email_sent BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`create index if not exists registrations_order_idx on registrations (razorpay_order_id);`,
		`create index if not exists registrations_stale_idx on registrations (payment_status, order_created_at);`,
		`create index if not exists registrations_invoice_idx on registrations (invoice_number);`,

		`create table if not exists coupons (
			code VARCHAR(12) PRIMARY KEY,
			discount_value NUMERIC(5, 2) NOT NULL CHECK (discount_value >= 0 AND discount_value <= 100),
			is_active BOOLEAN NOT NULL DEFAULT false,
			expires_at TIMESTAMPTZ,
			max_usage BIGINT,
			usage_count BIGINT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			reserved_count BIGINT NOT NULL DEFAULT 0 CHECK (reserved_count >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`create table if not exists admins (
			id TEXT PRIMARY KEY,
			email VARCHAR(254) NOT NULL UNIQUE,
			password_hash VARCHAR(60) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, s := range stmts {
		_, err := ms.DB.ExecContext(ctx, s)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
