package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"racereg/internal/model"
)

func (ms *Database) CreateAdmin(ctx context.Context, a *model.Admin) error {
	_, err := ms.DB.ExecContext(ctx,
		`INSERT INTO admins (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Email, a.PasswordHash, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

func (ms *Database) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var a model.Admin
	err := ms.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM admins WHERE email = $1`, email).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
