package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"racereg/internal/logging"
	"racereg/internal/model"
	"racereg/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

const MinPasswordLength = 8

type AdminStore interface {
	CreateAdmin(ctx context.Context, a *model.Admin) error
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
}

func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

func CheckPass(passHash, pass string) error {
	return bcrypt.CompareHashAndPassword([]byte(passHash), []byte(pass))
}

// CreateAdmin stores a new admin account with a bcrypt hash of password.
func CreateAdmin(ctx context.Context, s AdminStore, email, password string) (*model.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email is required")
	}
	if len(password) < MinPasswordLength {
		return nil, errors.New("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	a := &model.Admin{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	if err := s.CreateAdmin(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Login checks the credentials and returns a signed token.
func Login(ctx context.Context, s AdminStore, email, password, secret string) (string, *model.Admin, error) {
	a, err := s.GetAdminByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logging.Logg.Warn("Admin not found", "email", email)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := CheckPass(a.PasswordHash, password); err != nil {
		logging.Logg.Warn("The password failed", "email", email)
		return "", nil, ErrInvalidCredentials
	}
	token, err := GenerateToken(a.ID, a.Email, secret)
	if err != nil {
		return "", nil, err
	}
	return token, a, nil
}
