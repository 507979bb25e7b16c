package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"racereg/internal/auth"
	"racereg/internal/coupons"
	"racereg/internal/gateway"
	"racereg/internal/logging"
	"racereg/internal/model"
	"racereg/internal/payments"
	"racereg/internal/pricing"
	"racereg/internal/store"
	"racereg/internal/validation"
)

type Store interface {
	auth.AdminStore
	SaveDraft(ctx context.Context, reg *model.Registration) (*model.Registration, bool, error)
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	GetRegistrationByInvoice(ctx context.Context, number string) (*model.Registration, error)
	CreateCoupon(ctx context.Context, c *model.Coupon) error
	ListCoupons(ctx context.Context) ([]model.Coupon, error)
	SetCouponActive(ctx context.Context, code string, active bool) (*model.Coupon, error)
}

type Renderer interface {
	Render(reg *model.Registration) ([]byte, error)
}

type Resender interface {
	Resend(ctx context.Context, id string) (string, error)
}

type Server struct {
	Store     Store
	Engine    *payments.Engine
	Catalog   *pricing.Catalog
	Invoices  Renderer
	Notifier  Resender
	JWTSecret string
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logg.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Bad request format")
		return false
	}
	return true
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		rejected *coupons.RejectedError
		gwErr    *payments.GatewayError
	)
	switch {
	case errors.As(err, &rejected):
		status := http.StatusBadRequest
		if rejected.Reason == coupons.ReasonExhausted {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"success": false, "message": rejected.Message(), "reason": rejected.Reason})
	case errors.Is(err, payments.ErrInvalidRace),
		errors.Is(err, payments.ErrInvalidCouponCode),
		errors.Is(err, payments.ErrMissingFields),
		errors.Is(err, payments.ErrOrderMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payments.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "Payment verification failed. Invalid signature.")
	case errors.Is(err, payments.ErrInvalidWebhookSignature):
		writeError(w, http.StatusBadRequest, "Invalid webhook signature")
	case errors.Is(err, payments.ErrAlreadyPaid), errors.Is(err, payments.ErrCheckoutInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.As(err, &gwErr), errors.Is(err, gateway.ErrNotConfigured):
		writeError(w, http.StatusBadGateway, "Failed to create payment order")
	default:
		logging.Logg.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Race       string `json:"race"`
	TShirtSize string `json:"tshirtSize"`
}

// Register creates a registration, or refreshes the unpaid one already
// filed under the same email.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	reg := &model.Registration{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Race:       req.Race,
		TShirtSize: req.TShirtSize,
	}

	var problems []string
	if err := validation.Registration(reg); err != nil {
		problems = strings.Split(err.Error(), "\n")
	}
	if !s.Catalog.Valid(reg.Race) {
		problems = append(problems, "race must be one of "+strings.Join(s.Catalog.Keys(), ", "))
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Validation failed", "errors": problems})
		return
	}

	saved, created, err := s.Store.SaveDraft(r.Context(), reg)
	if errors.Is(err, store.ErrAlreadyRegistered) {
		writeError(w, http.StatusConflict, "This email is already registered and paid")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"success": true, "registration": saved})
}

func (s *Server) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := s.Store.GetRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "registration": reg})
}

type validateCouponRequest struct {
	Code         string `json:"code"`
	RaceCategory string `json:"raceCategory"`
}

// ValidateCoupon previews the payment summary for a coupon without
// reserving a slot.
func (s *Server) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" || req.RaceCategory == "" {
		writeError(w, http.StatusBadRequest, "Coupon code and race category are required")
		return
	}
	preview, err := s.Engine.PreviewCoupon(r.Context(), req.RaceCategory, req.Code)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Coupon applied",
		"coupon":         preview.Coupon,
		"paymentSummary": preview.Summary,
	})
}
