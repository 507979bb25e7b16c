package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	"racereg/internal/auth"
	"racereg/internal/coupons"
	"racereg/internal/invoice"
	"racereg/internal/logging"
	"racereg/internal/middleware"
	"racereg/internal/model"
	"racereg/internal/notify"
	"racereg/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	token, admin, err := auth.Login(r.Context(), s.Store, req.Email, req.Password, s.JWTSecret)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Authorization", "Bearer "+token)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token, "admin": admin})
}

func (s *Server) AdminGetRegistration(w http.ResponseWriter, r *http.Request) {
	s.GetRegistration(w, r)
}

func (s *Server) AdminResendConfirmation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email, _ := middleware.AdminFromContext(r)
	msgID, err := s.Notifier.Resend(r.Context(), id)
	switch {
	case errors.Is(err, notify.ErrNotPaid):
		writeError(w, http.StatusConflict, "Registration is not paid")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Registration not found")
		return
	case err != nil:
		logging.Logg.Error("Failed to resend confirmation", "registration_id", id, "admin", email, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to send confirmation email")
		return
	}
	logging.Logg.Info("Confirmation resent by admin", "registration_id", id, "admin", email)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": msgID})
}

// AdminGetInvoice looks a paid registration up by its invoice number.
func (s *Server) AdminGetInvoice(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if !invoice.ValidNumber(number) {
		writeError(w, http.StatusBadRequest, "Invalid invoice number")
		return
	}
	reg, err := s.Store.GetRegistrationByInvoice(r.Context(), number)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "pdf" {
		s.writePDF(w, reg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "registration": reg})
}

type couponRequest struct {
	Code          string          `json:"code"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	IsActive      *bool           `json:"isActive"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	MaxUsage      *int64          `json:"maxUsage"`
}

func (s *Server) AdminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := coupons.New(req.Code, req.DiscountValue, req.ExpiresAt, req.MaxUsage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if err := s.Store.CreateCoupon(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Coupon already exists")
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "coupon": c})
}

func (s *Server) AdminListCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListCoupons(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []model.Coupon{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "coupons": list})
}

type patchCouponRequest struct {
	IsActive *bool `json:"isActive"`
}

func (s *Server) AdminUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req patchCouponRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "isActive is required")
		return
	}
	code, err := coupons.Normalize(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.Store.SetCouponActive(r.Context(), code, *req.IsActive)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "coupon": c})
}
