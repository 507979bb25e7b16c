package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"racereg/internal/invoice"
	"racereg/internal/logging"
	"racereg/internal/model"
	"racereg/internal/payments"
)

const SignatureHeader = "X-Razorpay-Signature"

func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in payments.CreateOrderInput
	if !decode(w, r, &in) {
		return
	}
	res, err := s.Engine.CreateOrder(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"orderId":        res.Order.OrderID,
		"amount":         res.Order.Amount,
		"currency":       res.Order.Currency,
		"receipt":        res.Order.Receipt,
		"keyId":          res.Order.KeyID,
		"raceCategory":   res.RaceCategory,
		"couponCode":     res.CouponCode,
		"paymentSummary": res.Summary,
	})
}

type cancelOrderRequest struct {
	RegistrationID string `json:"registrationId"`
	CouponCode     string `json:"couponCode"`
}

// CancelOrder always answers success; releasing the coupon is best effort.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeLenient(r, &req); err != nil {
		logging.Logg.Warn("Unreadable cancel request", "error", err)
	}
	s.Engine.CancelOrder(r.Context(), req.RegistrationID, req.CouponCode)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Order cancelled"})
}

func (s *Server) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var in payments.VerifyInput
	if !decode(w, r, &in) {
		return
	}
	res, err := s.Engine.VerifyPayment(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Payment verified successfully and confirmation dispatched.",
		"alreadyPaid":   res.AlreadyPaid,
		"registration":  res.Registration,
		"invoiceNumber": res.Registration.InvoiceNumber,
	})
}

// Webhook must see the raw body; the signature covers its exact bytes.
func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable body")
		return
	}
	if r.Header.Get(SignatureHeader) == "" {
		writeError(w, http.StatusBadRequest, "Webhook signature missing")
		return
	}
	res, err := s.Engine.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.CheckStatus(r.Context(), chi.URLParam(r, "registrationId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"paymentStatus":     st.PaymentStatus,
		"razorpayOrderId":   st.RazorpayOrderID,
		"razorpayPaymentId": st.RazorpayPaymentID,
		"paymentDate":       st.PaymentDate,
		"baseAmount":        st.BaseAmount,
		"chargedAmount":     st.ChargedAmount,
		"couponCode":        st.CouponCode,
	})
}

func (s *Server) Invoice(w http.ResponseWriter, r *http.Request) {
	reg, err := s.Store.GetRegistration(r.Context(), chi.URLParam(r, "registrationId"))
	if err != nil || reg.PaymentStatus != model.StatusPaid {
		writeError(w, http.StatusNotFound, "Invoice not available")
		return
	}
	s.writePDF(w, reg)
}

func (s *Server) writePDF(w http.ResponseWriter, reg *model.Registration) {
	pdf, err := s.Invoices.Render(reg)
	if err != nil {
		logging.Logg.Error("Failed to render invoice", "registration_id", reg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+invoice.FileName(reg)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (s *Server) PriceBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := s.Engine.GetPriceBreakdown(chi.URLParam(r, "raceCategory"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "breakdown": b})
}

func decodeLenient(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}
