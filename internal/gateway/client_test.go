package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Order{
			ID: "order_123", Amount: req.Amount, Currency: req.Currency,
			Receipt: req.Receipt, Status: "created", Notes: req.Notes,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "rzp_test_key", "secret")
	order, err := c.CreateOrder(context.Background(), OrderRequest{
		Amount: 71600, Currency: "INR", Receipt: "rcpt_1",
		Notes: map[string]string{"registrationId": "reg-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "order_123" || order.Amount != 71600 || order.Notes["registrationId"] != "reg-1" {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestCreateOrderIsNotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "s").CreateOrder(context.Background(), OrderRequest{Amount: 100})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected APIError 502, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestFetchOrderRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			json.NewEncoder(w).Encode(Order{ID: "order_9", Status: "paid", Notes: map[string]string{"finalAmount": "647"}})
		}
	}))
	defer srv.Close()

	order, err := NewClient(srv.URL, "k", "s").FetchOrder(context.Background(), "order_9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != "paid" || order.Notes["finalAmount"] != "647" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "s").FetchOrderPayments(context.Background(), "order_1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "BAD_REQUEST_ERROR" || apiErr.Description == "" {
		t.Fatalf("unexpected error fields: %+v", apiErr)
	}
}

func TestMissingCredentials(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0", "", "").FetchOrder(context.Background(), "order_1")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSignatures(t *testing.T) {
	sig := PaymentSignature("order_1", "pay_1", "key_secret")
	if !VerifyPaymentSignature("order_1", "pay_1", sig, "key_secret") {
		t.Fatal("expected valid payment signature")
	}
	if VerifyPaymentSignature("order_1", "pay_2", sig, "key_secret") {
		t.Fatal("signature must bind the payment id")
	}
	if VerifyPaymentSignature("order_1", "pay_1", sig[:len(sig)-1]+"0", "key_secret") && sig[len(sig)-1] != '0' {
		t.Fatal("tampered signature accepted")
	}

	body := []byte(`{"event":"payment.captured"}`)
	hook := ComputeSignature(body, "whsec")
	if !VerifyWebhookSignature(body, hook, "whsec") {
		t.Fatal("expected valid webhook signature")
	}
	if VerifyWebhookSignature([]byte(`{"event":"payment.failed"}`), hook, "whsec") {
		t.Fatal("signature must bind the body")
	}
	if VerifyWebhookSignature(body, "", "whsec") {
		t.Fatal("missing header accepted")
	}
}
