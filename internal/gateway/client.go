// Package gateway talks to the Razorpay orders API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"racereg/internal/logging"
)

const (
	DefaultBaseURL = "https://api.razorpay.com"
	MaxAttempts    = 3
	RequestTimeout = 10 * time.Second
)

var ErrNotConfigured = errors.New("payment gateway credentials are not configured")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway responded %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("gateway responded %d", e.StatusCode)
}

type OrderRequest struct {
	Amount   int64             `json:"amount"` // paise
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type Order struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"` // created, attempted, paid
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

type Payment struct {
	ID               string            `json:"id"`
	Entity           string            `json:"entity"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"` // created, authorized, captured, refunded, failed
	Method           string            `json:"method"`
	Email            string            `json:"email"`
	Contact          string            `json:"contact"`
	ErrorCode        string            `json:"error_code"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
	CreatedAt        int64             `json:"created_at"`
}

type paymentCollection struct {
	Entity string    `json:"entity"`
	Count  int       `json:"count"`
	Items  []Payment `json:"items"`
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type Client struct {
	BaseURL    string
	KeyID      string
	keySecret  string
	HTTPClient *http.Client
}

func NewClient(baseURL, keyID, keySecret string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		KeyID:      keyID,
		keySecret:  keySecret,
		HTTPClient: &http.Client{Timeout: RequestTimeout},
	}
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID, nil, &order); err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return &order, nil
}

func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var coll paymentCollection
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/payments", nil, &coll); err != nil {
		return nil, fmt.Errorf("fetch payments of %s: %w", orderID, err)
	}
	return coll.Items, nil
}

// do sends one API call. GETs are retried on transport errors and 5xx;
// every method is retried on 429, which the gateway answers before doing any work.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.KeyID == "" || c.keySecret == "" {
		return ErrNotConfigured
	}
	idempotent := method == http.MethodGet

	var lastErr error
	for i := 0; i < MaxAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth(c.KeyID, c.keySecret)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
			if !idempotent {
				return lastErr
			}
			sleep(ctx, backoff(i))
			continue
		}

		retry, wait, err := c.handle(resp, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || (!idempotent && resp.StatusCode != http.StatusTooManyRequests) {
			return err
		}
		if wait <= 0 {
			wait = backoff(i)
		}
		sleep(ctx, wait)
	}
	logging.Logg.Warn("All retry attempts failed", "path", path, "error", lastErr)
	return fmt.Errorf("failed after retries: %w", lastErr)
}

func (c *Client) handle(resp *http.Response, out any) (retry bool, wait time.Duration, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, 0, fmt.Errorf("failed to decode response: %w", err)
		}
		return false, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return true, parseRetryAfter(resp.Header.Get("Retry-After")), &APIError{StatusCode: resp.StatusCode}

	case resp.StatusCode >= 500:
		return true, 0, &APIError{StatusCode: resp.StatusCode}

	default:
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if rerr == nil {
			var env errorEnvelope
			if json.Unmarshal(raw, &env) == nil {
				apiErr.Code = env.Error.Code
				apiErr.Description = env.Error.Description
			}
		}
		return false, 0, apiErr
	}
}

func backoff(attempt int) time.Duration {
	return (1 << attempt) * 200 * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func parseRetryAfter(retryAfter string) time.Duration {
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if date, err := time.Parse(time.RFC1123, retryAfter); err == nil {
		return time.Until(date)
	}

	return 0
}
