package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature returns the hex HMAC-SHA256 of payload keyed with secret.
func ComputeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignature is what checkout returns to the client after a payment:
// HMAC over "orderId|paymentId" with the key secret.
func PaymentSignature(orderID, paymentID, keySecret string) string {
	return ComputeSignature([]byte(orderID+"|"+paymentID), keySecret)
}

func VerifyPaymentSignature(orderID, paymentID, signature, keySecret string) bool {
	return equalHex(PaymentSignature(orderID, paymentID, keySecret), signature)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the
// raw request body.
func VerifyWebhookSignature(body []byte, signature, webhookSecret string) bool {
	if signature == "" || webhookSecret == "" {
		return false
	}
	return equalHex(ComputeSignature(body, webhookSecret), signature)
}

func equalHex(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
