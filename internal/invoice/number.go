package invoice

import (
	"hash/fnv"
	"strconv"
	"time"

	luhn "github.com/EClaesson/go-luhn"

	"racereg/internal/validation"
)

// NewNumber derives the invoice number of a payment: the settlement time in
// unix seconds, five digits taken from the payment id and a Luhn check digit.
// The same payment always gets the same number.
func NewNumber(paidAt time.Time, paymentID string) string {
	h := fnv.New32a()
	h.Write([]byte(paymentID))
	body := strconv.FormatInt(paidAt.Unix(), 10) + leftPad(strconv.FormatUint(uint64(h.Sum32()%100000), 10), 5)

	for d := 0; d < 10; d++ {
		candidate := body + strconv.Itoa(d)
		if ok, _ := luhn.IsValid(candidate); ok {
			return candidate
		}
	}
	// unreachable: exactly one check digit makes the number valid
	return body + "0"
}

// ValidNumber reports whether s looks like an invoice number we issued.
func ValidNumber(s string) bool {
	if len(s) < 8 || !validation.IsNumeric(s) {
		return false
	}
	ok, err := luhn.IsValid(s)
	return err == nil && ok
}

func leftPad(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}
