package validation

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"racereg/internal/model"
)

var (
	numericRegex = regexp.MustCompile(`^[0-9]+$`)
	emailRegex   = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	phoneRegex   = regexp.MustCompile(`^[0-9]{10}$`)
)

var (
	ErrName       = errors.New("name must be between 2 and 100 characters")
	ErrEmail      = errors.New("please provide a valid email")
	ErrPhone      = errors.New("please provide a valid 10-digit phone number")
	ErrTShirtSize = errors.New("t-shirt size must be one of XS, S, M, L, XL, XXL")
)

func IsNumeric(word string) bool {
	return numericRegex.MatchString(word)
}

// Registration trims and normalizes the profile fields in place and returns
// every problem found. Race keys are checked by the caller against the catalog.
func Registration(r *model.Registration) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	r.TShirtSize = strings.ToUpper(strings.TrimSpace(r.TShirtSize))
	r.Race = strings.TrimSpace(r.Race)

	var errs []error
	if n := utf8.RuneCountInString(r.Name); n < 2 || n > 100 {
		errs = append(errs, ErrName)
	}
	if !emailRegex.MatchString(r.Email) {
		errs = append(errs, ErrEmail)
	}
	if !phoneRegex.MatchString(r.Phone) {
		errs = append(errs, ErrPhone)
	}
	if !slices.Contains(model.TShirtSizes, r.TShirtSize) {
		errs = append(errs, ErrTShirtSize)
	}
	return errors.Join(errs...)
}
