package validation

import (
	"errors"
	"testing"

	"racereg/internal/model"
)

func TestRegistration(t *testing.T) {
	tests := []struct {
		name string
		reg  model.Registration
		want []error
	}{
		{
			name: "valid and normalized",
			reg:  model.Registration{Name: " Asha ", Email: "Asha@Example.COM", Phone: "9876543210", TShirtSize: "xl", Race: " 5KM"},
		},
		{
			name: "short name",
			reg:  model.Registration{Name: "A", Email: "a@b.co", Phone: "9876543210", TShirtSize: "M"},
			want: []error{ErrName},
		},
		{
			name: "everything wrong",
			reg:  model.Registration{Name: "", Email: "nope", Phone: "12345", TShirtSize: "XXXL"},
			want: []error{ErrName, ErrEmail, ErrPhone, ErrTShirtSize},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Registration(&tt.reg)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tt.reg.Email != "asha@example.com" || tt.reg.TShirtSize != "XL" || tt.reg.Name != "Asha" || tt.reg.Race != "5KM" {
					t.Fatalf("fields not normalized: %+v", tt.reg)
				}
				return
			}
			for _, w := range tt.want {
				if !errors.Is(err, w) {
					t.Errorf("expected %v in %v", w, err)
				}
			}
		})
	}
}

func TestIsNumeric(t *testing.T) {
	if !IsNumeric("0123456789") || IsNumeric("12a4") || IsNumeric("") {
		t.Fatal("IsNumeric misclassified input")
	}
}
