// Package invoice renders the PDF receipt attached to confirmation emails.
package invoice

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"racereg/internal/model"
	"racereg/internal/pricing"
)

type Renderer struct {
	EventName string
	Currency  string
	catalog   *pricing.Catalog
}

func NewRenderer(eventName, currency string, catalog *pricing.Catalog) *Renderer {
	return &Renderer{EventName: eventName, Currency: currency, catalog: catalog}
}

// Render produces the invoice of a paid registration.
func (r *Renderer) Render(reg *model.Registration) ([]byte, error) {
	if reg.PaymentStatus != model.StatusPaid {
		return nil, fmt.Errorf("registration %s is not paid", reg.ID)
	}

	raceTitle := reg.Race
	if race, err := r.catalog.Race(reg.Race); err == nil && race.Title != "" {
		raceTitle = race.Title
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Invoice "+reg.InvoiceNumber, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, r.EventName, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, "Registration Invoice", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	field := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(50, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}
	field("Invoice number", reg.InvoiceNumber)
	if reg.PaymentDate != nil {
		field("Payment date", reg.PaymentDate.Format("02 Jan 2006 15:04 MST"))
	}
	field("Registration ID", reg.ID)
	field("Participant", reg.Name)
	field("Email", reg.Email)
	field("Phone", reg.Phone)
	field("Race", raceTitle)
	field("T-shirt size", reg.TShirtSize)
	field("Payment ID", deref(reg.RazorpayPaymentID))
	field("Order ID", deref(reg.RazorpayOrderID))
	pdf.Ln(6)

	pdf.SetFillColor(235, 235, 235)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(120, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(0, 8, "Amount ("+r.Currency+")", "1", 1, "R", true, 0, "")

	line := func(desc string, amount int64) {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(120, 8, desc, "1", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, fmt.Sprintf("%d.00", amount), "1", 1, "R", false, 0, "")
	}
	base := derefInt(reg.BaseAmount)
	line("Race entry: "+raceTitle, base)
	if reg.DiscountAmount > 0 {
		code := deref(reg.CouponCode)
		line("Coupon "+code, -reg.DiscountAmount)
	}
	if reg.GatewayFee > 0 {
		line("Payment gateway fee", reg.GatewayFee)
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(120, 8, "Total paid", "1", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("%d.00", derefInt(reg.ChargedAmount)), "1", 1, "R", false, 0, "")

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "This is a computer generated invoice and does not require a signature.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the attachment name used for a registration's invoice.
func FileName(reg *model.Registration) string {
	if reg.InvoiceNumber != "" {
		return "invoice-" + reg.InvoiceNumber + ".pdf"
	}
	return "invoice-" + reg.ID + ".pdf"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
