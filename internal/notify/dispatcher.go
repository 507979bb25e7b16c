// Package notify sends the confirmation email with the invoice attached once
// a registration is paid.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"racereg/internal/invoice"
	"racereg/internal/logging"
	"racereg/internal/mailer"
	"racereg/internal/model"
)

var ErrNotPaid = errors.New("registration is not paid")

type Store interface {
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	ClaimConfirmation(ctx context.Context, id string) (bool, error)
	ReleaseConfirmation(ctx context.Context, id string) error
	SetConfirmationSent(ctx context.Context, id string) error
}

type Renderer interface {
	Render(reg *model.Registration) ([]byte, error)
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<p>Hi {{.Name}},</p>
<p>Your registration for <b>{{.Event}}</b> ({{.Race}}) is confirmed.</p>
<p>Amount paid: {{.Currency}} {{.Amount}}<br>Invoice number: {{.Invoice}}<br>Registration ID: {{.ID}}</p>
<p>Your invoice is attached. See you at the start line!</p>`))

type Dispatcher struct {
	store     Store
	renderer  Renderer
	mailer    mailer.Mailer
	pool      *WorkerPool
	eventName string
	currency  string
	log       *slog.Logger
}

func NewDispatcher(store Store, renderer Renderer, m mailer.Mailer, eventName, currency string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		renderer:  renderer,
		mailer:    m,
		eventName: eventName,
		currency:  currency,
		log:       logging.Logg,
	}
}

// Run starts a worker pool for Enqueue. The returned pool must be stopped on shutdown.
func (d *Dispatcher) Run(ctx context.Context, workers int) *WorkerPool {
	d.pool = NewWorkerPool(ctx, workers, func(ctx context.Context, t Task) error {
		return d.SendConfirmation(ctx, t.RegistrationID, t.Source)
	})
	d.pool.Start()
	return d.pool
}

// Enqueue schedules SendConfirmation without waiting for it.
func (d *Dispatcher) Enqueue(registrationID, source string) {
	if d.pool == nil || !d.pool.AddTask(Task{RegistrationID: registrationID, Source: source}) {
		d.log.Warn("Confirmation not queued", "registration_id", registrationID, "source", source)
	}
}

// SendConfirmation emails the invoice once per registration. The latch is
// claimed before sending and handed back if delivery fails.
func (d *Dispatcher) SendConfirmation(ctx context.Context, id, source string) error {
	reg, err := d.store.GetRegistration(ctx, id)
	if err != nil {
		return fmt.Errorf("load registration: %w", err)
	}
	if reg.PaymentStatus != model.StatusPaid {
		d.log.Info("Skipping confirmation, not paid", "registration_id", id, "source", source)
		return nil
	}
	if reg.ConfirmationEmailSent {
		return nil
	}

	claimed, err := d.store.ClaimConfirmation(ctx, id)
	if err != nil {
		return fmt.Errorf("claim confirmation: %w", err)
	}
	if !claimed {
		return nil
	}

	msgID, err := d.deliver(ctx, reg)
	if err != nil {
		if rerr := d.store.ReleaseConfirmation(context.WithoutCancel(ctx), id); rerr != nil {
			d.log.Error("Failed to release confirmation latch", "registration_id", id, "error", rerr)
		}
		return fmt.Errorf("[%s] send confirmation: %w", source, err)
	}
	d.log.Info("Confirmation sent", "registration_id", id, "source", source, "message_id", msgID)
	return nil
}

// Resend delivers the confirmation again regardless of the latch.
func (d *Dispatcher) Resend(ctx context.Context, id string) (string, error) {
	reg, err := d.store.GetRegistration(ctx, id)
	if err != nil {
		return "", err
	}
	if reg.PaymentStatus != model.StatusPaid {
		return "", ErrNotPaid
	}
	msgID, err := d.deliver(ctx, reg)
	if err != nil {
		return "", err
	}
	if err := d.store.SetConfirmationSent(ctx, id); err != nil {
		return msgID, fmt.Errorf("set confirmation flag: %w", err)
	}
	d.log.Info("Confirmation resent", "registration_id", id, "message_id", msgID)
	return msgID, nil
}

func (d *Dispatcher) deliver(ctx context.Context, reg *model.Registration) (string, error) {
	pdf, err := d.renderer.Render(reg)
	if err != nil {
		return "", err
	}

	var amount int64
	if reg.ChargedAmount != nil {
		amount = *reg.ChargedAmount
	}
	var body bytes.Buffer
	err = confirmationTmpl.Execute(&body, map[string]any{
		"Name": reg.Name, "Event": d.eventName, "Race": reg.Race,
		"Currency": d.currency, "Amount": amount, "Invoice": reg.InvoiceNumber, "ID": reg.ID,
	})
	if err != nil {
		return "", err
	}

	return d.mailer.Send(ctx, mailer.Message{
		To:      []string{reg.Email},
		Subject: d.eventName + " registration confirmed",
		HTML:    body.String(),
		Attachments: []mailer.Attachment{{
			Filename:    invoice.FileName(reg),
			ContentType: "application/pdf",
			Content:     pdf,
		}},
	})
}
