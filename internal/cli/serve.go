package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"racereg/internal/config"
	"racereg/internal/coupons"
	"racereg/internal/gateway"
	"racereg/internal/handlers"
	"racereg/internal/httpserver"
	"racereg/internal/invoice"
	"racereg/internal/logging"
	"racereg/internal/mailer"
	"racereg/internal/notify"
	"racereg/internal/payments"
	"racereg/internal/pricing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the notification workers and the stale order sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, s, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := cfg.Check(); err != nil {
		return err
	}
	log := logging.Logg

	catalog := pricing.DefaultCatalog()
	if cfg.RacesFile != "" {
		if catalog, err = pricing.LoadCatalog(cfg.RacesFile); err != nil {
			return err
		}
	}

	renderer := invoice.NewRenderer(cfg.EventName, cfg.Currency, catalog)
	dispatcher := notify.NewDispatcher(s, renderer, newMailer(cfg), cfg.EventName, cfg.Currency)
	pool := dispatcher.Run(context.WithoutCancel(ctx), cfg.NotifyWorkers)

	engine := payments.NewEngine(
		pricing.NewEngine(catalog, cfg.FeeRate),
		coupons.NewLedger(s),
		s,
		gateway.NewClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret),
		dispatcher,
		payments.Settings{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
			Currency:      cfg.Currency,
		},
	)
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		engine.RunSweeper(sweepCtx, cfg.SweepInterval, cfg.OrderTTL)
	}()

	server := httpserver.New(*cfg, &handlers.Server{
		Store:     s,
		Engine:    engine,
		Catalog:   catalog,
		Invoices:  renderer,
		Notifier:  dispatcher,
		JWTSecret: cfg.JWTSecret,
	})
	errc := server.Start()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case serveErr = <-errc:
	}

	cancelSweep()
	shutdownErr := server.Shutdown(context.WithoutCancel(ctx))
	<-sweepDone
	// confirmations already queued are still delivered
	pool.Stop()
	return errors.Join(serveErr, shutdownErr)
}

func newMailer(cfg *config.Config) mailer.Mailer {
	switch cfg.MailTransport {
	case "smtp":
		return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	case "resend":
		return mailer.NewResendMailer(cfg.ResendBaseURL, cfg.ResendAPIKey, cfg.MailFrom)
	default:
		return mailer.NewLogMailer(logging.Logg)
	}
}
