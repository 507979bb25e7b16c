package httpserver

import (
	"context"
	"net/http"
	"time"

	"racereg/internal/config"
	"racereg/internal/handlers"
	"racereg/internal/logging"
	"racereg/internal/middleware"

	"github.com/go-chi/chi"
	chimw "github.com/go-chi/chi/middleware"
)

type Server struct {
	Serv *http.Server
}

// Routes builds the public, payment and admin routes of the service.
func Routes(handler *handlers.Server, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggingMiddleware(logging.Logg))

	r.Get("/health", handler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Get("/register/{id}", handler.GetRegistration)
		r.Post("/coupons/validate", handler.ValidateCoupon)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/create-order", handler.CreateOrder)
			r.Post("/cancel-order", handler.CancelOrder)
			r.Post("/verify-payment", handler.VerifyPayment)
			r.Post("/webhook", handler.Webhook)
			r.Get("/status/{registrationId}", handler.PaymentStatus)
			r.Get("/invoice/{registrationId}", handler.Invoice)
			r.Get("/price-breakdown/{raceCategory}", handler.PriceBreakdown)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", handler.AdminLogin)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(jwtSecret))
				r.Get("/registrations/{id}", handler.AdminGetRegistration)
				r.Post("/registrations/{id}/resend-confirmation", handler.AdminResendConfirmation)
				r.Get("/invoices/{number}", handler.AdminGetInvoice)

				r.Post("/coupons", handler.AdminCreateCoupon)
				r.Get("/coupons", handler.AdminListCoupons)
				r.Patch("/coupons/{code}", handler.AdminUpdateCoupon)
			})
		})
	})
	return r
}

func New(cfg config.Config, handler *handlers.Server) *Server {
	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      Routes(handler, cfg.JWTSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{Serv: serv}
}

// Start serves in the background; a listen failure is sent on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		logging.Logg.Info("Starting server", "address", s.Serv.Addr)
		if err := s.Serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logg.Error("Server failed to start", "error", err)
			errc <- err
		}
		close(errc)
	}()
	return errc
}

func (s *Server) Shutdown(ctx context.Context) error {
	logging.Logg.Info("Shutting down server gracefully")

	// Отменяем контекст после таймаута
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.Serv.Shutdown(shutdownCtx); err != nil {
		logging.Logg.Error("Server shutdown error", "error", err)
		return err
	}

	logging.Logg.Info("Server stopped")
	return nil
}
