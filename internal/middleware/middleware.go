package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
)

type contextKey string

const AdminContextKey contextKey = "admin"

var ErrNoAdmin = errors.New("admin not found in context")

// AdminFromContext returns the email of the authenticated admin.
func AdminFromContext(r *http.Request) (string, error) {
	email, ok := r.Context().Value(AdminContextKey).(string)
	if !ok {
		return "", ErrNoAdmin
	}
	return email, nil
}

type (
	responseData struct {
		status int
		size   int
	}
	loggingResponseWriter struct {
		http.ResponseWriter
		responseData *responseData
	}
)

func (r *loggingResponseWriter) Write(b []byte) (int, error) {
	if r.responseData.status == 0 {
		r.responseData.status = http.StatusOK
	}
	size, err := r.ResponseWriter.Write(b)
	r.responseData.size += size
	return size, err
}

func (r *loggingResponseWriter) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.responseData.status = statusCode
}

func LoggingMiddleware(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rd := &responseData{}
			lw := &loggingResponseWriter{ResponseWriter: w, responseData: rd}

			next.ServeHTTP(lw, r)

			log.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"uri", r.RequestURI,
				"status", rd.status,
				"size", rd.size,
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
