package httpserver

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"racereg/internal/auth"
	"racereg/internal/handlers"
	"racereg/internal/pricing"
	"racereg/internal/store"
)

func TestRoutes(t *testing.T) {
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h := Routes(&handlers.Server{Store: s, Catalog: pricing.DefaultCatalog(), JWTSecret: "secret"}, "secret")
	token, err := auth.GenerateToken("admin-1", "admin@example.com", "secret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{name: "health", method: http.MethodGet, path: "/health", status: http.StatusOK},
		{name: "admin without token", method: http.MethodGet, path: "/api/admin/coupons", status: http.StatusUnauthorized},
		{name: "admin with bad token", method: http.MethodGet, path: "/api/admin/coupons", token: "garbage", status: http.StatusUnauthorized},
		{name: "admin with token", method: http.MethodGet, path: "/api/admin/coupons", token: token, status: http.StatusOK},
		{name: "public registration lookup", method: http.MethodGet, path: "/api/register/missing", status: http.StatusNotFound},
		{name: "unknown route", method: http.MethodGet, path: "/api/user/orders", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}
