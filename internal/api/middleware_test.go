package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatops/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRequestID(t *testing.T) {
	h := RequestID(okHandler())

	t.Run("generated when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		id := rec.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("X-Request-ID = %q, not a uuid", id)
		}
	})

	t.Run("client id preserved", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "client-supplied")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
			t.Errorf("X-Request-ID = %q", got)
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled: true,
		APIKeys: []string{"valid-key"},
	}
	h := APIKeyAuth(cfg, discardLogger())(okHandler())

	tests := []struct {
		name     string
		path     string
		key      string
		wantCode int
	}{
		{"valid key", "/v1/status", "valid-key", http.StatusOK},
		{"wrong key", "/v1/status", "wrong", http.StatusUnauthorized},
		{"missing key", "/v1/status", "", http.StatusUnauthorized},
		{"health exempt", "/health", "", http.StatusOK},
		{"metrics exempt", "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}

	t.Run("disabled passes everything", func(t *testing.T) {
		h := APIKeyAuth(config.AuthConfig{}, discardLogger())(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("custom header", func(t *testing.T) {
		cfg := config.AuthConfig{Enabled: true, APIKeys: []string{"k"}, APIKeyHeader: "Authorization"}
		h := APIKeyAuth(cfg, discardLogger())(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.Header.Set("Authorization", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 2,
		BurstSize:     0,
		WindowSize:    time.Minute,
		ExemptPaths:   []string{"/health"},
	}
	mw, stop := RateLimit(cfg, discardLogger())
	defer stop()
	h := mw(okHandler())

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.1:50000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("/v1/status"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	rec := send("/v1/status")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	t.Run("exempt path never limited", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			if rec := send("/health"); rec.Code != http.StatusOK {
				t.Fatalf("health request %d status = %d", i, rec.Code)
			}
		}
	})

	t.Run("other clients unaffected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.RemoteAddr = "192.0.2.2:50000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{"direct", "10.0.0.1:1234", "", false, "10.0.0.1"},
		{"xff ignored without proxy trust", "10.0.0.1:1234", "198.51.100.7", false, "10.0.0.1"},
		{"xff rightmost wins", "10.0.0.1:1234", "198.51.100.7, 203.0.113.4", true, "203.0.113.4"},
		{"single xff", "10.0.0.1:1234", "198.51.100.7", true, "198.51.100.7"},
		{"no port", "10.0.0.9", "", false, "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
