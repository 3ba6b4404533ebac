package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatops/internal/config"
)

// requestIDHeader carries the per-request correlation ID.
const requestIDHeader = "X-Request-ID"

// RequestID assigns a request ID when the client did not send one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth rejects requests without a configured API key. Comparison is
// constant time. Health and metrics stay open for probes and scrapers.
func APIKeyAuth(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(header)
			if provided != "" {
				for _, key := range cfg.APIKeys {
					if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			logger.Warn("request rejected, bad api key",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			respondError(w, http.StatusUnauthorized, "invalid or missing API key")
		})
	}
}

// rateLimiter tracks per-IP request counts over a fixed window.
type rateLimiter struct {
	cfg    config.RateLimitConfig
	exempt map[string]bool
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientWindow
	stop    chan struct{}
}

type clientWindow struct {
	count     int
	windowEnd time.Time
}

func newRateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *rateLimiter {
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}
	rl := &rateLimiter{
		cfg:     cfg,
		exempt:  exempt,
		logger:  logger,
		clients: make(map[string]*clientWindow),
		stop:    make(chan struct{}),
	}
	if cfg.CleanupPeriod > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// allow reports whether a request from ip fits in the current window and
// returns the remaining budget and window reset time.
func (rl *rateLimiter) allow(ip string) (bool, int, time.Time) {
	now := time.Now()
	limit := rl.cfg.RequestsPerIP + rl.cfg.BurstSize

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cw, ok := rl.clients[ip]
	if !ok || now.After(cw.windowEnd) {
		cw = &clientWindow{windowEnd: now.Add(rl.cfg.WindowSize)}
		rl.clients[ip] = cw
	}

	if cw.count >= limit {
		return false, 0, cw.windowEnd
	}
	cw.count++
	return true, limit - cw.count, cw.windowEnd
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cfg.WindowSize)
			rl.mu.Lock()
			for ip, cw := range rl.clients {
				if cw.windowEnd.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *rateLimiter) Stop() {
	close(rl.stop)
}

// RateLimit applies per-IP request limiting with standard headers.
func RateLimit(cfg config.RateLimitConfig, logger *slog.Logger) (func(http.Handler) http.Handler, func()) {
	rl := newRateLimiter(cfg, logger)

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || rl.exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r, cfg.TrustProxy)
			allowed, remaining, reset := rl.allow(ip)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerIP+cfg.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

			if !allowed {
				logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(reset).Seconds())+1))
				respondError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return mw, rl.Stop
}

// clientIP extracts the caller's IP. Behind a trusted proxy the rightmost
// X-Forwarded-For entry wins; it was appended by the proxy closest to us and
// cannot be spoofed by the client.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				if ip := strings.TrimSpace(parts[i]); ip != "" {
					return ip
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
