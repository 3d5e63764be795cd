package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// authConfig guards admin endpoints with a shared token.
type authConfig struct {
	adminToken string
}

func authConfigFromEnv() authConfig {
	return authConfig{adminToken: os.Getenv("ADMIN_TOKEN")}
}

// require rejects the request unless X-Admin-Token matches. An empty configured
// token disables the endpoints entirely rather than leaving them open.
func (a authConfig) require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" {
			http.Error(w, "admin endpoints disabled", http.StatusForbidden)
			return
		}
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.adminToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// rateLimitConfig is a sliding window per client IP.
type rateLimitConfig struct {
	limit  int
	window time.Duration
}

func rateLimitFromEnv() rateLimitConfig {
	cfg := rateLimitConfig{limit: 300, window: time.Minute}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.limit = n
		}
	}
	return cfg
}

type ipRateLimiter struct {
	cfg rateLimitConfig

	mu      sync.Mutex
	windows map[string][]time.Time
}

func newIPRateLimiter(cfg rateLimitConfig) *ipRateLimiter {
	return &ipRateLimiter{cfg: cfg, windows: make(map[string][]time.Time)}
}

func (l *ipRateLimiter) allow(ip string) bool {
	now := time.Now()
	cutoff := now.Add(-l.cfg.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.windows[ip]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.cfg.limit {
		l.windows[ip] = kept
		return false
	}
	l.windows[ip] = append(kept, now)
	return true
}

func (l *ipRateLimiter) startCleanup() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-l.cfg.window)
			l.mu.Lock()
			for ip, times := range l.windows {
				if len(times) == 0 || !times[len(times)-1].After(cutoff) {
					delete(l.windows, ip)
				}
			}
			l.mu.Unlock()
		}
	}()
}

func (l *ipRateLimiter) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsConfig allows the dashboard origin(s) to call the API from the browser.
type corsConfig struct {
	allowedOrigins []string
}

func corsConfigFromEnv() corsConfig {
	raw := os.Getenv("CORS_ALLOWED_ORIGINS")
	if raw == "" {
		return corsConfig{}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return corsConfig{allowedOrigins: origins}
}

func (c corsConfig) originAllowed(origin string) bool {
	for _, o := range c.allowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func withCORS(c corsConfig, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token, X-Correlation-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
