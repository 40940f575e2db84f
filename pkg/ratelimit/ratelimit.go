// Package ratelimit provides per-client-IP request throttling for the HTTP
// API surface: sliding per-minute/per-hour counters, concurrent-request
// caps, and temporary bans for clients that blow past the limit.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/parsehaven/docforge/pkg/security"
)

// Config controls the throttling policy.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
	MaxConcurrent     int
	CleanupInterval   time.Duration
	BanDuration       time.Duration
}

// DefaultConfig matches SPEC_FULL's rate_limit_per_minute default with a
// proportionate hourly ceiling and a short ban for repeat offenders.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		RequestsPerHour:   3000,
		MaxConcurrent:     10,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       15 * time.Minute,
	}
}

// client tracks sliding-window state for one IP.
type client struct {
	requestsThisMinute int
	requestsThisHour   int
	lastMinute         time.Time
	lastHour           time.Time
	lastRequest        time.Time
	bannedUntil        time.Time
	concurrent         int
}

// Limiter enforces Config against incoming requests, keyed by client IP.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	cfg     Config
	cleanup *time.Ticker
	done    chan struct{}
}

// New builds a Limiter and starts its background cleanup goroutine.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	l := &Limiter{
		clients: make(map[string]*client),
		cfg:     cfg,
		cleanup: time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// CheckLimit enforces the configured policy for one request's client IP. A
// non-nil error means the request should be rejected with 429; the caller
// must call Release once the request completes if CheckLimit succeeded.
func (l *Limiter) CheckLimit(r *http.Request) error {
	ip := clientIP(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		now := time.Now()
		c = &client{lastMinute: now, lastHour: now}
		l.clients[ip] = c
	}

	now := time.Now()
	if now.Before(c.bannedUntil) {
		return fmt.Errorf("IP %s is temporarily banned", security.SanitizeForLogging(ip))
	}

	if now.Sub(c.lastMinute) >= time.Minute {
		c.requestsThisMinute = 0
		c.lastMinute = now
	}
	if now.Sub(c.lastHour) >= time.Hour {
		c.requestsThisHour = 0
		c.lastHour = now
	}

	if c.concurrent >= l.cfg.MaxConcurrent {
		return fmt.Errorf("too many concurrent requests from IP %s", security.SanitizeForLogging(ip))
	}
	if c.requestsThisMinute >= l.cfg.RequestsPerMinute {
		c.requestsThisMinute++
		if c.requestsThisMinute > l.cfg.RequestsPerMinute*2 {
			c.bannedUntil = now.Add(l.cfg.BanDuration)
		}
		return fmt.Errorf("rate limit exceeded for IP %s (requests per minute)", security.SanitizeForLogging(ip))
	}
	if c.requestsThisHour >= l.cfg.RequestsPerHour {
		return fmt.Errorf("rate limit exceeded for IP %s (requests per hour)", security.SanitizeForLogging(ip))
	}

	c.requestsThisMinute++
	c.requestsThisHour++
	c.lastRequest = now
	c.concurrent++
	return nil
}

// Release decrements the concurrent-request counter for a request's client
// IP. Must be called exactly once per successful CheckLimit.
func (l *Limiter) Release(r *http.Request) {
	ip := clientIP(r)
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[ip]; ok && c.concurrent > 0 {
		c.concurrent--
	}
}

// Middleware wraps next with rate limiting, returning 429 on rejection.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := l.CheckLimit(r); err != nil {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		defer l.Release(r)
		next(w, r)
	}
}

// Stats reports a point-in-time snapshot for /health and /metrics.
type Stats struct {
	ActiveClients   int
	BannedClients   int
	TotalConcurrent int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Stats
	now := time.Now()
	for _, c := range l.clients {
		s.ActiveClients++
		s.TotalConcurrent += c.concurrent
		if now.Before(c.bannedUntil) {
			s.BannedClients++
		}
	}
	return s
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	l.cleanup.Stop()
	select {
	case l.done <- struct{}{}:
	default:
	}
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanup.C:
			l.cleanupOldClients()
		case <-l.done:
			return
		}
	}
}

// cleanupOldClients evicts clients idle for 2 hours with no in-flight
// requests, bounding memory for long-running API processes.
func (l *Limiter) cleanupOldClients() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-2 * time.Hour)
	for ip, c := range l.clients {
		if c.lastRequest.Before(cutoff) && c.concurrent == 0 {
			delete(l.clients, ip)
		}
	}
}

// clientIP extracts the originating IP, preferring proxy headers over the
// raw connection address since the API typically sits behind a reverse
// proxy or load balancer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			ip := strings.TrimSpace(part)
			if ip != "" && net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestSizeLimiter rejects requests whose declared or actual body size
// exceeds maxSize, protecting upload endpoints from oversized payloads.
func RequestSizeLimiter(maxSize int64) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				http.Error(w, fmt.Sprintf("request body too large (max %d bytes)", maxSize), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next(w, r)
		}
	}
}
