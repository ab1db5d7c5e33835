package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bazaarmirror/bazaarmirror/server/internal/config"
)

// Limiter keeps one token bucket per client key.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*bucket
	idleTTL time.Duration
	now     func() time.Time // injectable for deterministic tests
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a Limiter allowing limit events per second with the
// given burst for each client.
func NewLimiter(limit rate.Limit, burst int, idleTTL time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*bucket),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// PerMinute returns the limit and burst for n requests per minute.
func PerMinute(n int) (rate.Limit, int) {
	return rate.Every(time.Minute / time.Duration(n)), n
}

// PerSecond returns the limit and burst for n requests per second.
func PerSecond(n int) (rate.Limit, int) {
	return rate.Limit(n), n
}

// Allow reports whether client key may make a request now, consuming a
// token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	b, ok := l.clients[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// SetLimit changes the limit and burst for new and existing clients.
func (l *Limiter) SetLimit(limit rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.limit, l.burst = limit, burst
	for _, b := range l.clients {
		b.lim.SetLimitAt(now, limit)
		b.lim.SetBurstAt(now, burst)
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Evict removes clients not seen within the idle TTL before now and returns
// how many were removed.
func (l *Limiter) Evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.idleTTL)
	removed := 0
	for key, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Observer is notified of rejected requests. *metrics.Registry satisfies it.
type Observer interface {
	ObserveRateLimited(route string)
}

// Set is the pair of limiters applied to the HTTP API.
type Set struct {
	Default *Limiter
	Query   *Limiter

	enabled  atomic.Bool
	idleTTL  time.Duration
	observer Observer
}

// NewSet builds the limiters described by cfg.
func NewSet(cfg config.RateLimitConfig, obs Observer) *Set {
	dl, db := PerMinute(max(cfg.DefaultPerMinute, 1))
	ql, qb := PerSecond(max(cfg.QueryPerSecond, 1))
	s := &Set{
		Default:  NewLimiter(dl, db, cfg.IdleTTL),
		Query:    NewLimiter(ql, qb, cfg.IdleTTL),
		idleTTL:  cfg.IdleTTL,
		observer: obs,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Apply updates limits and the enabled flag from a reloaded config.
func (s *Set) Apply(cfg config.RateLimitConfig) {
	s.enabled.Store(cfg.Enabled)
	if cfg.DefaultPerMinute > 0 {
		s.Default.SetLimit(PerMinute(cfg.DefaultPerMinute))
	}
	if cfg.QueryPerSecond > 0 {
		s.Query.SetLimit(PerSecond(cfg.QueryPerSecond))
	}
	slog.Info("ratelimit: limits applied",
		"enabled", cfg.Enabled,
		"default_per_minute", cfg.DefaultPerMinute,
		"query_per_second", cfg.QueryPerSecond,
	)
}

// Run evicts idle clients from both limiters. It ticks at half the idle TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Set) Run(ctx context.Context) {
	interval := s.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Default.Evict(now) + s.Query.Evict(now); n > 0 {
				slog.Debug("ratelimit: evicted idle clients", "count", n)
			}
		}
	}
}

// Wrap limits next by the route's limiter. Query routes use the Query
// limiter; every other route uses Default.
func (s *Set) Wrap(route string, query bool, next http.Handler) http.Handler {
	lim := s.Default
	if query {
		lim = s.Query
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.enabled.Load() && !lim.Allow(ClientKey(r)) {
			if s.observer != nil {
				s.observer.ObserveRateLimited(route)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by its remote IP address.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
