// Package ratelimit wraps golang.org/x/time/rate for outbound HTTP calls,
// adapted from the teacher's infrastructure/ratelimit package. The estate
// guardian has no outbound traffic of its own except best-effort webhook
// notification delivery (§4.O), so this package exists to keep that
// delivery from hammering a misbehaving webhook endpoint during a
// maintenance tick that has many notifications queued.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes a RateLimiter's steady-state and burst allowance.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches the volume of a single maintenance tick's webhook
// fan-out: bursty but bounded.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 20, Burst: 40}
}

// RateLimiter is a token-bucket limiter safe for concurrent use.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New builds a RateLimiter from cfg, substituting sane defaults for
// non-positive fields.
func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether a request may proceed right now, consuming a
// token if so.
func (r *RateLimiter) Allow() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiter.Allow()
}

// Reset discards accumulated token-bucket state, restarting from a full
// burst allowance.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)
}

// RateLimitedClient wraps an *http.Client so every outbound Do call waits
// for a token before the request leaves the process.
type RateLimitedClient struct {
	client  *http.Client
	limiter *RateLimiter
}

// NewRateLimitedClient builds a RateLimitedClient around client (or
// http.DefaultClient if nil).
func NewRateLimitedClient(client *http.Client, cfg Config) *RateLimitedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RateLimitedClient{client: client, limiter: New(cfg)}
}

// Do waits for rate-limiter admission, honoring the request's context
// deadline, then issues the request.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.waitContext(req); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func (c *RateLimitedClient) waitContext(req *http.Request) error {
	ctx := req.Context()
	for {
		if c.limiter.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
