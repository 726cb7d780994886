// Package ratelimit paces requests to a JSON-RPC provider. Hosted endpoints
// on free plans reject bursts with HTTP 429, so dexkit spaces calls out
// instead of relying on retries alone.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out permits no closer together than 1/rate.
type Limiter struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
	rate     float64
}

// New creates a Limiter allowing ratePerSec requests per second.
// Non-positive rates fall back to one request per second.
func New(ratePerSec float64) *Limiter {
	l := &Limiter{next: time.Now()}
	l.setRateLocked(ratePerSec)
	return l
}

func (l *Limiter) setRateLocked(ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	l.rate = ratePerSec
	l.interval = time.Duration(float64(time.Second) / ratePerSec)
}

// Wait blocks until the caller's permit time or until ctx is done.
// A cancelled waiter gives its slot back when nobody has queued behind it.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	if l.next.Before(now) {
		l.next = now
	}
	permit := l.next
	l.next = permit.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(permit)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.next.Equal(permit.Add(l.interval)) {
			l.next = permit
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// SetRate changes the rate for subsequent permits.
func (l *Limiter) SetRate(ratePerSec float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setRateLocked(ratePerSec)
	if now := time.Now(); l.next.Before(now) {
		l.next = now
	}
}

// Rate returns the configured requests per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}
