// ratelimit.go throttles order placement per user with a token bucket that
// refills continuously, so bursts are absorbed without letting a single
// client saturate the matching path.
package api

import (
	"sync"
	"time"
)

// TokenBucket is a continuously refilling token bucket.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64 // current available tokens (fractional allowed)
	capacity float64 // maximum burst size
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a bucket with the given burst capacity and refill
// rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Allow consumes one token if available and reports whether it could.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// orderLimiter hands out one bucket per user.
type orderLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity float64
	rate     float64
}

func newOrderLimiter(capacity, ratePerSecond float64) *orderLimiter {
	return &orderLimiter{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		rate:     ratePerSecond,
	}
}

// Allow reports whether the user may place another order right now.
func (l *orderLimiter) Allow(userID string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[userID]
	if !ok {
		bucket = NewTokenBucket(l.capacity, l.rate)
		l.buckets[userID] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}
