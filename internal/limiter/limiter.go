// Package limiter paces outbound packet emission. The transmit flow asks
// for tokens before each batch; receive-side work never touches it, so the
// send rate is independent of reply processing.
package limiter

import (
	"sync"
	"time"
)

// TokenBucket is a rate limiter using integer nanosecond arithmetic,
// avoiding float accumulation drift over long scans. One bucket is shared
// by every transmit shard plus the progress reporter, so all state sits
// behind the mutex.
type TokenBucket struct {
	mu             sync.Mutex
	rateNsPerToken int64
	bucketSize     int64
	tokens         int64
	lastCheck      int64 // UnixNano

	// observed-rate window
	window    []sample
	totalSent int64
}

type sample struct {
	at   int64 // UnixNano
	sent int64 // totalSent at that instant
}

const windowSize = 256

// NewTokenBucket creates a limiter for the given rate in packets per second.
// burst caps how many tokens can accumulate while the sender is busy.
func NewTokenBucket(rate float64, burst int64) *TokenBucket {
	nsPerToken := int64(1e9 / rate)
	if nsPerToken < 1 {
		nsPerToken = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		rateNsPerToken: nsPerToken,
		bucketSize:     burst,
		tokens:         burst,
		lastCheck:      time.Now().UnixNano(),
	}
}

// Wait blocks until n tokens are available, then consumes them. Safe for
// concurrent callers; each sleeps outside the lock for its own deficit,
// with lastCheck advanced past the sleep so later callers inherit the
// debt instead of double-spending the same interval.
func (tb *TokenBucket) Wait(n int) {
	needed := int64(n)

	tb.mu.Lock()
	now := time.Now().UnixNano()
	tb.tokens += (now - tb.lastCheck) / tb.rateNsPerToken
	if tb.tokens > tb.bucketSize {
		tb.tokens = tb.bucketSize
	}
	tb.lastCheck = now

	var sleep time.Duration
	if tb.tokens < needed {
		sleep = time.Duration((needed - tb.tokens) * tb.rateNsPerToken)
		tb.tokens = 0
		tb.lastCheck = now + int64(sleep)
	} else {
		tb.tokens -= needed
	}

	tb.totalSent += needed
	tb.window = append(tb.window, sample{at: tb.lastCheck, sent: tb.totalSent})
	if len(tb.window) > windowSize {
		tb.window = tb.window[1:]
	}
	tb.mu.Unlock()

	if sleep > 0 {
		time.Sleep(sleep)
	}
}

// ObservedRate estimates the actual packets per second over the recent
// window, for progress reporting.
func (tb *TokenBucket) ObservedRate() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.window) < 2 {
		return 0
	}
	oldest := tb.window[0]
	newest := tb.window[len(tb.window)-1]
	dt := newest.at - oldest.at
	if dt <= 0 {
		return 0
	}
	return float64(newest.sent-oldest.sent) / (float64(dt) / 1e9)
}

// TotalSent reports the number of tokens consumed since creation.
func (tb *TokenBucket) TotalSent() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.totalSent
}
