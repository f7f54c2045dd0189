// Package ratelimit provides the per-connection inbound message limiter used
// by the signaling server.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a rate of X tokens/sec refills X
// nano-tokens per elapsed nanosecond with no float rounding.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed burst.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	burst int64 // nano-tokens
	rate  int64 // tokens/sec == nano-tokens/ns

	avail int64 // nano-tokens
	last  time.Time
}

// NewTokenBucket returns a full bucket holding at most burst tokens.
func NewTokenBucket(clock Clock, burst, perSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	burstNano := toNano(burst)
	return &TokenBucket{
		clock: clock,
		burst: burstNano,
		rate:  max(perSecond, 0),
		avail: burstNano,
		last:  clock.Now(),
	}
}

// PerSecond is a bucket allowing n events per second with a burst of n.
func PerSecond(clock Clock, n int) *TokenBucket {
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock that goes backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.burst {
		return
	}

	// Clamp before multiplying so elapsed*rate cannot overflow.
	need := b.burst - b.avail
	if elapsed >= need/b.rate {
		b.avail = b.burst
		return
	}
	b.avail = min(b.avail+elapsed*b.rate, b.burst)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
