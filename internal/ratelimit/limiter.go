// Package ratelimit implements the fixed-window limiter with a blocking
// cooldown used on both sides of the contact pipeline.
//
// Each identity gets a record holding a request count and the start of its
// current window. Once the count exceeds the maximum the identity is blocked.
// The block clears when the window resets or after twice the window,
// whichever comes first. A blocked call never counts toward the next window.
package ratelimit

import (
	"context"
	"time"
)

// BlockMultiplier is how many windows a block lasts
const BlockMultiplier = 2

// DefaultRetention is how long idle records are kept before a sweep purges them
const DefaultRetention = 24 * time.Hour

// Decision is the outcome of a single limiter check
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller stays blocked. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter decides whether an identity may make another request.
// Implementations must make the check-and-increment atomic per identity.
type Limiter interface {
	Check(ctx context.Context, identity string, maxRequests int, window time.Duration) (Decision, error)
}

// Record is the per-identity limiter state
type Record struct {
	Count        int
	WindowStart  time.Time
	Blocked      bool
	BlockedUntil time.Time
}

// step applies one request at now to rec and returns the decision.
// Both stores implement exactly this transition.
func step(rec *Record, now time.Time, maxRequests int, window time.Duration) Decision {
	if now.Sub(rec.WindowStart) > window {
		rec.Count = 0
		rec.WindowStart = now
		rec.Blocked = false
		rec.BlockedUntil = time.Time{}
	}

	if rec.Blocked {
		if now.Before(rec.BlockedUntil) {
			return Decision{Allowed: false, RetryAfter: retryAfter(rec, now, window)}
		}
		rec.Blocked = false
		rec.BlockedUntil = time.Time{}
		rec.Count = 0
		rec.WindowStart = now
	}

	rec.Count++
	if rec.Count > maxRequests {
		rec.Blocked = true
		rec.BlockedUntil = now.Add(BlockMultiplier * window)
		return Decision{Allowed: false, RetryAfter: retryAfter(rec, now, window)}
	}
	return Decision{Allowed: true}
}

// retryAfter is the time until the window resets or the block expires,
// whichever is sooner. A window resets once it is strictly exceeded; the
// extra millisecond matches the resolution of the Redis store.
func retryAfter(rec *Record, now time.Time, window time.Duration) time.Duration {
	until := rec.WindowStart.Add(window + time.Millisecond)
	if rec.BlockedUntil.Before(until) {
		until = rec.BlockedUntil
	}
	return until.Sub(now)
}
