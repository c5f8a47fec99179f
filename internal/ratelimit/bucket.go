package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	minWait  = 50 * time.Millisecond
	maxSleep = 2 * time.Second
)

// DualBucket enforces two per-minute caps at once, typically requests
// and tokens for an embedding provider. Both buckets refill
// continuously at capacity/60 per second; an acquire succeeds only when
// both can pay, so the sustained rate never exceeds either cap.
type DualBucket struct {
	mu      sync.Mutex
	reqCap  float64
	tokCap  float64
	req     float64
	tok     float64
	last    time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewDualBucket builds a bucket pair starting full. A non-positive
// capacity disables that bucket.
func NewDualBucket(reqPerMin, tokPerMin int) *DualBucket {
	return &DualBucket{
		reqCap:  float64(reqPerMin),
		tokCap:  float64(tokPerMin),
		req:     float64(reqPerMin),
		tok:     float64(tokPerMin),
		last:    time.Now(),
		sleepFn: sleepCtx,
	}
}

// Acquire blocks until both buckets can pay the given costs, or the
// context is cancelled.
func (b *DualBucket) Acquire(ctx context.Context, reqCost, tokCost int) error {
	for {
		wait, ok := b.tryTake(float64(reqCost), float64(tokCost))
		if ok {
			return nil
		}
		if wait > maxSleep {
			wait = maxSleep
		}
		if err := b.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
}

// tryTake refills to now and takes from both buckets if possible.
// Otherwise it returns how long until enough will have refilled.
func (b *DualBucket) tryTake(reqCost, tokCost float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	if b.reqCap > 0 {
		b.req = math.Min(b.reqCap, b.req+elapsed*b.reqCap/60)
	}
	if b.tokCap > 0 {
		b.tok = math.Min(b.tokCap, b.tok+elapsed*b.tokCap/60)
	}

	okReq := b.reqCap <= 0 || b.req >= reqCost
	okTok := b.tokCap <= 0 || b.tok >= tokCost
	if okReq && okTok {
		if b.reqCap > 0 {
			b.req -= reqCost
		}
		if b.tokCap > 0 {
			b.tok -= tokCost
		}
		return 0, true
	}

	wait := minWait.Seconds()
	if b.reqCap > 0 && b.req < reqCost {
		wait = math.Max(wait, (reqCost-b.req)/(b.reqCap/60))
	}
	if b.tokCap > 0 && b.tok < tokCost {
		wait = math.Max(wait, (tokCost-b.tok)/(b.tokCap/60))
	}
	return time.Duration(wait * float64(time.Second)), false
}

// Backoff returns the retry delay for the given zero-based attempt:
// exponential from 500ms, capped at 20s, with 50-100% jitter.
func Backoff(attempt int) time.Duration {
	base := 0.5 * math.Pow(2, float64(attempt))
	if base > 20 {
		base = 20
	}
	jittered := base * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
