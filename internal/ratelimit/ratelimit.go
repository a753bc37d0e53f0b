package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Jitter produces random pauses in the range [Min, Max].
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func NewJitter(min, max time.Duration) Jitter {
	if max < min {
		max = min
	}
	return Jitter{Min: min, Max: max}
}

// Duration picks a delay in [Min, Max].
func (j Jitter) Duration() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}

	delta := j.Max - j.Min
	return j.Min + time.Duration(rand.Int63n(int64(delta)+1))
}

// Wait sleeps for a jittered delay or until ctx is done.
func (j Jitter) Wait(ctx context.Context) error {
	return Sleep(ctx, j.Duration())
}

// Sleep blocks for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff stretches a Jitter after repeated failures and relaxes it again on success.
type Backoff struct {
	base          Jitter
	mu            sync.Mutex
	factor        float64
	errorCount    int
	maxErrorCount int
	backoffFactor float64
	maxFactor     float64
}

func NewBackoff(base Jitter) *Backoff {
	return &Backoff{
		base:          base,
		factor:        1,
		maxErrorCount: 3,
		backoffFactor: 1.5,
		maxFactor:     8,
	}
}

func (b *Backoff) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount = 0
	if b.factor > 1 {
		b.factor = b.factor / b.backoffFactor
		if b.factor < 1 {
			b.factor = 1
		}
	}
}

func (b *Backoff) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount++
	if b.errorCount >= b.maxErrorCount {
		b.factor *= b.backoffFactor
		if b.factor > b.maxFactor {
			b.factor = b.maxFactor
		}
		b.errorCount = 0
	}
}

// Current returns the base range scaled by the current backoff factor.
func (b *Backoff) Current() Jitter {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Jitter{
		Min: time.Duration(float64(b.base.Min) * b.factor),
		Max: time.Duration(float64(b.base.Max) * b.factor),
	}
}

func (b *Backoff) Wait(ctx context.Context) error {
	return b.Current().Wait(ctx)
}
