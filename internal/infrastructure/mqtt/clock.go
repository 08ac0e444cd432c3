package mqtt

import (
	"context"
	"time"
)

// Clock abstracts time for the reconnect loop.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the delay before the next connect attempt. attempt starts
// at 1 for the delay after the first failure.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same delay after every failed attempt.
type FixedBackoff time.Duration

func (b FixedBackoff) Delay(int) time.Duration { return time.Duration(b) }
