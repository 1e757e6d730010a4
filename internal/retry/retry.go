// Package retry holds the wait helpers shared by the reconnect loops.
package retry

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Backoff doubles a delay from Min up to Max. The zero value uses 100ms
// and 5s.
type Backoff struct {
	Min, Max time.Duration
	cur      time.Duration
}

// Next returns the delay to wait before the following attempt.
func (b *Backoff) Next() time.Duration {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	if hi < lo {
		hi = max(lo, 5*time.Second)
	}
	if b.cur < lo {
		b.cur = lo
		return b.cur
	}
	b.cur = min(b.cur*2, hi)
	return b.cur
}

// Reset starts the sequence over after a success.
func (b *Backoff) Reset() { b.cur = 0 }

// Wait sleeps for Next() and reports whether ctx is still live.
func (b *Backoff) Wait(ctx context.Context) bool {
	return Sleep(ctx, b.Next())
}
