package helpers

import (
	"sync/atomic"
	"time"
)

// Limited exponential backoff for retry delays.
// Delay sequence is Min, Min*K, Min*K^2 ... each capped at Max.
// Reset() after success brings next delay back to Min.
//
// Use scenario:
// for {
//   err := op()
//   if err == nil { backoff.Reset(); break }
//   time.Sleep(backoff.Failure())
// }
type Backoff struct {
	next int64 // atomic align

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// Next returns delay that Failure() would return now, without changing state.
func (b *Backoff) Next() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		next = b.Min
	}
	return b.limit(next)
}

// Failure returns current delay and increases next by K.
func (b *Backoff) Failure() time.Duration {
	current := b.Next()
	k := b.K
	if k == 0 {
		k = 2
	}
	next := b.limit(time.Duration(float64(current) * float64(k)))
	atomic.StoreInt64(&b.next, int64(next))
	return current
}

func (b *Backoff) Reset() {
	atomic.StoreInt64(&b.next, int64(b.Min))
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
