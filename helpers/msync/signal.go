package msync

import (
	"context"
	"time"
)

type Nothing struct{}

// Signal is a binary semaphore.
// Set is instantaneous and never queues more than one pending value;
// Clear drops pending value without blocking.
type Signal chan Nothing

func NewSignal() Signal { return make(chan Nothing, 1) }

func (s Signal) Set() {
	select {
	case s <- Nothing{}:
	default:
	}
}

// Clear returns true if signal was set.
func (s Signal) Clear() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}

func (s Signal) IsSet() bool { return len(s) != 0 }

func (s Signal) Wait() { <-s }

// WaitTimeout consumes signal or returns ctx error or errTimeout after d.
func (s Signal) WaitTimeout(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s:
		return nil
	case <-t.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
