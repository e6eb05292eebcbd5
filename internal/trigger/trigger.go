// Package trigger is the periodic sensor timer.
package trigger

import (
	"sync"
	"time"

	"github.com/temoto/atomic_clock"
	"github.com/temoto/envtele/log2"
)

const DefaultInterval = 5 * time.Minute

// Trigger calls Publish immediately on Start and then every Interval until Stop.
// Publish must not block.
type Trigger struct {
	Interval time.Duration
	Publish  func()
	Log      *log2.Log

	mu       sync.Mutex
	stopch   chan struct{}
	done     chan struct{}
	lastTick atomic_clock.Clock
}

func New(interval time.Duration, publish func(), log *log2.Log) *Trigger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Trigger{Interval: interval, Publish: publish, Log: log}
}

// Start is idempotent. Restart of running trigger keeps its phase.
func (t *Trigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopch != nil {
		return
	}
	t.Log.Infof("sensor timer started interval=%s", t.Interval)
	t.stopch = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stopch, t.done)
}

// Stop returns after last Publish call finished. No tick fires after Stop returns.
func (t *Trigger) Stop() {
	t.mu.Lock()
	stopch, done := t.stopch, t.done
	t.stopch, t.done = nil, nil
	t.mu.Unlock()
	if stopch == nil {
		return
	}
	close(stopch)
	<-done
	t.Log.Infof("sensor timer stopped")
}

func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopch != nil
}

// SinceLastTick is zero if trigger never fired.
func (t *Trigger) SinceLastTick() time.Duration {
	if t.lastTick.IsZero() {
		return 0
	}
	return atomic_clock.Since(&t.lastTick)
}

func (t *Trigger) run(stopch <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	t.fire()
	for {
		select {
		case <-stopch:
			return
		case <-ticker.C:
			select {
			case <-stopch:
				return
			default:
			}
			t.fire()
		}
	}
}

func (t *Trigger) fire() {
	t.Log.Debugf("timer expired")
	t.lastTick.SetNow()
	t.Publish()
}
