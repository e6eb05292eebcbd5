// Package bus is fixed topology publish/subscribe between envtele subsystems.
// Each Channel holds single latest value and has exactly one Subscriber
// bound at construction. Not a general broker.
package bus

import (
	"context"
	"fmt"
	"sync"
)

var ErrEmpty = fmt.Errorf("channel value already consumed")

type Channel struct {
	name string
	sub  *Subscriber

	mu      sync.Mutex
	value   interface{}
	pending bool
}

// Subscriber wakes on publish to any of its channels.
type Subscriber struct {
	name   string
	notify chan *Channel
}

// NewSubscriber queue size bounds how many distinct channels may be pending.
func NewSubscriber(name string, queue int) *Subscriber {
	if queue < 1 {
		queue = 1
	}
	return &Subscriber{name: name, notify: make(chan *Channel, queue)}
}

func NewChannel(name string, sub *Subscriber) *Channel {
	if sub == nil {
		panic("code error bus channel without subscriber name=" + name)
	}
	return &Channel{name: name, sub: sub}
}

func (c *Channel) Name() string { return c.name }
func (c *Channel) String() string {
	return fmt.Sprintf("%s->%s", c.name, c.sub.name)
}

// Publish never blocks. New value overwrites unread one.
func (c *Channel) Publish(v interface{}) {
	c.mu.Lock()
	wasPending := c.pending
	c.value = v
	c.pending = true
	c.mu.Unlock()
	if wasPending {
		// subscriber already notified and did not drain yet
		return
	}
	select {
	case c.sub.notify <- c:
	default:
	}
}

// Read is non-blocking drain of current value.
// Returns ErrEmpty if value was already consumed.
func (c *Channel) Read() (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return nil, ErrEmpty
	}
	c.pending = false
	return c.value, nil
}

func (s *Subscriber) Name() string { return s.name }

// Wait blocks until one of subscribed channels is published
// and returns that channel. Only ctx cancel interrupts it.
func (s *Subscriber) Wait(ctx context.Context) (*Channel, error) {
	select {
	case c := <-s.notify:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
