package bus

import (
	"github.com/temoto/envtele/internal/envdata"
)

const (
	ChanTick        = "timer_chan"
	ChanEnvironment = "environment_chan"
)

type Tick struct{}

// Bus is the whole envtele topology:
// trigger -> Tick -> Aggregator -> Environment -> Delivery
type Bus struct {
	Aggregator  *Subscriber
	Delivery    *Subscriber
	Tick        *Channel
	Environment *Channel
}

func New() *Bus {
	b := &Bus{
		Aggregator: NewSubscriber("env_subscriber", 1),
		Delivery:   NewSubscriber("http_subscriber", 1),
	}
	b.Tick = NewChannel(ChanTick, b.Aggregator)
	b.Environment = NewChannel(ChanEnvironment, b.Delivery)
	return b
}

func (b *Bus) PublishTick() { b.Tick.Publish(Tick{}) }

// PublishEnvironment carries guarded reference, receiver must acquire buffer before reading.
func (b *Bus) PublishEnvironment(buf *envdata.Buffer) { b.Environment.Publish(buf) }

// ReadEnvironment type asserts Environment value.
func ReadEnvironment(c *Channel) (*envdata.Buffer, error) {
	v, err := c.Read()
	if err != nil {
		return nil, err
	}
	buf, ok := v.(*envdata.Buffer)
	if !ok || buf == nil {
		return nil, ErrEmpty
	}
	return buf, nil
}
