package trigger

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/envtele/internal/bus"
	"github.com/temoto/envtele/log2"
)

func TestTriggerStartStop(t *testing.T) {
	t.Parallel()

	var count int32
	tr := New(20*time.Millisecond, func() { atomic.AddInt32(&count, 1) }, log2.NewTest(t, log2.LDebug))
	assert.False(t, tr.Running())
	assert.Equal(t, time.Duration(0), tr.SinceLastTick())

	tr.Start()
	tr.Start()
	assert.True(t, tr.Running())
	time.Sleep(70 * time.Millisecond)
	tr.Stop()
	tr.Stop()
	assert.False(t, tr.Running())

	fired := atomic.LoadInt32(&count)
	assert.True(t, fired >= 2, "fired=%d", fired)
	assert.True(t, tr.SinceLastTick() > 0)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fired, atomic.LoadInt32(&count), "no tick after Stop")
}

func TestTriggerImmediateFirstTick(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 1)
	tr := New(time.Hour, func() { fired <- struct{}{} }, nil)
	tr.Start()
	defer tr.Stop()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected tick right after Start")
	}
}

func TestTriggerCoalescesOnBus(t *testing.T) {
	t.Parallel()

	b := bus.New()
	tr := New(5*time.Millisecond, b.PublishTick, nil)
	tr.Start()
	time.Sleep(40 * time.Millisecond)
	tr.Stop()

	// many ticks, single pending value
	_, err := b.Tick.Read()
	assert.NoError(t, err)
	_, err = b.Tick.Read()
	assert.Equal(t, bus.ErrEmpty, err)
}

func TestDefaultInterval(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultInterval, New(0, func() {}, nil).Interval)
}
