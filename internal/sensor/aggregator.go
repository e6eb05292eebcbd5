package sensor

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/bus"
	"github.com/temoto/envtele/internal/envdata"
	"github.com/temoto/envtele/log2"
)

const DefaultReadTimeout = 5 * time.Second

type Options struct {
	Devices     []Device
	Buffer      *envdata.Buffer
	Subscriber  *bus.Subscriber
	Publish     func(*envdata.Buffer)
	Log         *log2.Log
	LockTimeout time.Duration
	ReadTimeout time.Duration
}

// CycleStat describes one aggregation cycle.
type CycleStat struct {
	Submitted int
	Failed    int // devices skipped: submit or read error
	Skipped   int // channels skipped: decode error
	Count     int // readings published
}

type Aggregator struct {
	opt   Options
	log   *log2.Log
	queue *Queue

	// per device decoded readings of current cycle, indexed by submit tag
	scratch [][]envdata.Reading
	ok      []bool
}

func NewAggregator(opt Options) (*Aggregator, error) {
	if len(opt.Devices) == 0 {
		return nil, errors.NotValidf("no sensors configured")
	}
	if opt.Buffer == nil || opt.Publish == nil {
		return nil, errors.NotValidf("code error aggregator Buffer or Publish nil")
	}
	if opt.LockTimeout == 0 {
		opt.LockTimeout = envdata.DefaultLockTimeout
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = DefaultReadTimeout
	}
	seen := make(map[string]struct{}, len(opt.Devices))
	blockSize := DefaultBlockSize
	a := &Aggregator{
		opt:     opt,
		log:     opt.Log,
		scratch: make([][]envdata.Reading, len(opt.Devices)),
		ok:      make([]bool, len(opt.Devices)),
	}
	for i, d := range opt.Devices {
		if _, dup := seen[d.Name()]; dup {
			return nil, errors.NotValidf("duplicate sensor name=%s", d.Name())
		}
		seen[d.Name()] = struct{}{}
		if len(d.Channels()) == 0 {
			return nil, errors.NotValidf("sensor %s has no channels", d.Name())
		}
		if rs, ok := d.(RawSizer); ok && rs.RawSize() > blockSize {
			blockSize = rs.RawSize()
		}
		a.scratch[i] = make([]envdata.Reading, 0, len(d.Channels()))
	}
	if need := ChannelCount(opt.Devices); need > opt.Buffer.Cap() {
		return nil, errors.NotValidf("snapshot capacity=%d < sensor channels=%d", opt.Buffer.Cap(), need)
	}
	a.queue = NewQueue(len(opt.Devices), blockSize)
	return a, nil
}

// Init logs devices that are not ready. They stay in the list, reads will fail per cycle.
func (a *Aggregator) Init() {
	for _, d := range a.opt.Devices {
		if r, ok := d.(Readier); ok {
			if err := r.Ready(); err != nil {
				a.log.Errorf("%s: device not ready err=%v", d.Name(), err)
				continue
			}
		}
	}
	a.log.Infof("sensor thread ready devices=%d capacity=%d", len(a.opt.Devices), a.opt.Buffer.Cap())
}

// Run processes ticks until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	a.Init()
	for {
		ch, err := a.opt.Subscriber.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Warnf("waiting for channel notification failed err=%v", err)
			continue
		}
		if _, err = ch.Read(); err != nil {
			// tick already consumed
			continue
		}
		if _, err = a.Cycle(ctx); err != nil {
			a.log.Errorf("cycle err=%v", err)
		}
	}
}

// Cycle reads all devices concurrently, writes snapshot and publishes it.
// Per device and per channel failures are logged and skipped.
// Error means cycle was abandoned and nothing was published.
func (a *Aggregator) Cycle(ctx context.Context) (CycleStat, error) {
	var stat CycleStat
	rctx, cancel := context.WithTimeout(ctx, a.opt.ReadTimeout)
	defer cancel()

	for i, d := range a.opt.Devices {
		a.scratch[i] = a.scratch[i][:0]
		a.ok[i] = false
		if err := a.queue.Submit(rctx, d, i); err != nil {
			a.log.Warnf("%s: failed to init sensor read err=%v", d.Name(), err)
			stat.Failed++
			continue
		}
		stat.Submitted++
	}

	for n := 0; n < stat.Submitted; n++ {
		c := a.queue.Consume()
		if !a.complete(c, &stat) {
			stat.Failed++
		}
		a.queue.Release(c)
	}
	a.queue.Wait()
	if free := a.queue.Free(); free != len(a.opt.Devices) {
		a.log.Errorf("code error read blocks leaked free=%d devices=%d", free, len(a.opt.Devices))
	}

	err := a.opt.Buffer.With(a.opt.LockTimeout, func(snap *envdata.Snapshot) error {
		snap.Reset()
		for i := range a.opt.Devices {
			if !a.ok[i] {
				continue
			}
			for _, r := range a.scratch[i] {
				if err := snap.Append(r); err != nil {
					return errors.Annotatef(err, "append %s", r.Sensor)
				}
			}
		}
		stat.Count = snap.Len()
		return nil
	})
	if err != nil {
		if errors.Cause(err) == envdata.ErrTimeout {
			a.log.Errorf("failed to lock readings message err=%v", err)
		}
		return stat, errors.Annotate(err, "sensor cycle")
	}

	// publish strictly after release
	a.opt.Publish(a.opt.Buffer)
	a.log.Debugf("cycle submitted=%d failed=%d skipped=%d count=%d", stat.Submitted, stat.Failed, stat.Skipped, stat.Count)
	return stat, nil
}

func (a *Aggregator) complete(c *Completion, stat *CycleStat) bool {
	d := c.Device
	if c.Tag < 0 || c.Tag >= len(a.opt.Devices) || a.opt.Devices[c.Tag].Name() != d.Name() {
		a.log.Errorf("code error completion tag=%d does not match device", c.Tag)
		return false
	}
	if c.Err != nil {
		a.log.Warnf("%s: async read failed err=%v", d.Name(), c.Err)
		return false
	}
	out := a.scratch[c.Tag][:0]
	for _, ch := range d.Channels() {
		value, shift, err := d.Decode(c.Raw, ch)
		if err != nil {
			a.log.Warnf("%s: decode channel=%s err=%v", d.Name(), ch.String(), err)
			stat.Skipped++
			continue
		}
		r := envdata.Reading{Sensor: d.Name(), Kind: ch.Kind, Value: value, Shift: shift}
		if a.log.Enabled(log2.LDebug) {
			a.log.Debugf("%s", r.String())
		}
		out = append(out, r)
	}
	a.scratch[c.Tag] = out
	a.ok[c.Tag] = true
	return true
}
