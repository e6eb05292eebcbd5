// Package bmxx80 adapts Bosch BME280/BMP280/BMP180 on Linux I2C to sensor.Device.
package bmxx80

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/envdata"
	"github.com/temoto/envtele/internal/sensor"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	periph_bmxx80 "periph.io/x/periph/devices/bmxx80"
	"periph.io/x/periph/host"
)

const DefaultAddress = 0x76

type Config struct {
	Name     string
	Bus      string // i2creg name, "" = first available
	Address  uint16
	Channels []sensor.ChannelSpec
}

type Device struct {
	name  string
	chans []sensor.ChannelSpec

	mu  sync.Mutex
	bus i2c.BusCloser
	dev *periph_bmxx80.Dev
}

func Open(c Config) (*Device, error) {
	if err := checkChannels(c.Channels); err != nil {
		return nil, errors.Annotatef(err, "sensor %s", c.Name)
	}
	if c.Address == 0 {
		c.Address = DefaultAddress
	}
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(c.Bus)
	if err != nil {
		return nil, errors.Annotatef(err, "I2C Open bus=%s", c.Bus)
	}
	opts := periph_bmxx80.DefaultOpts
	dev, err := periph_bmxx80.NewI2C(bus, c.Address, &opts)
	if err != nil {
		bus.Close()
		return nil, errors.Annotatef(err, "bmxx80 bus=%s addr=0x%02x", c.Bus, c.Address)
	}
	d := &Device{
		name:  c.Name,
		chans: c.Channels,
		bus:   bus,
		dev:   dev,
	}
	return d, nil
}

func (d *Device) Name() string                   { return d.name }
func (d *Device) Channels() []sensor.ChannelSpec { return d.chans }
func (d *Device) RawSize() int                   { return sensor.FrameSize(len(d.chans)) }
func (d *Device) String() string                 { return fmt.Sprintf("%s(%s)", d.name, d.dev) }

func (d *Device) Ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return errors.Errorf("device closed")
	}
	return nil
}

type senseResult struct {
	env physic.Env
	err error
}

// Read runs one forced measurement. Sense is not interruptible,
// on ctx deadline the result is dropped.
func (d *Device) Read(ctx context.Context, buf []byte) (int, error) {
	resch := make(chan senseResult, 1)
	go func() {
		var r senseResult
		d.mu.Lock()
		if d.dev == nil {
			r.err = errors.Errorf("device closed")
		} else {
			r.err = d.dev.Sense(&r.env)
		}
		d.mu.Unlock()
		resch <- r
	}()
	select {
	case r := <-resch:
		if r.err != nil {
			return 0, errors.Annotatef(r.err, "%s sense", d.name)
		}
		values, err := EnvValues(&r.env, d.chans)
		if err != nil {
			return 0, err
		}
		return sensor.EncodeFrame(buf, values)
	case <-ctx.Done():
		return 0, errors.Annotatef(ctx.Err(), "%s sense", d.name)
	}
}

func (d *Device) Decode(raw []byte, ch sensor.ChannelSpec) (int32, int8, error) {
	return sensor.DecodeFrameMilli(raw, ch)
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	errHalt := d.dev.Halt()
	errClose := d.bus.Close()
	d.dev = nil
	if errHalt != nil {
		return errors.Annotate(errHalt, "bmxx80 halt")
	}
	return errors.Annotate(errClose, "I2C close")
}

// EnvValues converts periph measurement to thousandths of sensor units.
func EnvValues(env *physic.Env, chans []sensor.ChannelSpec) ([]int64, error) {
	values := make([]int64, len(chans))
	for i, ch := range chans {
		switch ch.Kind {
		case envdata.KindAmbientTemp, envdata.KindDieTemp:
			values[i] = int64(env.Temperature-physic.ZeroCelsius) / int64(physic.MilliKelvin)
		case envdata.KindPressure:
			// 1 Pa = 0.001 kPa
			values[i] = int64(env.Pressure) / int64(physic.Pascal)
		case envdata.KindHumidity:
			values[i] = int64(env.Humidity) * 1000 / int64(physic.PercentRH)
		default:
			return nil, errors.NotSupportedf("bmxx80 channel=%s", ch.Kind.String())
		}
	}
	return values, nil
}

func checkChannels(chans []sensor.ChannelSpec) error {
	if len(chans) == 0 {
		return errors.NotValidf("no channels")
	}
	_, err := EnvValues(&physic.Env{}, chans)
	return err
}
