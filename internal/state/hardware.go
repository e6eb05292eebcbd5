package state

import (
	"github.com/juju/errors"
	"github.com/temoto/envtele/hardware/bmxx80"
	"github.com/temoto/envtele/hardware/iio"
	"github.com/temoto/envtele/internal/sensor"
)

func (g *Global) initDevices() []error {
	errs := make([]error, 0)
	g.Devices = make([]sensor.Device, 0, len(g.Config.Sensors))
	for _, sc := range g.Config.Sensors {
		d, err := NewDevice(sc)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "config: sensor %s", sc.Name))
			continue
		}
		g.Log.Debugf("config: sensor %s driver=%s channels=%v", sc.Name, sc.Driver, d.Channels())
		g.Devices = append(g.Devices, d)
	}
	return errs
}

// NewDevice opens driver for sensor config block.
func NewDevice(sc *SensorConfig) (sensor.Device, error) {
	model := sc.Model
	if model == "" && sc.Driver == "bmxx80" {
		model = "bme280"
	}
	chans, err := sensor.ResolveChannels(model, sc.Channels)
	if err != nil {
		return nil, err
	}

	switch sc.Driver {
	case "bmxx80":
		if sc.Address < 0 || sc.Address > 0x7f {
			return nil, errors.NotValidf("i2c address=0x%x", sc.Address)
		}
		d, err := bmxx80.Open(bmxx80.Config{
			Name:     sc.Name,
			Bus:      sc.I2CBus,
			Address:  uint16(sc.Address),
			Channels: chans,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case "iio":
		if sc.Device == "" {
			return nil, errors.NotValidf("driver=iio device=empty")
		}
		d, err := iio.Open(sc.Name, sc.Device, chans)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "sim":
		return sensor.NewSimDevice(sc.Name, chans), nil
	}
	return nil, errors.NotSupportedf("driver=%s", sc.Driver)
}
