// Package iio reads Linux Industrial I/O sensors from sysfs.
//
// Each channel maps to attribute file in device directory,
// e.g. /sys/bus/iio/devices/iio:device0/in_temp_input.
// Processed "_input" values are used when present, otherwise "_raw" scaled by "_scale".
package iio

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/envdata"
	"github.com/temoto/envtele/internal/sensor"
)

const DefaultRoot = "/sys/bus/iio/devices"

type attr struct {
	base string
	// kernel reports *_input in thousandths of our unit (millidegree, milli percent)
	milli bool
}

var attrs = map[envdata.Kind]attr{
	envdata.KindAmbientTemp:  {"in_temp", true},
	envdata.KindDieTemp:      {"in_temp", true},
	envdata.KindHumidity:     {"in_humidityrelative", true},
	envdata.KindPressure:     {"in_pressure", false},
	envdata.KindLight:        {"in_illuminance", false},
	envdata.KindAmbientLight: {"in_illuminance", false},
	envdata.KindProximity:    {"in_proximity", false},
	envdata.KindIR:           {"in_intensity_ir", false},
	envdata.KindRed:          {"in_intensity_red", false},
	envdata.KindGreen:        {"in_intensity_green", false},
	envdata.KindBlue:         {"in_intensity_blue", false},
	envdata.KindCO2:          {"in_concentration_co2", false},
	envdata.KindVOC:          {"in_concentration_voc", false},
	envdata.KindGasRes:       {"in_resistance", false},
	envdata.KindVoltage:      {"in_voltage", true},
}

type Device struct {
	name  string
	dir   string
	chans []sensor.ChannelSpec
}

// Open validates that device dir exists and every channel has readable attribute.
// dir may be absolute or name under DefaultRoot ("iio:device0").
func Open(name, dir string, chans []sensor.ChannelSpec) (*Device, error) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(DefaultRoot, dir)
	}
	if len(chans) == 0 {
		return nil, errors.NotValidf("sensor %s no channels", name)
	}
	for _, ch := range chans {
		if _, ok := attrs[ch.Kind]; !ok {
			return nil, errors.NotSupportedf("sensor %s iio channel=%s", name, ch.Kind.String())
		}
	}
	d := &Device{name: name, dir: dir, chans: chans}
	if err := d.Ready(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) Name() string                   { return d.name }
func (d *Device) Channels() []sensor.ChannelSpec { return d.chans }
func (d *Device) RawSize() int                   { return sensor.FrameSize(len(d.chans)) }

func (d *Device) Ready() error {
	fi, err := os.Stat(d.dir)
	if err != nil {
		return errors.Annotatef(err, "sensor %s", d.name)
	}
	if !fi.IsDir() {
		return errors.NotValidf("sensor %s path=%s is not directory", d.name, d.dir)
	}
	return nil
}

func (d *Device) Read(ctx context.Context, buf []byte) (int, error) {
	values := make([]int64, len(d.chans))
	for i, ch := range d.chans {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := d.readChannel(ch.Kind)
		if err != nil {
			return 0, errors.Annotatef(err, "sensor %s channel=%s", d.name, ch.Kind.String())
		}
		values[i] = v
	}
	return sensor.EncodeFrame(buf, values)
}

func (d *Device) Decode(raw []byte, ch sensor.ChannelSpec) (int32, int8, error) {
	return sensor.DecodeFrameMilli(raw, ch)
}

// returns thousandths of unit
func (d *Device) readChannel(k envdata.Kind) (int64, error) {
	a := attrs[k]
	s, err := d.attr(a.base + "_input")
	if err == nil {
		if a.milli {
			return ParseMilli(s, 0)
		}
		return ParseMilli(s, 3)
	}
	if !os.IsNotExist(errors.Cause(err)) {
		return 0, err
	}

	raw, err := d.attr(a.base + "_raw")
	if err != nil {
		return 0, err
	}
	rawv, err := ParseMilli(raw, 0)
	if err != nil {
		return 0, err
	}
	scale := int64(1000)
	if s, err := d.attr(a.base + "_scale"); err == nil {
		if scale, err = ParseMilli(s, 3); err != nil {
			return 0, err
		}
	}
	if a.milli {
		// raw*scale is already in thousandths
		return rawv * scale / 1000, nil
	}
	return rawv * scale, nil
}

func (d *Device) attr(name string) (string, error) {
	b, err := ioutil.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ParseMilli parses decimal string multiplied by 10^exp without floating point.
// Extra fraction digits are truncated.
func ParseMilli(s string, exp int) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	ip, fp := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		ip, fp = s[:i], s[i+1:]
	}
	if len(fp) > exp {
		fp = fp[:exp]
	}
	for len(fp) < exp {
		fp += "0"
	}
	if ip == "" {
		ip = "0"
	}
	v, err := strconv.ParseInt(ip+fp, 10, 64)
	if err != nil {
		return 0, errors.NotValidf("iio value=%q", s)
	}
	if neg {
		v = -v
	}
	return v, nil
}
