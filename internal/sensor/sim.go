package sensor

import (
	"context"
	"sync/atomic"

	"github.com/temoto/envtele/internal/envdata"
)

// SimDevice produces plausible drifting values without hardware.
type SimDevice struct {
	name  string
	chans []ChannelSpec
	seq   uint32
}

func NewSimDevice(name string, chans []ChannelSpec) *SimDevice {
	return &SimDevice{name: name, chans: chans}
}

func (s *SimDevice) Name() string            { return s.name }
func (s *SimDevice) Channels() []ChannelSpec { return s.chans }
func (s *SimDevice) RawSize() int            { return FrameSize(len(s.chans)) }

func (s *SimDevice) Read(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seq := int64(atomic.AddUint32(&s.seq, 1))
	// triangle wave, period 20 reads
	wobble := seq % 20
	if wobble > 10 {
		wobble = 20 - wobble
	}
	values := make([]int64, len(s.chans))
	for i, ch := range s.chans {
		values[i] = simBase(ch.Kind) + wobble*simStep(ch.Kind)
	}
	return EncodeFrame(buf, values)
}

func (s *SimDevice) Decode(raw []byte, ch ChannelSpec) (int32, int8, error) {
	return DecodeFrameMilli(raw, ch)
}

func simBase(k envdata.Kind) int64 {
	switch k {
	case envdata.KindAmbientTemp:
		return 21000
	case envdata.KindDieTemp:
		return 35000
	case envdata.KindPressure:
		return 101325 // kPa
	case envdata.KindHumidity:
		return 40000
	case envdata.KindLight, envdata.KindAmbientLight:
		return 300000
	case envdata.KindCO2:
		return 420000
	default:
		return 1000
	}
}

func simStep(k envdata.Kind) int64 {
	switch k {
	case envdata.KindPressure:
		return 10
	case envdata.KindLight, envdata.KindAmbientLight:
		return 5000
	default:
		return 100
	}
}
