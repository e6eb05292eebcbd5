// Package sensor drives concurrent reads of configured environment sensors
// and writes decoded readings into the shared snapshot.
package sensor

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/envdata"
)

// Mempool block size, same as firmware RTIO pool.
const DefaultBlockSize = 64

var ErrShortRaw = fmt.Errorf("raw buffer too short")

type ChannelSpec struct {
	Kind  envdata.Kind
	Index int
}

func (c ChannelSpec) String() string { return fmt.Sprintf("%s/%d", c.Kind.String(), c.Index) }

// Device is driver collaborator for one physical sensor.
// Read fills buf with raw sample and must honor ctx deadline.
// Decode converts one channel of raw sample to fixed point mantissa and shift.
type Device interface {
	Name() string
	Channels() []ChannelSpec
	Read(ctx context.Context, buf []byte) (int, error)
	Decode(raw []byte, ch ChannelSpec) (int32, int8, error)
}

// Optional Device extensions.
type Readier interface{ Ready() error }
type RawSizer interface{ RawSize() int }

// Raw frame used by bundled drivers: little-endian int64 per channel index,
// each value in thousandths of channel unit.
// Units: temperature C, pressure kPa, humidity %, light lux.
const frameWord = 8

func FrameSize(channels int) int { return channels * frameWord }

func EncodeFrame(buf []byte, values []int64) (int, error) {
	need := FrameSize(len(values))
	if len(buf) < need {
		return 0, errors.Annotatef(ErrShortRaw, "encode need=%d have=%d", need, len(buf))
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*frameWord:], uint64(v))
	}
	return need, nil
}

func DecodeFrame(raw []byte, index int) (int64, error) {
	off := index * frameWord
	if index < 0 || off+frameWord > len(raw) {
		return 0, errors.Annotatef(ErrShortRaw, "decode index=%d len=%d", index, len(raw))
	}
	return int64(binary.LittleEndian.Uint64(raw[off:])), nil
}

// DecodeFrameMilli is Decode for drivers using raw frame.
func DecodeFrameMilli(raw []byte, ch ChannelSpec) (int32, int8, error) {
	v, err := DecodeFrame(raw, ch.Index)
	if err != nil {
		return 0, 0, err
	}
	m, s := envdata.FixedMilli(v)
	return m, s, nil
}

func ChannelCount(devs []Device) int {
	n := 0
	for _, d := range devs {
		n += len(d.Channels())
	}
	return n
}

// Channels helper: kinds in order, Index = position.
func Channels(kinds ...envdata.Kind) []ChannelSpec {
	cs := make([]ChannelSpec, len(kinds))
	for i, k := range kinds {
		cs[i] = ChannelSpec{Kind: k, Index: i}
	}
	return cs
}
