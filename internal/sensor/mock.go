package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/temoto/envtele/internal/envdata"
)

// MockDevice is test double: fixed milli values, optional delay and faults.
type MockDevice struct {
	ID        string
	Chans     []ChannelSpec
	Values    []int64 // thousandths, per channel index
	Delay     time.Duration
	ReadErr   error
	DecodeErr map[int]error // by channel index
	NotReady  error

	mu    sync.Mutex
	reads int
}

func NewMockDevice(name string, kinds []envdata.Kind, values ...int64) *MockDevice {
	return &MockDevice{ID: name, Chans: Channels(kinds...), Values: values}
}

func (m *MockDevice) Name() string            { return m.ID }
func (m *MockDevice) Channels() []ChannelSpec { return m.Chans }
func (m *MockDevice) Ready() error            { return m.NotReady }

func (m *MockDevice) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MockDevice) Read(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	m.reads++
	m.mu.Unlock()
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return EncodeFrame(buf, m.Values)
}

func (m *MockDevice) Decode(raw []byte, ch ChannelSpec) (int32, int8, error) {
	if err := m.DecodeErr[ch.Index]; err != nil {
		return 0, 0, err
	}
	return DecodeFrameMilli(raw, ch)
}
