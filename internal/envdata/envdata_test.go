package envdata

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "temp", KindAmbientTemp.String())
	assert.Equal(t, "temp", KindDieTemp.String())
	assert.Equal(t, "light", KindAmbientLight.String())
	assert.Equal(t, "gas_res", KindGasRes.String())
	assert.Equal(t, "unknown", Kind(200).String())

	k, err := ParseKind(" Humid ")
	require.NoError(t, err)
	assert.Equal(t, KindHumidity, k)
	_, err = ParseKind("flux")
	assert.True(t, errors.IsNotValid(err))
}

func TestFixed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		v     int64
		div   int64
		float float64
		delta float64
	}{
		{"zero", 0, 1000, 0, 0},
		{"celsius", 25000, 1000, 25, 0},
		{"negative", -12500, 1000, -12.5, 0},
		{"pascal", 101325000, 1000, 101325, 0},
		{"fraction", 1, 1000, 0.001, 1e-9},
		{"huge", 1 << 50, 1, float64(int64(1) << 50), 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			m, shift := Fixed(c.v, c.div)
			assert.InDelta(t, c.float, Float(m, shift), c.delta)
			assert.True(t, shift >= -31, "shift=%d", shift)
		})
	}

	m, shift := FixedMilli(25000)
	assert.Equal(t, int32(25<<26), m)
	assert.Equal(t, int8(-26), shift)
}

func TestFormatFixed(t *testing.T) {
	t.Parallel()

	m, s := FixedMilli(25000)
	assert.Equal(t, "25.00", FormatFixed(m, s, 2))
	m, s = FixedMilli(-3750)
	assert.Equal(t, "-3.75", FormatFixed(m, s, 2))
	assert.Equal(t, "12", FormatFixed(3, 2, 0))
	assert.Equal(t, "bme280@76: humid = 40.25", Reading{Sensor: "bme280@76", Kind: KindHumidity, Value: 161, Shift: -2}.String())
}

func TestSnapshotCapacity(t *testing.T) {
	t.Parallel()

	s := NewSnapshot(2)
	assert.Equal(t, 2, s.Cap())
	require.NoError(t, s.Append(Reading{Sensor: "a", Kind: KindAmbientTemp, Value: 1}))
	require.NoError(t, s.Append(Reading{Sensor: "a", Kind: KindHumidity, Value: 2}))
	assert.Equal(t, ErrFull, s.Append(Reading{Sensor: "b"}))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "a", s.At(1).Sensor)

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Len(t, s.Readings(), 0)
	assert.Equal(t, 2, s.Cap())
}

func TestBufferExclusive(t *testing.T) {
	t.Parallel()

	b := NewBuffer(1)
	s, err := b.Acquire(time.Second)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = b.Acquire(10 * time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
	assert.True(t, errors.IsTimeout(err))

	b.Release()
	s2, err := b.Acquire(10 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, s == s2, "same storage every generation")
	b.Release()

	assert.Panics(t, func() { b.Release() })
}

func TestBufferWithReleasesOnError(t *testing.T) {
	t.Parallel()

	b := NewBuffer(1)
	e := errors.New("decode")
	err := b.With(time.Second, func(s *Snapshot) error { return e })
	assert.Equal(t, e, err)
	assert.NoError(t, b.With(10*time.Millisecond, func(s *Snapshot) error { return nil }))
}

func TestBufferConcurrent(t *testing.T) {
	t.Parallel()

	const N = 50
	b := NewBuffer(N)
	wg := sync.WaitGroup{}
	wg.Add(2)
	writer := func() {
		defer wg.Done()
		for i := 0; i < N; i++ {
			err := b.With(time.Second, func(s *Snapshot) error {
				s.Reset()
				for j := 0; j < N; j++ {
					if err := s.Append(Reading{Value: int32(i)}); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}
	}
	reader := func() {
		defer wg.Done()
		for i := 0; i < N; i++ {
			err := b.With(time.Second, func(s *Snapshot) error {
				rs := s.Readings()
				for _, r := range rs {
					if r.Value != rs[0].Value {
						t.Errorf("reader observed mixed generations")
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}
	}
	go writer()
	go reader()
	wg.Wait()
}
