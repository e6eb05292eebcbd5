package iio

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envtele/internal/envdata"
	"github.com/temoto/envtele/internal/sensor"
)

func TestParseMilli(t *testing.T) {
	t.Parallel()

	type Case struct {
		input  string
		exp    int
		expect int64
		err    bool
	}
	cases := []Case{
		{"23450", 0, 23450, false},
		{"101.325000\n", 3, 101325, false},
		{"-4.5", 3, -4500, false},
		{".25", 3, 250, false},
		{"12", 3, 12000, false},
		{"0.0001", 3, 0, false},
		{"garbage", 3, 0, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			v, err := ParseMilli(c.input, c.exp)
			if c.err {
				assert.True(t, errors.IsNotValid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, v)
		})
	}
}

func writeAttrs(t testing.TB, dir string, m map[string]string) {
	for name, content := range m {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0644))
	}
}

func TestRead(t *testing.T) {
	t.Parallel()

	dir, err := ioutil.TempDir("", "envtele-iio-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	writeAttrs(t, dir, map[string]string{
		"in_temp_input":             "21375",
		"in_humidityrelative_input": "48250",
		"in_pressure_input":         "99.870000",
		"in_illuminance_raw":        "200",
		"in_illuminance_scale":      "1.5",
	})

	chans := sensor.Channels(envdata.KindAmbientTemp, envdata.KindHumidity, envdata.KindPressure, envdata.KindLight)
	d, err := Open("bme280@iio0", dir, chans)
	require.NoError(t, err)
	buf := make([]byte, d.RawSize())
	n, err := d.Read(context.Background(), buf)
	require.NoError(t, err)

	expect := []float64{21.375, 48.25, 99.87, 300}
	for i, ch := range chans {
		m, s, err := d.Decode(buf[:n], ch)
		require.NoError(t, err)
		assert.InDelta(t, expect[i], envdata.Float(m, s), 0.001, ch.String())
	}
}

func TestReadMissingAttr(t *testing.T) {
	t.Parallel()

	dir, err := ioutil.TempDir("", "envtele-iio-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	d, err := Open("x", dir, sensor.Channels(envdata.KindProximity))
	require.NoError(t, err)
	_, err = d.Read(context.Background(), make([]byte, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel=prox")
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open("x", "/nonexistent/iio", sensor.Channels(envdata.KindAmbientTemp))
	assert.Error(t, err)
	_, err = Open("x", "/tmp", sensor.Channels(envdata.KindAltitude))
	assert.True(t, errors.IsNotSupported(err))
}
