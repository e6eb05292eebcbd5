package delivery

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envtele/internal/envdata"
)

func testHardwareID() []byte {
	id := make([]byte, HardwareIDSize)
	for i := range id {
		id[i] = byte(i)
	}
	return id
}

func TestFingerprintSingleSensor(t *testing.T) {
	t.Parallel()

	id := testHardwareID()
	h := sha1.New() //nolint:gosec
	h.Write(id)
	h.Write([]byte("bme280@0"))
	expect := hex.EncodeToString(h.Sum(nil))

	fp := Fingerprint(id, []string{"bme280@0"})
	assert.Equal(t, expect, fp)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{40}$`), fp)
}

func TestFingerprintOrderIndependent(t *testing.T) {
	t.Parallel()

	id := testHardwareID()
	names := []string{"sht4x@44", "bme280@76", "bh1750@23"}
	fp1 := Fingerprint(id, names)
	fp2 := Fingerprint(id, []string{"bh1750@23", "sht4x@44", "bme280@76"})
	assert.Equal(t, fp1, fp2)
	assert.Equal(t, "sht4x@44", names[0], "input not mutated")

	assert.NotEqual(t, fp1, Fingerprint(id, names[:2]))
	other := testHardwareID()
	other[0] = 0xff
	assert.NotEqual(t, fp1, Fingerprint(other, names))
}

func TestHardwareID(t *testing.T) {
	t.Parallel()

	id, err := HardwareID("000102030405060708090a0b0c0d0e0f", "")
	require.NoError(t, err)
	assert.Equal(t, testHardwareID(), id)

	dir, err := ioutil.TempDir("", "envtele-hwid-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "machine-id")
	require.NoError(t, ioutil.WriteFile(path, []byte("000102030405060708090A0B0C0D0E0F\n"), 0644))
	id, err = HardwareID("", path)
	require.NoError(t, err)
	assert.Equal(t, testHardwareID(), id)

	_, err = HardwareID("abcd", "")
	assert.True(t, errors.IsNotValid(err))
	_, err = HardwareID("zz", "")
	assert.True(t, errors.IsNotValid(err))
	_, err = HardwareID("", filepath.Join(dir, "nonexistent"))
	assert.Error(t, err)
}

func TestEncoder(t *testing.T) {
	t.Parallel()

	s := envdata.NewSnapshot(3)
	e := NewEncoder(128)
	b, err := e.Encode(s)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	require.NoError(t, s.Append(envdata.Reading{Sensor: "bme280@76", Kind: envdata.KindAmbientTemp, Value: 1376, Shift: -6}))
	require.NoError(t, s.Append(envdata.Reading{Sensor: "bme280@76", Kind: envdata.KindPressure, Value: 101, Shift: 0}))
	b, err = e.Encode(s)
	require.NoError(t, err)
	assert.Equal(t, `[{"sensor":"bme280@76","type":"temp","value":1376,"shift":-6},`+
		`{"sensor":"bme280@76","type":"press","value":101,"shift":0}]`, string(b))

	// exact fit
	e2 := NewEncoder(len(b))
	b2, err := e2.Encode(s)
	require.NoError(t, err)
	assert.Equal(t, b, b2)

	e3 := NewEncoder(len(b) - 1)
	_, err = e3.Encode(s)
	assert.Equal(t, ErrPayloadOverflow, errors.Cause(err))
}
