package cred

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envtele/internal/storage"
)

func TestExec(t *testing.T) {
	t.Parallel()

	s := storage.NewMemStore()
	var out bytes.Buffer

	require.NoError(t, Exec(s, "show", &out))
	assert.Equal(t, "ssid= pass=\n", out.String())
	out.Reset()

	require.NoError(t, Exec(s, "set_ssid  home-net ", &out))
	require.NoError(t, Exec(s, "set_pass secret123", &out))
	assert.Equal(t, "ssid updated\npassword updated\n", out.String())
	out.Reset()

	require.NoError(t, Exec(s, "show", &out))
	assert.Equal(t, "ssid=home-net pass=s*******3\n", out.String())

	require.NoError(t, Exec(s, "", &out))
	assert.EqualError(t, Exec(s, "set_ssid", &out), "Usage: set_ssid <ssid>")
	assert.EqualError(t, Exec(s, "set_pass a b", &out), "Usage: set_pass <pass>")
	err := Exec(s, "set_pass short", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad password")
	err = Exec(s, "reboot", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command='reboot'")

	pass, err := s.Pass()
	require.NoError(t, err)
	assert.Equal(t, "secret123", string(pass))
}

func TestMask(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Mask(nil))
	assert.Equal(t, "***", Mask([]byte("abc")))
	assert.Equal(t, "p******d", Mask([]byte("password")))
}
