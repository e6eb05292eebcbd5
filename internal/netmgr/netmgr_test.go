package netmgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envtele/internal/storage"
	"github.com/temoto/envtele/log2"
)

type mockResolver map[string][]string

func (r mockResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ss, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	addrs := make([]net.IPAddr, len(ss))
	for i, s := range ss {
		addrs[i] = net.IPAddr{IP: net.ParseIP(s)}
	}
	return addrs, nil
}

type mockDialer struct {
	sync.Mutex
	fail  map[string]bool
	tried []string
}

func (d *mockDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.Lock()
	d.tried = append(d.tried, address)
	d.Unlock()
	if d.fail[address] {
		return nil, fmt.Errorf("connection refused")
	}
	c1, c2 := net.Pipe()
	go func() {
		// drain until closed
		b := make([]byte, 64)
		for {
			if _, err := c2.Read(b); err != nil {
				return
			}
		}
	}()
	return c1, nil
}

func newTestCreds(t testing.TB) *storage.MemStore {
	m := storage.NewMemStore()
	require.NoError(t, m.SetSSID([]byte("greenhouse")))
	require.NoError(t, m.SetPass([]byte("secret-pass")))
	return m
}

func newTestManager(t testing.TB, link Link, config Config) *Manager {
	return New(config, link, newTestCreds(t), log2.NewTest(t, log2.LDebug))
}

func TestResolveAndDialFailover(t *testing.T) {
	t.Parallel()

	d := &mockDialer{fail: map[string]bool{"192.0.2.1:8080": true}}
	m := newTestManager(t, &MockLink{}, Config{
		Resolver: mockResolver{"collector.example": {"192.0.2.1", "192.0.2.2"}},
		Dial:     d.dial,
	})
	conn, err := m.ResolveAndDial(context.Background(), "collector.example", 8080)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, []string{"192.0.2.1:8080", "192.0.2.2:8080"}, d.tried)
	assert.Equal(t, uint32(1), m.Stat().DialFail)
	require.NoError(t, conn.Close())
}

func TestResolveAndDialAllFail(t *testing.T) {
	t.Parallel()

	d := &mockDialer{fail: map[string]bool{"192.0.2.1:80": true, "[2001:db8::1]:80": true}}
	m := newTestManager(t, &MockLink{}, Config{
		Resolver: mockResolver{"c": {"2001:db8::1", "192.0.2.1"}},
		Dial:     d.dial,
	})
	_, err := m.ResolveAndDial(context.Background(), "c", 80)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 addresses failed")

	_, err = m.ResolveAndDial(context.Background(), "unknown", 80)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve unknown")
}

func TestResolveIPv4Only(t *testing.T) {
	t.Parallel()

	d := &mockDialer{}
	m := newTestManager(t, &MockLink{}, Config{
		IPv4Only: true,
		Resolver: mockResolver{"c": {"2001:db8::1", "192.0.2.7"}, "v6": {"2001:db8::2"}},
		Dial:     d.dial,
	})
	conn, err := m.ResolveAndDial(context.Background(), "c", 80)
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, []string{"192.0.2.7:80"}, d.tried)

	_, err = m.ResolveAndDial(context.Background(), "v6", 80)
	assert.True(t, errors.IsNotFound(errors.Cause(err)))
}

func TestDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	link := &MockLink{}
	d := &mockDialer{}
	m := newTestManager(t, link, Config{Resolver: mockResolver{}, Dial: d.dial})

	// without connect
	assert.NoError(t, m.Disconnect())
	assert.NoError(t, m.Disconnect())
	assert.Equal(t, 0, link.Disconnects())

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	assert.True(t, m.IsUp())
	assert.Equal(t, "greenhouse", link.LastSSID())
	conn, err := m.ResolveAndDial(ctx, "127.0.0.1", 80)
	require.NoError(t, err)

	assert.NoError(t, m.Disconnect())
	assert.NoError(t, m.Disconnect())
	assert.Equal(t, 1, link.Disconnects())
	assert.False(t, m.IsUp())
	_, err = conn.Write([]byte("x"))
	assert.Error(t, err, "tracked conn closed by Disconnect")
	assert.NoError(t, conn.Close())
}

func TestConnectTimeout(t *testing.T) {
	t.Parallel()

	link := &MockLink{Never: true}
	m := newTestManager(t, link, Config{ConnectTimeout: 30 * time.Millisecond})
	tbegin := time.Now()
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err), errors.ErrorStack(err))
	assert.GreaterOrEqual(t, int64(time.Since(tbegin)), int64(30*time.Millisecond))
	assert.Equal(t, 1, link.Disconnects(), "state reset on timeout")
	assert.Equal(t, uint32(1), m.Stat().ConnectFail)
}

func TestConnectDelayedUp(t *testing.T) {
	t.Parallel()

	link := &MockLink{UpDelay: 10 * time.Millisecond}
	m := newTestManager(t, link, Config{ConnectTimeout: time.Second})
	require.NoError(t, m.Connect(context.Background()))
	// already up, no new request
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, link.Connects())

	// late down is independent transition
	m.LinkDown()
	assert.False(t, m.IsUp())
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 2, link.Connects())
}

func TestConnectNoCredentials(t *testing.T) {
	t.Parallel()

	link := &MockLink{}
	m := New(Config{}, link, storage.NewMemStore(), log2.NewTest(t, log2.LDebug))
	err := m.Connect(context.Background())
	assert.True(t, errors.IsNotFound(errors.Cause(err)))
	assert.Equal(t, 0, link.Connects())
}

func TestConnectLinkError(t *testing.T) {
	t.Parallel()

	link := &MockLink{ConnectErr: fmt.Errorf("radio off")}
	m := newTestManager(t, link, Config{})
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radio off")
	assert.Equal(t, 1, link.Disconnects())
}

func TestNewLink(t *testing.T) {
	t.Parallel()

	l, err := NewLink("", "", "", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &StaticLink{}, l)
	_, err = NewLink("exec", "wlan0", "", "", nil)
	assert.True(t, errors.IsNotValid(err))
	_, err = NewLink("carrier-pigeon", "", "", "", nil)
	assert.True(t, errors.IsNotSupported(err))
}

func TestExecLinkConnectBounded(t *testing.T) {
	t.Parallel()

	link := &ExecLink{Interface: "envtele-none0", ConnectCmd: "sleep 3", Log: log2.NewTest(t, log2.LDebug)}
	m := newTestManager(t, link, Config{ConnectTimeout: 100 * time.Millisecond})
	tbegin := time.Now()
	err := m.Connect(context.Background())
	elapsed := time.Since(tbegin)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err), errors.ErrorStack(err))
	assert.Less(t, int64(elapsed), int64(2*time.Second), "connect_cmd must be killed at connect timeout")
	assert.Equal(t, uint32(1), m.Stat().ConnectFail)
	assert.Equal(t, uint32(1), m.Stat().Disconnect)
	assert.False(t, m.IsUp())
}

func TestExecLinkConnectEnv(t *testing.T) {
	t.Parallel()

	link := &ExecLink{
		Interface:  "envtele-none0",
		ConnectCmd: `test "$SSID" = greenhouse && test "$PASS" = secret-pass && test "$IFACE" = envtele-none0`,
		Log:        log2.NewTest(t, log2.LDebug),
	}
	m := newTestManager(t, link, Config{ConnectTimeout: 300 * time.Millisecond})
	err := m.Connect(context.Background())
	// command succeeded, interface never comes up
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err), errors.ErrorStack(err))
	assert.NotContains(t, err.Error(), "link request")
}

func TestExecLinkConnectFail(t *testing.T) {
	t.Parallel()

	link := &ExecLink{Interface: "envtele-none0", ConnectCmd: "echo bad-psk; exit 3", Log: log2.NewTest(t, log2.LDebug)}
	m := newTestManager(t, link, Config{ConnectTimeout: time.Second})
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, errors.IsTimeout(err))
	assert.Contains(t, err.Error(), "bad-psk")
	assert.Equal(t, uint32(1), m.Stat().Disconnect)
}

// lateUpLink reports link up while being torn down.
type lateUpLink struct {
	n Notifier
}

func (l *lateUpLink) Connect(ctx context.Context, ssid, pass []byte, n Notifier) error {
	l.n = n
	n.LinkUp()
	return nil
}

func (l *lateUpLink) Disconnect() error {
	l.n.LinkUp()
	return nil
}

func TestDisconnectLateLinkUp(t *testing.T) {
	t.Parallel()

	link := &lateUpLink{}
	m := newTestManager(t, link, Config{ConnectTimeout: time.Second})
	require.NoError(t, m.Connect(context.Background()))
	require.True(t, m.IsUp())
	require.NoError(t, m.Disconnect())
	assert.False(t, m.IsUp(), "notification during teardown must not survive Disconnect")
}
