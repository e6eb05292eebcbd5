// Package netmgr tracks link state and dials the collector with DNS failover.
package netmgr

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envtele/helpers/msync"
	"github.com/temoto/envtele/log2"
)

const DefaultConnectTimeout = 30 * time.Second

type Credentials interface {
	SSID() ([]byte, error)
	Pass() ([]byte, error)
}

type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Config struct {
	ConnectTimeout time.Duration
	IPv4Only       bool
	Resolver       Resolver // default net.DefaultResolver
	Dial           DialFunc // default net.Dialer.DialContext
}

type Stat struct {
	Connect     uint32
	ConnectFail uint32
	DialFail    uint32
	Disconnect  uint32
}

type Manager struct {
	config Config
	link   Link
	creds  Credentials
	log    *log2.Log
	stat   Stat

	// link up and address acquired, consumed by Connect waiter
	upSig msync.Signal

	mu     sync.Mutex
	up     bool
	linked bool // Link.Connect issued, Link.Disconnect pending
	conns  map[net.Conn]struct{}
}

func New(config Config, link Link, creds Credentials, log *log2.Log) *Manager {
	if link == nil || creds == nil {
		panic("code error netmgr link or credentials nil")
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.Resolver == nil {
		config.Resolver = net.DefaultResolver
	}
	if config.Dial == nil {
		d := net.Dialer{}
		config.Dial = d.DialContext
	}
	return &Manager{
		config: config,
		link:   link,
		creds:  creds,
		log:    log,
		upSig:  msync.NewSignal(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// LinkUp is called by Link when interface is up and has address.
func (m *Manager) LinkUp() {
	m.mu.Lock()
	m.up = true
	m.mu.Unlock()
	m.upSig.Set()
	m.log.Debugf("link up")
}

// LinkDown is independent state transition, it does not cancel waiter already unblocked.
func (m *Manager) LinkDown() {
	m.mu.Lock()
	m.up = false
	m.mu.Unlock()
	m.upSig.Clear()
	m.log.Debugf("link down")
}

func (m *Manager) IsUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// Connect blocks until link is up, at most ConnectTimeout.
// On timeout link is disconnected to reset state.
func (m *Manager) Connect(ctx context.Context) error {
	atomic.AddUint32(&m.stat.Connect, 1)
	if m.IsUp() {
		return nil
	}
	ssid, err := m.creds.SSID()
	if err != nil {
		atomic.AddUint32(&m.stat.ConnectFail, 1)
		return errors.Annotate(err, "network connect credentials")
	}
	pass, err := m.creds.Pass()
	if err != nil {
		atomic.AddUint32(&m.stat.ConnectFail, 1)
		return errors.Annotate(err, "network connect credentials")
	}

	m.upSig.Clear()
	m.mu.Lock()
	m.linked = true
	m.mu.Unlock()
	// one deadline for link request and waiting for link up
	deadline := time.Now().Add(m.config.ConnectTimeout)
	lctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err = m.link.Connect(lctx, ssid, pass, m); err != nil {
		atomic.AddUint32(&m.stat.ConnectFail, 1)
		_ = m.Disconnect()
		if ctx.Err() == nil && lctx.Err() == context.DeadlineExceeded {
			return errors.Timeoutf("network connect ssid=%s after %v link request", ssid, m.config.ConnectTimeout)
		}
		return errors.Annotatef(err, "network connect ssid=%s", ssid)
	}

	m.log.Debugf("waiting for link ssid=%s timeout=%v", ssid, m.config.ConnectTimeout)
	switch err = m.upSig.WaitTimeout(ctx, time.Until(deadline)); err {
	case nil:
		m.log.Debugf("connected ssid=%s", ssid)
		return nil
	case msync.ErrTimeout:
		err = errors.Timeoutf("network connect ssid=%s after %v", ssid, m.config.ConnectTimeout)
	default:
		err = errors.Annotate(err, "network connect")
	}
	atomic.AddUint32(&m.stat.ConnectFail, 1)
	_ = m.Disconnect()
	return err
}

// ResolveAndDial tries every resolved address in order, first success wins.
// Returned conn is tracked and closed by Disconnect.
func (m *Manager) ResolveAndDial(ctx context.Context, host string, port int) (net.Conn, error) {
	addrs, err := m.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	portString := strconv.Itoa(port)
	var lastErr error
	for i, a := range addrs {
		addr := net.JoinHostPort(a.IP.String(), portString)
		conn, err := m.config.Dial(ctx, "tcp", addr)
		if err != nil {
			atomic.AddUint32(&m.stat.DialFail, 1)
			m.log.Debugf("dial %s candidate=%d/%d addr=%s err=%v", host, i+1, len(addrs), addr, err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return m.track(conn), nil
	}
	return nil, errors.Annotatef(lastErr, "dial %s:%d all %d addresses failed", host, port, len(addrs))
}

// DialContext adapts ResolveAndDial to http.Transport.
func (m *Manager) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portString, err := net.SplitHostPort(address)
	if err != nil {
		return nil, errors.Annotatef(err, "dial address=%s", address)
	}
	port, err := strconv.Atoi(portString)
	if err != nil {
		return nil, errors.NotValidf("dial port=%s", portString)
	}
	return m.ResolveAndDial(ctx, host, port)
}

// Disconnect closes tracked sockets and link. Safe to call any number of times.
// Link state is reset after link stopped reporting, so late LinkUp can not leak into next Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[net.Conn]struct{})
	linked := m.linked
	m.linked = false
	m.mu.Unlock()

	for c := range conns {
		_ = c.Close()
	}
	var err error
	if linked {
		atomic.AddUint32(&m.stat.Disconnect, 1)
		if err = m.link.Disconnect(); err != nil {
			m.log.Errorf("link disconnect err=%v", err)
			err = errors.Annotate(err, "network disconnect")
		}
	}

	m.mu.Lock()
	m.up = false
	m.mu.Unlock()
	m.upSig.Clear()
	return err
}

func (m *Manager) Stat() Stat {
	return Stat{
		Connect:     atomic.LoadUint32(&m.stat.Connect),
		ConnectFail: atomic.LoadUint32(&m.stat.ConnectFail),
		DialFail:    atomic.LoadUint32(&m.stat.DialFail),
		Disconnect:  atomic.LoadUint32(&m.stat.Disconnect),
	}
}

func (m *Manager) resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}
	all, err := m.config.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Annotatef(err, "resolve %s", host)
	}
	addrs := all
	if m.config.IPv4Only {
		addrs = make([]net.IPAddr, 0, len(all))
		for _, a := range all {
			if a.IP.To4() != nil {
				addrs = append(addrs, a)
			}
		}
	}
	if len(addrs) == 0 {
		return nil, errors.NotFoundf("resolve %s ipv4_only=%t addresses", host, m.config.IPv4Only)
	}
	return addrs, nil
}

type trackedConn struct {
	net.Conn
	m    *Manager
	once sync.Once
}

func (m *Manager) track(c net.Conn) net.Conn {
	tc := &trackedConn{Conn: c, m: m}
	m.mu.Lock()
	m.conns[tc] = struct{}{}
	m.mu.Unlock()
	return tc
}

func (tc *trackedConn) Close() error {
	var err error
	tc.once.Do(func() {
		tc.m.mu.Lock()
		delete(tc.m.conns, tc)
		tc.m.mu.Unlock()
		err = tc.Conn.Close()
	})
	return err
}
