package netmgr

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envtele/log2"
)

const (
	linkPollInterval         = 200 * time.Millisecond
	DefaultDisconnectTimeout = 10 * time.Second
)

type Notifier interface {
	LinkUp()
	LinkDown()
}

// Link is link layer collaborator (Wi-Fi association, DHCP).
// Connect only issues request and must not block until link is up,
// readiness is reported via Notifier. ctx bounds the connect attempt,
// link state watch lives until Disconnect.
type Link interface {
	Connect(ctx context.Context, ssid, pass []byte, n Notifier) error
	Disconnect() error
}

// NewLink by config name: static, exec, mock.
func NewLink(kind, iface, connectCmd, disconnectCmd string, log *log2.Log) (Link, error) {
	switch kind {
	case "", "static":
		return &StaticLink{Interface: iface}, nil
	case "exec":
		if connectCmd == "" {
			return nil, errors.NotValidf("network link=exec requires connect_cmd")
		}
		return &ExecLink{Interface: iface, ConnectCmd: connectCmd, DisconnectCmd: disconnectCmd, Log: log}, nil
	case "mock":
		return &MockLink{}, nil
	}
	return nil, errors.NotSupportedf("network link=%s", kind)
}

// StaticLink is for networks managed by OS. Up = interface up with unicast address.
// Empty Interface means any non-loopback interface.
type StaticLink struct {
	Interface string
	w         watcher
}

func (l *StaticLink) Connect(ctx context.Context, ssid, pass []byte, n Notifier) error {
	l.w.start(l.Interface, n)
	return nil
}

func (l *StaticLink) Disconnect() error {
	l.w.stop()
	return nil
}

// ExecLink runs shell commands to associate, e.g. wpa_cli or nmcli wrapper.
// Credentials are passed in SSID and PASS environment variables.
type ExecLink struct {
	Interface     string
	ConnectCmd    string
	DisconnectCmd string
	Log           *log2.Log
	w             watcher
}

func (l *ExecLink) Connect(ctx context.Context, ssid, pass []byte, n Notifier) error {
	env := []string{"SSID=" + string(ssid), "PASS=" + string(pass), "IFACE=" + l.Interface}
	if err := runShell(ctx, l.ConnectCmd, env); err != nil {
		return errors.Annotate(err, "connect_cmd")
	}
	l.Log.Debugf("connect_cmd done iface=%s", l.Interface)
	l.w.start(l.Interface, n)
	return nil
}

func (l *ExecLink) Disconnect() error {
	l.w.stop()
	if l.DisconnectCmd == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDisconnectTimeout)
	defer cancel()
	return errors.Annotate(runShell(ctx, l.DisconnectCmd, []string{"IFACE=" + l.Interface}), "disconnect_cmd")
}

// runShell kills whole process group on ctx done, so children holding output pipe die too.
func runShell(ctx context.Context, script string, env []string) error {
	var out bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return errors.Trace(err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return errors.Annotatef(err, "output=%q", out.String())
		}
		return nil
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return errors.Annotatef(ctx.Err(), "killed output=%q", out.String())
	}
}

// watcher polls interface state and reports transitions until stop.
type watcher struct {
	mu     sync.Mutex
	stopch chan struct{}
	done   chan struct{}
}

func (w *watcher) start(iface string, n Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	stopch, done := make(chan struct{}), make(chan struct{})
	w.stopch, w.done = stopch, done
	go func() {
		defer close(done)
		t := time.NewTicker(linkPollInterval)
		defer t.Stop()
		up := false
		for {
			now := InterfaceUp(iface)
			select {
			case <-stopch:
				return
			default:
			}
			if now != up {
				up = now
				if up {
					n.LinkUp()
				} else {
					n.LinkDown()
				}
			}
			select {
			case <-t.C:
			case <-stopch:
				return
			}
		}
	}()
}

// stop returns after watcher goroutine exited, no notification fires afterwards.
func (w *watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *watcher) stopLocked() {
	if w.stopch == nil {
		return
	}
	close(w.stopch)
	<-w.done
	w.stopch, w.done = nil, nil
}

// InterfaceUp: named (or any non-loopback) interface is up and has global unicast address.
func InterfaceUp(name string) bool {
	var ifaces []net.Interface
	if name != "" {
		i, err := net.InterfaceByName(name)
		if err != nil {
			return false
		}
		ifaces = []net.Interface{*i}
	} else {
		var err error
		if ifaces, err = net.Interfaces(); err != nil {
			return false
		}
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}
