package netmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockLink goes up UpDelay after Connect, unless Never.
type MockLink struct {
	UpDelay    time.Duration
	Never      bool
	ConnectErr error

	connects    uint32
	disconnects uint32
	mu          sync.Mutex
	last        []byte
}

func (l *MockLink) Connect(ctx context.Context, ssid, pass []byte, n Notifier) error {
	atomic.AddUint32(&l.connects, 1)
	l.mu.Lock()
	l.last = append([]byte(nil), ssid...)
	l.mu.Unlock()
	if l.ConnectErr != nil {
		return l.ConnectErr
	}
	if l.Never {
		return nil
	}
	if l.UpDelay == 0 {
		n.LinkUp()
		return nil
	}
	go func() {
		select {
		case <-time.After(l.UpDelay):
			n.LinkUp()
		case <-ctx.Done():
		}
	}()
	return nil
}

func (l *MockLink) Disconnect() error {
	atomic.AddUint32(&l.disconnects, 1)
	return nil
}

func (l *MockLink) Connects() int    { return int(atomic.LoadUint32(&l.connects)) }
func (l *MockLink) Disconnects() int { return int(atomic.LoadUint32(&l.disconnects)) }
func (l *MockLink) LastSSID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.last)
}
