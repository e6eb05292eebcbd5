package storage

import (
	"sync"

	"github.com/juju/errors"
)

// MemStore is volatile FileStore replacement for tests and dry runs.
type MemStore struct {
	mu   sync.Mutex
	ssid []byte
	pass []byte
}

func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) SSID() ([]byte, error) { return m.get("ssid", &m.ssid) }
func (m *MemStore) Pass() ([]byte, error) { return m.get("pass", &m.pass) }

func (m *MemStore) SetSSID(b []byte) error {
	if err := CheckSSID(b); err != nil {
		return err
	}
	return m.set(&m.ssid, b)
}

func (m *MemStore) SetPass(b []byte) error {
	if err := CheckPass(b); err != nil {
		return err
	}
	return m.set(&m.pass, b)
}

func (m *MemStore) get(key string, p *[]byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if *p == nil {
		return nil, errors.NotFoundf("storage key=%s", key)
	}
	return append([]byte(nil), *p...), nil
}

func (m *MemStore) set(p *[]byte, b []byte) error {
	m.mu.Lock()
	*p = append([]byte(nil), b...)
	m.mu.Unlock()
	return nil
}
