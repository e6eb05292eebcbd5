// Package storage keeps Wi-Fi credentials across reboots.
package storage

import (
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/envtele/log2"
	"github.com/temoto/extremofile"
)

const (
	SSIDMin = 1
	SSIDMax = 32
	PassMin = 8
	PassMax = 64

	keySSID = "ssid"
	keyPass = "pass"

	// length byte + value padded to largest entry
	recordSize = 1 + PassMax
)

func CheckSSID(b []byte) error {
	if len(b) < SSIDMin || len(b) > SSIDMax {
		return errors.NotValidf("SSID length=%d expected %d-%d", len(b), SSIDMin, SSIDMax)
	}
	return nil
}

func CheckPass(b []byte) error {
	if len(b) < PassMin || len(b) > PassMax {
		return errors.NotValidf("password length=%d expected %d-%d", len(b), PassMin, PassMax)
	}
	return nil
}

type entry interface {
	Read() ([]byte, error)
	Write([]byte) (int, error)
}

// FileStore keeps each entry in its own extremofile (main + backup with checksum).
type FileStore struct {
	mu   sync.Mutex
	log  *log2.Log
	root string
	ssid entry
	pass entry
}

// NewFileStore performs no IO until first access.
func NewFileStore(root string, log *log2.Log) (*FileStore, error) {
	if root == "" {
		return nil, errors.NotValidf("storage root=empty")
	}
	newEntry := func(tag string) entry {
		return extremofile.New(extremofile.Config{
			Dir:      filepath.Join(root, tag),
			DirPerm:  0700,
			FilePerm: 0600,
		})
	}
	s := &FileStore{
		log:  log,
		root: root,
		ssid: newEntry(keySSID),
		pass: newEntry(keyPass),
	}
	return s, nil
}

func (s *FileStore) String() string { return "storage:" + s.root }

func (s *FileStore) SSID() ([]byte, error) { return s.get(keySSID, s.ssid) }
func (s *FileStore) Pass() ([]byte, error) { return s.get(keyPass, s.pass) }

func (s *FileStore) SetSSID(b []byte) error {
	if err := CheckSSID(b); err != nil {
		return err
	}
	return s.set(keySSID, s.ssid, b)
}

func (s *FileStore) SetPass(b []byte) error {
	if err := CheckPass(b); err != nil {
		return err
	}
	return s.set(keyPass, s.pass, b)
}

func (s *FileStore) get(key string, e entry) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := e.Read()
	if extremofile.IsCritical(err) {
		return nil, errors.Annotatef(err, "storage read key=%s", key)
	}
	if err != nil {
		// backup copy was used
		s.log.Errorf("storage key=%s ignore non-critical err=%v", key, err)
	}
	if rec == nil {
		return nil, errors.NotFoundf("storage key=%s", key)
	}
	v, err := decodeRecord(rec)
	return v, errors.Annotatef(err, "storage key=%s", key)
}

func (s *FileStore) set(key string, e entry, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := e.Write(encodeRecord(v))
	if err != nil && !extremofile.IsCritical(err) {
		s.log.Errorf("storage key=%s backup write err=%v", key, err)
		err = nil
	}
	return errors.Annotatef(err, "storage write key=%s", key)
}

// Fixed size record, extremofile overwrites in place.
func encodeRecord(v []byte) []byte {
	rec := make([]byte, recordSize)
	rec[0] = byte(len(v))
	copy(rec[1:], v)
	return rec
}

func decodeRecord(rec []byte) ([]byte, error) {
	if len(rec) != recordSize || int(rec[0]) > len(rec)-1 {
		return nil, errors.NotValidf("record size=%d", len(rec))
	}
	v := make([]byte, rec[0])
	copy(v, rec[1:])
	return v, nil
}
