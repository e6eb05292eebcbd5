package storage

import (
	"github.com/juju/errors"
	"github.com/temoto/envtele/log2"
)

type Credentials interface {
	SSID() ([]byte, error)
	SetSSID([]byte) error
	Pass() ([]byte, error)
	SetPass([]byte) error
}

// InitDefaults writes initial values for absent entries, existing are kept.
// Empty initial value means no default. Invalid sizes are logged and skipped.
func InitDefaults(c Credentials, ssid, pass string, log *log2.Log) error {
	type item struct {
		key   string
		get   func() ([]byte, error)
		set   func([]byte) error
		value string
	}
	items := []item{
		{keySSID, c.SSID, c.SetSSID, ssid},
		{keyPass, c.Pass, c.SetPass, pass},
	}
	for _, it := range items {
		if it.value == "" {
			continue
		}
		_, err := it.get()
		if err == nil {
			continue
		}
		if !errors.IsNotFound(err) {
			return errors.Annotatef(err, "storage defaults key=%s", it.key)
		}
		if err = it.set([]byte(it.value)); err != nil {
			if errors.IsNotValid(err) {
				log.Errorf("storage default key=%s err=%v", it.key, err)
				continue
			}
			return errors.Annotatef(err, "storage defaults key=%s", it.key)
		}
		log.Infof("storage initialized key=%s", it.key)
	}
	return nil
}
