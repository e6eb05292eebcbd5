package delivery

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/juju/errors"
)

const (
	DeviceIDHeader       = "X-DEVICE-ID"
	HardwareIDSize       = 16
	DefaultMachineIDPath = "/etc/machine-id"
)

// Fingerprint is lowercase hex SHA-1 over hardware id followed by sensor names.
// Names are sorted so config order does not change identity.
func Fingerprint(hwid []byte, sensors []string) string {
	names := append([]string(nil), sensors...)
	sort.Strings(names)
	h := sha1.New() //nolint:gosec
	_, _ = h.Write(hwid)
	for _, s := range names {
		_, _ = h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HardwareID from explicit hex string, otherwise from systemd machine-id file.
func HardwareID(hexID string, machineIDPath string) ([]byte, error) {
	source := "hardware_id"
	if hexID == "" {
		if machineIDPath == "" {
			machineIDPath = DefaultMachineIDPath
		}
		b, err := ioutil.ReadFile(machineIDPath)
		if err != nil {
			return nil, errors.Annotate(err, "hardware id")
		}
		hexID = string(b)
		source = machineIDPath
	}
	id, err := hex.DecodeString(strings.TrimSpace(hexID))
	if err != nil {
		return nil, errors.NotValidf("hardware id source=%s hex", source)
	}
	if len(id) != HardwareIDSize {
		return nil, errors.NotValidf("hardware id source=%s length=%d expected %d", source, len(id), HardwareIDSize)
	}
	return id, nil
}
