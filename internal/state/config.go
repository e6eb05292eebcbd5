package state

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/log2"
)

const (
	DefaultStorageRoot      = "./envtele-data"
	DefaultTriggerInterval  = 5 * time.Minute
	DefaultConnectTimeout   = 30 * time.Second
	DefaultLockTimeout      = 1 * time.Second
	DefaultNetworkTimeout   = 10 * time.Second
	DefaultRetryDelay       = 1 * time.Minute
	DefaultRetryDelayMax    = 60 * time.Minute
	DefaultServerPort       = 80
	DefaultMaxJSONPayload   = 1024
	DefaultSensorDriverName = "sim"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug      bool   `hcl:"log_debug"`
	HardwareID    string `hcl:"hardware_id"` // hex, default from machine_id_path
	MachineIDPath string `hcl:"machine_id_path"`

	Sensors []*SensorConfig `hcl:"sensor"`

	Snapshot struct {
		Capacity      int `hcl:"capacity"` // default sum of sensor channels
		LockTimeoutMs int `hcl:"lock_timeout_ms"`
	} `hcl:"snapshot"`

	Trigger struct {
		IntervalSec int `hcl:"interval_sec"`
	} `hcl:"trigger"`

	Server struct {
		Hostname          string `hcl:"hostname"`
		Port              int    `hcl:"port"`
		IPv4Only          bool   `hcl:"ipv4_only"`
		MaxJSONPayload    int    `hcl:"max_json_payload"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		RetryDelaySec     int    `hcl:"retry_delay_sec"`
		RetryDelayMaxSec  int    `hcl:"retry_delay_max_sec"`
	} `hcl:"server"`

	Network struct {
		Link              string `hcl:"link"` // static, exec, mock
		Interface         string `hcl:"interface"`
		ConnectTimeoutSec int    `hcl:"connect_timeout_sec"`
		ConnectCmd        string `hcl:"connect_cmd"`
		DisconnectCmd     string `hcl:"disconnect_cmd"`
	} `hcl:"network"`

	Storage struct {
		Root        string `hcl:"root"`
		InitialSSID string `hcl:"initial_ssid"`
		InitialPass string `hcl:"initial_pass"`
	} `hcl:"storage"`
}

type SensorConfig struct {
	Name     string   `hcl:"name,key"`
	Driver   string   `hcl:"driver"` // bmxx80, iio, sim
	Model    string   `hcl:"model"`  // compat table key, default channels
	I2CBus   string   `hcl:"i2c_bus"`
	Address  int      `hcl:"address"`
	Device   string   `hcl:"device"` // iio device dir
	Channels []string `hcl:"channels"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) LockTimeout() time.Duration {
	if c.Snapshot.LockTimeoutMs == 0 {
		return DefaultLockTimeout
	}
	return time.Duration(c.Snapshot.LockTimeoutMs) * time.Millisecond
}

func (c *Config) TriggerInterval() time.Duration {
	return helpers.IntSecondDefault(c.Trigger.IntervalSec, DefaultTriggerInterval)
}

func (c *Config) SensorNames() []string {
	ss := make([]string, len(c.Sensors))
	for i, s := range c.Sensors {
		ss[i] = s.Name
	}
	return ss
}

// Validate applies defaults and returns all problems folded.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	if len(c.Sensors) == 0 {
		errs = append(errs, errors.NotValidf("config: no sensor blocks"))
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if s.Name == "" {
			errs = append(errs, errors.NotValidf("config: sensor name=empty"))
			continue
		}
		if _, ok := seen[s.Name]; ok {
			errs = append(errs, errors.NotValidf("config: sensor %s duplicate", s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.Driver == "" {
			s.Driver = DefaultSensorDriverName
		}
	}
	if c.Server.Hostname == "" {
		errs = append(errs, errors.NotValidf("config: server.hostname=empty"))
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.NotValidf("config: server.port=%d", c.Server.Port))
	}
	if c.Server.MaxJSONPayload == 0 {
		c.Server.MaxJSONPayload = DefaultMaxJSONPayload
	}
	if c.Snapshot.Capacity < 0 || c.Server.MaxJSONPayload < 0 || c.Trigger.IntervalSec < 0 {
		errs = append(errs, errors.NotValidf("config: negative snapshot.capacity, server.max_json_payload or trigger.interval_sec"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
