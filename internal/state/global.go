package state

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/internal/bus"
	"github.com/temoto/envtele/internal/delivery"
	"github.com/temoto/envtele/internal/envdata"
	"github.com/temoto/envtele/internal/netmgr"
	"github.com/temoto/envtele/internal/sensor"
	"github.com/temoto/envtele/internal/storage"
	"github.com/temoto/envtele/internal/trigger"
	"github.com/temoto/envtele/log2"
)

type Global struct {
	Alive  *alive.Alive
	Config *Config
	Log    *log2.Log

	HardwareID  []byte
	Fingerprint string

	// may be preset before Init, e.g. by tests
	Storage storage.Credentials
	Devices []sensor.Device

	Bus        *bus.Bus
	Buffer     *envdata.Buffer
	Trigger    *trigger.Trigger
	Aggregator *sensor.Aggregator
	Network    *netmgr.Manager
	Delivery   *delivery.Delivery
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// InitStorage opens credential storage and writes defaults. Used alone by `cred` command.
func (g *Global) InitStorage() error {
	if g.Storage == nil {
		if g.Config.Storage.Root == "" {
			g.Config.Storage.Root = DefaultStorageRoot
			g.Log.Errorf("config: storage.root=empty changed=%s", g.Config.Storage.Root)
		}
		fs, err := storage.NewFileStore(g.Config.Storage.Root, g.Log.Module("storage"))
		if err != nil {
			return errors.Annotate(err, "storage init")
		}
		g.Storage = fs
	}
	err := storage.InitDefaults(g.Storage, g.Config.Storage.InitialSSID, g.Config.Storage.InitialPass, g.Log.Module("storage"))
	return errors.Annotate(err, "storage init")
}

// InitIdentity computes device fingerprint over configured sensor names.
func (g *Global) InitIdentity() error {
	hwid, err := delivery.HardwareID(g.Config.HardwareID, g.Config.MachineIDPath)
	if err != nil {
		return errors.Annotate(err, "device identity")
	}
	g.HardwareID = hwid
	g.Fingerprint = delivery.Fingerprint(hwid, g.Config.SensorNames())
	g.Log.Infof("device id: %s", g.Fingerprint)
	return nil
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// boot-time faults, not folded
	if err := g.InitStorage(); err != nil {
		return err
	}
	if err := g.InitIdentity(); err != nil {
		return err
	}

	errs := make([]error, 0)
	if g.Devices == nil {
		errs = append(errs, g.initDevices()...)
	}
	g.Bus = bus.New()
	channels := sensor.ChannelCount(g.Devices)
	capacity := cfg.Snapshot.Capacity
	if capacity == 0 {
		capacity = channels
	}
	if capacity == 0 {
		capacity = 1
	}
	g.Buffer = envdata.NewBuffer(capacity)
	g.Trigger = trigger.New(cfg.TriggerInterval(), g.Bus.PublishTick, g.Log.Module("timer"))

	if len(errs) == 0 {
		var err error
		g.Aggregator, err = sensor.NewAggregator(sensor.Options{
			Devices:     g.Devices,
			Buffer:      g.Buffer,
			Subscriber:  g.Bus.Aggregator,
			Publish:     g.Bus.PublishEnvironment,
			Log:         g.Log.Module("sensor"),
			LockTimeout: cfg.LockTimeout(),
		})
		if err != nil {
			errs = append(errs, errors.Annotate(err, "config: sensor"))
		}
	}

	link, err := netmgr.NewLink(cfg.Network.Link, cfg.Network.Interface, cfg.Network.ConnectCmd, cfg.Network.DisconnectCmd, g.Log.Module("net"))
	if err != nil {
		errs = append(errs, errors.Annotate(err, "config: network"))
	} else {
		g.Network = netmgr.New(netmgr.Config{
			ConnectTimeout: helpers.IntSecondDefault(cfg.Network.ConnectTimeoutSec, DefaultConnectTimeout),
			IPv4Only:       cfg.Server.IPv4Only,
		}, link, g.Storage, g.Log.Module("net"))

		g.Delivery, err = delivery.New(delivery.Options{
			Host:           cfg.Server.Hostname,
			Port:           cfg.Server.Port,
			Fingerprint:    g.Fingerprint,
			Network:        g.Network,
			Trigger:        g.Trigger,
			Subscriber:     g.Bus.Delivery,
			Log:            g.Log.Module("http"),
			MaxPayload:     cfg.Server.MaxJSONPayload,
			LockTimeout:    cfg.LockTimeout(),
			NetworkTimeout: helpers.IntSecondDefault(cfg.Server.NetworkTimeoutSec, DefaultNetworkTimeout),
			RetryDelay:     helpers.IntSecondDefault(cfg.Server.RetryDelaySec, DefaultRetryDelay),
			RetryDelayMax:  helpers.IntSecondDefault(cfg.Server.RetryDelayMaxSec, DefaultRetryDelayMax),
		})
		if err != nil {
			errs = append(errs, errors.Annotate(err, "config: server"))
		}
	}

	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// Run starts sensor and http threads, blocks until ctx cancel, Alive.Stop or thread error.
func (g *Global) Run(ctx context.Context) error {
	if g.Aggregator == nil || g.Delivery == nil {
		return errors.Errorf("code error Run() before successful Init()")
	}
	if !g.Alive.Add(2) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.Alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	go g.statLoop(ctx, g.Config.TriggerInterval())

	errch := make(chan error, 2)
	go func() {
		defer g.Alive.Done()
		errch <- errors.Annotate(g.Aggregator.Run(ctx), "sensor thread")
	}()
	go func() {
		defer g.Alive.Done()
		errch <- errors.Annotate(g.Delivery.Run(ctx), "http thread")
	}()

	errs := make([]error, 0, 2)
	for i := 0; i < 2; i++ {
		if err := <-errch; err != nil {
			errs = append(errs, err)
			cancel()
		}
	}
	g.Trigger.Stop()
	if err := g.Network.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	return helpers.FoldErrors(errs)
}

// Close releases sensor devices.
func (g *Global) Close() error {
	errs := make([]error, 0)
	for _, d := range g.Devices {
		if c, ok := d.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return helpers.FoldErrors(errs)
}

// StatString is one line summary of sensor timer, delivery and network counters.
func (g *Global) StatString() string {
	ds := g.Delivery.Stat()
	ns := g.Network.Stat()
	lastPublish := time.Duration(0)
	if !ds.LastPublish.IsZero() {
		lastPublish = atomic_clock.Since(&ds.LastPublish)
	}
	return fmt.Sprintf("stat tick_ago=%v state=%s authorize=%d/%d publish=%d/%d rejected=%d skipped=%d sent=%d recv=%d publish_ago=%v net connect=%d/%d dial_fail=%d disconnect=%d",
		g.Trigger.SinceLastTick().Truncate(time.Millisecond), g.Delivery.State(),
		atomic.LoadUint32(&ds.Authorize), atomic.LoadUint32(&ds.AuthorizeFail),
		atomic.LoadUint32(&ds.Publish), atomic.LoadUint32(&ds.PublishFail),
		atomic.LoadUint32(&ds.Rejected), atomic.LoadUint32(&ds.Skipped),
		ds.BytesSent.Value(), ds.BytesRecv.Value(), lastPublish.Truncate(time.Millisecond),
		ns.Connect, ns.ConnectFail, ns.DialFail, ns.Disconnect)
}

func (g *Global) statLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			g.Log.Debug(g.StatString())
		case <-ctx.Done():
			return
		}
	}
}
