// Package delivery authorizes the device with collector and pushes snapshots over HTTP.
//
// State machine:
//   UNAUTHORIZED -> AUTHORIZING -> (200) AUTHORIZED, trigger started
//   AUTHORIZING -> (401, other, transport error) UNAUTHORIZED, backoff sleep, retry
//   AUTHORIZED -> (environment event) PUBLISHING
//   PUBLISHING -> (200, other, transport error) AUTHORIZED
//   PUBLISHING -> (401) UNAUTHORIZED, trigger stopped
package delivery

import (
	"bytes"
	"context"
	"expvar"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/internal/bus"
	"github.com/temoto/envtele/internal/envdata"
	"github.com/temoto/envtele/log2"
)

const (
	PathRegister = "/devices/register"
	PathSendData = "/devices/send_data"

	DefaultPort           = 80
	DefaultNetworkTimeout = 10 * time.Second
	DefaultRetryDelay     = 1 * time.Minute
	DefaultRetryDelayMax  = 60 * time.Minute
	DefaultCooldown       = 1 * time.Second

	// response body read limit, rest is discarded with connection
	recvBufSize = 128
)

var ErrClosing = fmt.Errorf("delivery closing")

type State int32

const (
	StateUnauthorized State = iota
	StateAuthorizing
	StateAuthorized
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateUnauthorized:
		return "UNAUTHORIZED"
	case StateAuthorizing:
		return "AUTHORIZING"
	case StateAuthorized:
		return "AUTHORIZED"
	case StatePublishing:
		return "PUBLISHING"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Network is connectivity collaborator, see netmgr.Manager.
type Network interface {
	Connect(ctx context.Context) error
	Disconnect() error
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Trigger interface {
	Start()
	Stop()
}

type Options struct {
	Host        string
	Port        int
	Fingerprint string

	Network    Network
	Trigger    Trigger
	Subscriber *bus.Subscriber
	Log        *log2.Log

	MaxPayload     int
	LockTimeout    time.Duration
	NetworkTimeout time.Duration
	RetryDelay     time.Duration
	RetryDelayMax  time.Duration
	Cooldown       time.Duration

	// nil = per request transport dialing through Network
	Transport http.RoundTripper
}

type Stat struct {
	Authorize     uint32
	AuthorizeFail uint32
	Publish       uint32
	PublishFail   uint32
	Rejected      uint32 // 401 on publish
	Skipped       uint32 // lock timeout or encode overflow
	BytesSent     expvar.Int
	BytesRecv     expvar.Int
	LastPublish   atomic_clock.Clock
}

// Delivery owns identity, authorization state and payload buffer.
// Run must be called from single goroutine.
type Delivery struct {
	opt     Options
	log     *log2.Log
	alive   *alive.Alive
	backoff *helpers.Backoff
	client  *http.Client
	encoder *Encoder
	baseURL string
	state   int32
	stat    Stat
}

func New(opt Options) (*Delivery, error) {
	if opt.Host == "" {
		return nil, errors.NotValidf("server hostname=empty")
	}
	if len(opt.Fingerprint) != 40 {
		return nil, errors.NotValidf("device fingerprint=%q", opt.Fingerprint)
	}
	if opt.Network == nil || opt.Trigger == nil || opt.Subscriber == nil {
		return nil, errors.NotValidf("code error delivery Network, Trigger or Subscriber nil")
	}
	if opt.Port == 0 {
		opt.Port = DefaultPort
	}
	if opt.LockTimeout == 0 {
		opt.LockTimeout = envdata.DefaultLockTimeout
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.RetryDelay == 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	if opt.RetryDelayMax == 0 {
		opt.RetryDelayMax = DefaultRetryDelayMax
	}
	if opt.RetryDelayMax < opt.RetryDelay {
		return nil, errors.NotValidf("retry_delay_max=%v < retry_delay=%v", opt.RetryDelayMax, opt.RetryDelay)
	}
	if opt.Cooldown == 0 {
		opt.Cooldown = DefaultCooldown
	}
	transport := opt.Transport
	if transport == nil {
		transport = &http.Transport{
			DialContext:           opt.Network.DialContext,
			DisableKeepAlives:     true,
			ResponseHeaderTimeout: opt.NetworkTimeout,
		}
	}
	d := &Delivery{
		opt:   opt,
		log:   opt.Log,
		alive: alive.NewAlive(),
		backoff: &helpers.Backoff{
			Min: opt.RetryDelay,
			Max: opt.RetryDelayMax,
			K:   2,
		},
		client:  &http.Client{Transport: transport},
		encoder: NewEncoder(opt.MaxPayload),
		baseURL: "http://" + net.JoinHostPort(opt.Host, strconv.Itoa(opt.Port)),
	}
	return d, nil
}

func (d *Delivery) State() State { return State(atomic.LoadInt32(&d.state)) }
func (d *Delivery) Stat() *Stat   { return &d.stat }

func (d *Delivery) Authorized() bool {
	s := d.State()
	return s == StateAuthorized || s == StatePublishing
}

func (d *Delivery) setState(s State) {
	old := State(atomic.SwapInt32(&d.state, int32(s)))
	if old != s {
		d.log.Debugf("state %s -> %s", old, s)
	}
}

// Stop interrupts Run including backoff sleep and waits for it to return.
func (d *Delivery) Stop() {
	d.alive.Stop()
	d.alive.Wait()
}

// Run is delivery thread: authorize, then publish every environment event.
// Returns nil on ctx cancel or Stop.
func (d *Delivery) Run(ctx context.Context) error {
	if !d.alive.Add(1) {
		return ErrClosing
	}
	defer d.alive.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	d.log.Infof("network thread ready server=%s", d.baseURL)
	for {
		if !d.Authorized() {
			if err := d.authorize(ctx); err != nil {
				return d.exitErr(ctx, err)
			}
			if err := d.sleep(ctx, d.opt.Cooldown); err != nil {
				return d.exitErr(ctx, err)
			}
		}
		if err := d.publish(ctx); err != nil {
			if ctx.Err() != nil {
				return d.exitErr(ctx, err)
			}
			d.log.Errorf("publish err=%v", err)
		}
		if err := d.sleep(ctx, d.opt.Cooldown); err != nil {
			return d.exitErr(ctx, err)
		}
	}
}

func (d *Delivery) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Cause(err) == ErrClosing {
		return nil
	}
	return err
}

// authorize blocks until 200 or shutdown.
func (d *Delivery) authorize(ctx context.Context) error {
	for {
		d.setState(StateAuthorizing)
		atomic.AddUint32(&d.stat.Authorize, 1)
		status, err := d.request(ctx, PathRegister, "text/plain", []byte(d.opt.Fingerprint), false)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Errorf("authorize request failed err=%v", err)
		case status == http.StatusOK:
			d.setState(StateAuthorized)
			d.backoff.Reset()
			d.opt.Trigger.Start()
			d.log.Infof("device authorized")
			return nil
		case status == http.StatusUnauthorized:
			d.opt.Trigger.Stop()
			d.log.Infof("device not authorized")
		default:
			d.log.Warnf("unexpected response status=%d", status)
		}
		atomic.AddUint32(&d.stat.AuthorizeFail, 1)
		d.setState(StateUnauthorized)

		delay := d.backoff.Failure()
		d.log.Warnf("next attempt in %v", delay)
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// publish waits for one environment event and pushes it.
// Cycle-local failures are logged and return nil.
func (d *Delivery) publish(ctx context.Context) error {
	ch, err := d.opt.Subscriber.Wait(ctx)
	if err != nil {
		return errors.Annotate(err, "waiting for channel notification failed")
	}
	buf, err := bus.ReadEnvironment(ch)
	if err != nil {
		if errors.Cause(err) == bus.ErrEmpty {
			return nil
		}
		return errors.Annotate(err, "failed to read channel message")
	}

	var payload []byte
	err = buf.With(d.opt.LockTimeout, func(s *envdata.Snapshot) error {
		var e error
		payload, e = d.encoder.Encode(s)
		return e
	})
	if err != nil {
		atomic.AddUint32(&d.stat.Skipped, 1)
		if errors.IsTimeout(errors.Cause(err)) {
			d.log.Errorf("failed to lock sensor buffer err=%v", err)
		} else {
			d.log.Errorf("failed to encode json message err=%v", err)
		}
		return nil
	}

	d.setState(StatePublishing)
	atomic.AddUint32(&d.stat.Publish, 1)
	status, err := d.request(ctx, PathSendData, "application/json", payload, true)
	switch {
	case err != nil:
		atomic.AddUint32(&d.stat.PublishFail, 1)
		d.setState(StateAuthorized)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.log.Errorf("publish request failed err=%v", err)
	case status == http.StatusOK:
		d.setState(StateAuthorized)
		d.stat.LastPublish.SetNow()
		d.log.Infof("data published size=%d", len(payload))
	case status == http.StatusUnauthorized:
		atomic.AddUint32(&d.stat.Rejected, 1)
		d.opt.Trigger.Stop()
		d.setState(StateUnauthorized)
		d.log.Infof("device unauthorized")
	default:
		atomic.AddUint32(&d.stat.PublishFail, 1)
		d.setState(StateAuthorized)
		d.log.Warnf("unexpected response status=%d", status)
	}
	return nil
}

// request connects, POSTs chunked body, reads status and always disconnects.
func (d *Delivery) request(ctx context.Context, path, contentType string, body []byte, withID bool) (int, error) {
	if err := d.opt.Network.Connect(ctx); err != nil {
		return 0, errors.Annotate(err, "server connect")
	}
	defer func() {
		if err := d.opt.Network.Disconnect(); err != nil {
			d.log.Errorf("server disconnect err=%v", err)
		}
	}()

	rctx, cancel := context.WithTimeout(ctx, d.opt.NetworkTimeout)
	defer cancel()
	r := helpers.NewStatReader(bytes.NewReader(body), &d.stat.BytesSent, 0)
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, d.baseURL+path, ioutil.NopCloser(r))
	if err != nil {
		return 0, errors.Annotatef(err, "request path=%s", path)
	}
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", contentType)
	if withID {
		req.Header.Set(DeviceIDHeader, d.opt.Fingerprint)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, errors.Annotatef(err, "POST %s", path)
	}
	_, _ = io.Copy(ioutil.Discard, helpers.NewStatReader(io.LimitReader(resp.Body, recvBufSize), &d.stat.BytesRecv, 0))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Delivery) sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Canceled
	case <-d.alive.StopChan():
		return ErrClosing
	}
}
