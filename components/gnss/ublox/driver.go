// Package ublox drives u-blox GNSS receivers over a UBX transport. A single receiver loop consumes
// every incoming message; commands are serialized and matched to the next acknowledgment or
// polled response; callers can read the latest fix or block until the next one.
package ublox

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/milkmansson/ublox-gnss-driver/logging"
	"github.com/milkmansson/ublox-gnss-driver/ubx"
	"github.com/milkmansson/ublox-gnss-driver/utils"
)

// Transport is the link the driver talks through. *transport.Adapter implements it.
type Transport interface {
	// NextMessage blocks until the next message decodes. Only link failures and ctx are errors.
	NextMessage(ctx context.Context) (ubx.Message, error)
	SendPacket(packet []byte) error
	SendMessage(m ubx.Message) error
	Flush() error
	Reset(ctx context.Context, mode ubx.ResetMode, action uint8) error
}

// ErrNotRunning is returned for commands that need a reply while the receiver loop is stopped.
var ErrNotRunning = errors.New("receiver loop is not running")

// Driver is a u-blox receiver.
type Driver struct {
	link         Transport
	logger       logging.Logger
	deviceLogger logging.Logger
	clock        clock.Clock
	opts         Options

	workersMu sync.Mutex
	workers   utils.StoppableWorkers
	loopErr   atomic.Error

	cacheMu sync.RWMutex
	latest  map[string]ubx.Message

	// cmdMu allows one outstanding command driver-wide. The receiver loop hands the next ACK,
	// NAK, CFG-MSG, CFG-INF or MON-VER to whatever slot is installed without checking that it
	// answers that command, which is only sound while this holds.
	cmdMu  sync.Mutex
	slotMu sync.Mutex
	slot   chan ubx.Message

	location       atomic.Pointer[Location]
	velocity       atomic.Pointer[r3.Vector]
	timeToFirstFix atomic.Duration
	diagnostics    atomic.Pointer[Diagnostics]

	waitMu  sync.Mutex
	waiters []chan Location

	version *versionState
}

// New returns a driver on link. With opts.HardwareReset the receiver is reset before anything
// else; with opts.AutoRun the receiver loop is started and the receiver is detected and
// configured before New returns.
func New(ctx context.Context, link Transport, logger logging.Logger, opts Options) (*Driver, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	d := &Driver{
		link:         link,
		logger:       logger,
		deviceLogger: logger.Sublogger("device"),
		clock:        clk,
		opts:         opts,
		latest:       map[string]ubx.Message{},
	}
	d.version = newVersionState(logger)

	if opts.HardwareReset {
		if err := link.Reset(ctx, opts.ResetMode, ubx.ResetActionHardware); err != nil {
			return nil, errors.Wrap(err, "failed to reset receiver")
		}
	}
	if !opts.AutoRun {
		return d, nil
	}

	if err := d.start(ctx); err != nil {
		return nil, multierr.Combine(err, d.Close())
	}
	return d, nil
}

// start runs the startup sequence: receiver loop, version, debug output, NMEA off, subscriptions.
func (d *Driver) start(ctx context.Context) error {
	if err := d.Run(); err != nil {
		return err
	}
	if d.opts.ForceProtocolVersion != "" {
		d.version.force(d.opts.ForceProtocolVersion)
	} else if _, err := d.DetectDeviceVersion(ctx); err != nil {
		return err
	}
	if err := d.EnableDebugMessages(ctx); err != nil {
		return err
	}
	if err := d.DisableNMEA(ctx); err != nil {
		return err
	}
	return d.Configure(ctx)
}

// Run starts the receiver loop and returns once it is consuming. Calling Run on a running driver
// does nothing; after Close, or after a link error ended the loop, it starts a fresh loop.
func (d *Driver) Run() error {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	if d.workers != nil {
		if d.loopErr.Load() == nil {
			return nil
		}
		// The loop already returned; Stop only reaps it.
		d.workers.Stop()
		d.workers = nil
	}

	d.loopErr.Store(nil)
	started := make(chan struct{})
	d.workers = utils.NewStoppableWorkers(d.receiveLoop(started))
	<-started
	return nil
}

// Close stops the receiver loop. A command waiting on a reply runs into its timeout. The link is
// left open; it belongs to the caller.
func (d *Driver) Close() error {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	if d.workers == nil {
		return nil
	}
	d.workers.Stop()
	d.workers = nil
	return nil
}

func (d *Driver) running() bool {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	return d.workers != nil
}

// Err returns the link error that stopped the receiver loop, if any.
func (d *Driver) Err() error {
	return d.loopErr.Load()
}

// Reset resets the receiver. It waits for any outstanding command first.
func (d *Driver) Reset(ctx context.Context, mode ubx.ResetMode) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return d.link.Reset(ctx, mode, ubx.ResetActionSoftware)
}

// LatestMessage returns the most recent message of a type, e.g. "UBX-NAV-PVT".
func (d *Driver) LatestMessage(name string) (ubx.Message, bool) {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	msg, ok := d.latest[name]
	return msg, ok
}

// LatestMessages returns a snapshot of the most recent message of every type seen.
func (d *Driver) LatestMessages() map[string]ubx.Message {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	snapshot := make(map[string]ubx.Message, len(d.latest))
	for name, msg := range d.latest {
		snapshot[name] = msg
	}
	return snapshot
}
