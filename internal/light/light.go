// Package light drives one BLE RGB fixture: it keeps the desired color,
// finds and connects the device, and writes the color whenever it is stale.
package light

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sacn2ble/internal/color"
	"sacn2ble/internal/logger"
)

// State of a fixture link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Identity is the configured address of a fixture.
type Identity struct {
	ID       string // ID - аппаратный адрес BLE.
	Universe uint16 // Universe - вселенная DMX.
	Address  uint16 // Address - первый из трёх каналов (R, G, B), с 1.
}

// Options tunes the loop timing.
type Options struct {
	ScanInterval   time.Duration
	WriteInterval  time.Duration
	ConnectTimeout time.Duration
	Now            func() time.Time
}

// DefaultOptions returns the standard polling intervals.
func DefaultOptions() Options {
	return Options{
		ScanInterval:   500 * time.Millisecond,
		WriteInterval:  50 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
	}
}

// Connection is the per-fixture state machine.
//
// SetColorRGB may be called from any goroutine. The device handle belongs to
// Run; Disconnect must only be called once Run has returned.
type Connection struct {
	identity  Identity
	transport Transport
	reporter  Reporter
	log       *logger.Log
	opts      Options

	mu    sync.Mutex
	color color.RGB
	dirty dirtyState

	state  atomic.Int32
	device Device
}

// NewConnection конструктор. reporter may be nil.
func NewConnection(log *logger.Log, id Identity, t Transport, reporter Reporter, opts Options) *Connection {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Connection{
		identity:  id,
		transport: t,
		reporter:  reporter,
		log:       log.With(logger.Fields{"module": "light", "light": id.ID}),
		opts:      opts,
		dirty:     newDirtyState(opts.Now()),
	}
}

func (c *Connection) Identity() Identity {
	return c.identity
}

// SetColorRGB updates the desired color. It reports whether the value changed;
// an identical color leaves the dirty flag alone.
func (c *Connection) SetColorRGB(r, g, b uint8) bool {
	next := color.RGB{Red: r, Green: g, Blue: b}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color == next {
		return false
	}
	c.color = next
	c.dirty.mark()
	return true
}

// Color returns the desired color.
func (c *Connection) Color() color.RGB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// Dirty reports whether the next tick would write.
func (c *Connection) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty.isDirty(c.opts.Now())
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) IsConnected() bool {
	return c.State() == Connected
}

// Run is the supervisory loop. It returns when ctx is done, at the next
// poll boundary.
func (c *Connection) Run(ctx context.Context) error {
	c.log.Infof("looking for %s", c.identity.ID)

	for {
		wait := c.opts.WriteInterval
		if c.device == nil {
			c.tryConnect(ctx)
			if c.device == nil {
				wait = c.opts.ScanInterval
			}
		} else {
			c.tick(ctx)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// tryConnect runs one discovery poll and, on a hit, connect plus
// characteristic discovery.
func (c *Connection) tryConnect(ctx context.Context) {
	if ctx.Err() != nil || !c.transport.Discovered(c.identity.ID) {
		return
	}

	c.setState(Connecting)

	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	dev, err := c.transport.Connect(cctx, c.identity.ID)
	if err != nil {
		c.failed(ctx, "connect", err)
		return
	}
	if err := dev.DiscoverCharacteristic(cctx); err != nil {
		if derr := dev.Disconnect(); derr != nil {
			c.log.Debugf("disconnect after failed discovery: %v", derr)
		}
		c.failed(ctx, "discover", err)
		return
	}

	c.device = dev

	// Whatever the lamp shows after a reconnect is unknown.
	c.mu.Lock()
	c.dirty.mark()
	c.mu.Unlock()

	c.setState(Connected)
}

func (c *Connection) failed(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		c.log.Debugf("%s interrupted by shutdown: %v", op, err)
	} else {
		c.log.Warnf("%s failed: %v", op, err)
	}
	c.setState(Disconnected)
}

// tick writes the desired color if it is dirty.
func (c *Connection) tick(ctx context.Context) {
	if !c.device.IsConnected() {
		c.drop(ctx, ErrNotConnected)
		return
	}

	want, ok := c.pending()
	if !ok {
		return
	}

	h, s, v := want.HSV()
	cmd := EncodeCommand(h, s, v)
	if err := c.device.Write(cmd[:]); err != nil {
		c.drop(ctx, err)
		return
	}

	c.written(want)
	c.reporter.LightWrite(c.identity.ID)
}

func (c *Connection) pending() (color.RGB, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty.isDirty(c.opts.Now()) {
		return color.RGB{}, false
	}
	return c.color, true
}

// written records a successful write of sent. A color set while the write
// was in flight stays dirty.
func (c *Connection) written(sent color.RGB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.opts.Now()
	if c.color == sent {
		c.dirty.clean(now)
		return
	}
	c.dirty.lastWrite = now
}

// drop releases the handle after a failed write or a lost link.
func (c *Connection) drop(ctx context.Context, err error) {
	if ctx.Err() != nil {
		c.log.Debugf("write interrupted by shutdown: %v", err)
	} else {
		c.log.Warnf("link lost: %v", err)
	}
	if derr := c.device.Disconnect(); derr != nil {
		c.log.Debugf("disconnect: %v", derr)
	}
	c.device = nil
	c.setState(Disconnected)
}

// Disconnect closes the device if one is open. Best effort.
func (c *Connection) Disconnect() error {
	if c.device == nil {
		return nil
	}
	c.log.Info("disconnecting")
	err := c.device.Disconnect()
	c.device = nil
	c.setState(Disconnected)
	return err
}

func (c *Connection) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.log.With(logger.Fields{"from": old.String()}).Infof("state %s", s)
	c.reporter.LightState(c.identity.ID, s)
}
