// Package controller routes DMX frames to fixtures and supervises the input
// and fixture loops.
package controller

import (
	"context"
	"sync"
	"time"

	"sacn2ble/internal/dmx"
	"sacn2ble/internal/light"
	"sacn2ble/internal/logger"
	"sacn2ble/internal/status"
)

// IdleTimeout is how long without frames before the input is reported idle.
const IdleTimeout = time.Second

// Source produces frames. Run returns once ctx is done; Close releases the
// socket and any multicast memberships.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- dmx.Frame) error
	Close() error
}

// Fixture is the part of light.Connection the controller drives.
type Fixture interface {
	Identity() light.Identity
	SetColorRGB(r, g, b uint8) bool
	Run(ctx context.Context) error
	Disconnect() error
}

// Monitor receives liveness and traffic signals. *status.Board implements it.
type Monitor interface {
	SetApp(status string)
	SetInput(status string)
	PacketReceived()
	Roll()
}

// Controller is safe to Route from any goroutine; Run must be called once.
type Controller struct {
	log     *logger.Log
	sources []Source
	lights  []Fixture
	monitor Monitor
	idle    time.Duration
	done    chan struct{}
}

// New конструктор.
func New(log *logger.Log, lights []Fixture, monitor Monitor, sources ...Source) *Controller {
	return &Controller{
		log:     log.Module("controller"),
		sources: sources,
		lights:  lights,
		monitor: monitor,
		idle:    IdleTimeout,
		done:    make(chan struct{}),
	}
}

// Universes returns the distinct universes lights listen on, in order of
// first appearance.
func Universes(lights []Fixture) []uint16 {
	seen := map[uint16]bool{}
	var out []uint16
	for _, l := range lights {
		u := l.Identity().Universe
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// Route sets the color of every fixture on the frame's universe. Fixtures
// whose window runs past the frame are skipped. It returns the number of
// fixtures whose color changed.
func (c *Controller) Route(f dmx.Frame) int {
	changed := 0
	for _, l := range c.lights {
		id := l.Identity()
		if id.Universe != f.Universe {
			continue
		}
		r, g, b, ok := f.RGB(id.Address)
		if !ok {
			c.log.With(logger.Fields{"light": id.ID}).Debugf("frame has %d slots, address %d needs %d", len(f.Channels), id.Address, int(id.Address)+3)
			continue
		}
		if l.SetColorRGB(r, g, b) {
			changed++
		}
	}
	return changed
}

// Done is closed once Run has disconnected every fixture and closed every
// source.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run blocks until ctx is done, then shuts everything down.
func (c *Controller) Run(ctx context.Context) error {
	frames := make(chan dmx.Frame, 16)

	var sources sync.WaitGroup
	for _, src := range c.sources {
		sources.Add(1)
		go func(src Source) {
			defer sources.Done()
			if err := src.Run(ctx, frames); err != nil {
				c.log.With(logger.Fields{"source": src.Name()}).Errorf("input stopped: %v", err)
			}
		}(src)
	}

	var lights sync.WaitGroup
	for _, l := range c.lights {
		lights.Add(1)
		go func(l Fixture) {
			defer lights.Done()
			if err := l.Run(ctx); err != nil {
				c.log.With(logger.Fields{"light": l.Identity().ID}).Errorf("light loop stopped: %v", err)
			}
		}(l)
	}

	c.monitor.SetApp("running")
	c.log.Infof("running with %d lights and %d inputs", len(c.lights), len(c.sources))

	c.loop(ctx, frames)

	c.monitor.SetApp("stopping")
	lights.Wait()
	for _, l := range c.lights {
		if err := l.Disconnect(); err != nil {
			c.log.With(logger.Fields{"light": l.Identity().ID}).Debugf("disconnect: %v", err)
		}
	}
	for _, src := range c.sources {
		if err := src.Close(); err != nil {
			c.log.With(logger.Fields{"source": src.Name()}).Debugf("close: %v", err)
		}
	}
	sources.Wait()

	c.monitor.SetInput(status.InputStopped)
	c.monitor.SetApp("stopped")
	close(c.done)
	return nil
}

func (c *Controller) loop(ctx context.Context, frames <-chan dmx.Frame) {
	idle := time.NewTimer(c.idle)
	defer idle.Stop()
	roll := time.NewTicker(time.Second)
	defer roll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			c.monitor.PacketReceived()
			c.monitor.SetInput(status.InputReceiving)
			c.Route(f)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idle)
		case <-idle.C:
			c.monitor.SetInput(status.InputTimeout)
			idle.Reset(c.idle)
		case <-roll.C:
			c.monitor.Roll()
		}
	}
}
