// Package ble implements the fixture transport on top of the system
// Bluetooth adapter.
package ble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"sacn2ble/internal/light"
	"sacn2ble/internal/logger"
)

// Advertisement is the latest scan result for one address.
type Advertisement struct {
	ID       string
	Name     string
	RSSI     int16
	LastSeen time.Time

	address bluetooth.Address
}

// ForgetAfter is how long an advertisement counts as proof the peer is
// still around.
const ForgetAfter = 5 * time.Second

// linkQuery reports whether the platform still holds a link to id.
type linkQuery func(id string) (bool, error)

// Adapter scans continuously and opens links for fixture loops.
type Adapter struct {
	log     *logger.Log
	adapter *bluetooth.Adapter
	char    bluetooth.UUID
	link    linkQuery
	forget  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	seen  map[string]Advertisement
	links map[string]*Device
}

// NewAdapter enables the default adapter. characteristic is the color-write
// UUID, resolved once here.
func NewAdapter(log *logger.Log, characteristic string) (*Adapter, error) {
	char, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return nil, fmt.Errorf("bad characteristic %q: %w", characteristic, err)
	}

	ad := bluetooth.DefaultAdapter
	if err := ad.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	link, err := platformLink()
	if err != nil {
		return nil, fmt.Errorf("failed to watch link state: %w", err)
	}

	a := newAdapter(log, char)
	a.adapter = ad
	a.link = link
	ad.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		a.connectionChanged(device.Address.String(), connected)
	})
	return a, nil
}

func newAdapter(log *logger.Log, char bluetooth.UUID) *Adapter {
	return &Adapter{
		log:    log.Module("ble"),
		char:   char,
		forget: ForgetAfter,
		now:    time.Now,
		seen:   map[string]Advertisement{},
		links:  map[string]*Device{},
	}
}

// NormalizeID upper-cases a hardware address so scan results and
// configuration compare equal.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Scan records advertisements until ctx is done.
func (a *Adapter) Scan(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := a.adapter.StopScan(); err != nil {
			a.log.Debugf("stop scan: %v", err)
		}
	}()

	a.log.Info("scanning")
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		a.observe(r.Address, r.LocalName(), r.RSSI)
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

func (a *Adapter) observe(addr bluetooth.Address, name string, rssi int16) {
	id := NormalizeID(addr.String())

	a.mu.Lock()
	defer a.mu.Unlock()
	adv, known := a.seen[id]
	adv.ID = id
	adv.RSSI = rssi
	adv.LastSeen = a.now()
	adv.address = addr
	if name != "" {
		adv.Name = name
	}
	a.seen[id] = adv
	if !known {
		a.log.With(logger.Fields{"id": id, "name": adv.Name}).Debug("found device")
	}
}

// Discovered implements light.Transport. Only advertisements heard within
// ForgetAfter count.
func (a *Adapter) Discovered(id string) bool {
	_, ok := a.lookup(NormalizeID(id))
	return ok
}

func (a *Adapter) lookup(id string) (Advertisement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	adv, ok := a.seen[id]
	if !ok || a.now().Sub(adv.LastSeen) > a.forget {
		return Advertisement{}, false
	}
	return adv, true
}

// Seen lists every advertisement so far, sorted by id.
func (a *Adapter) Seen() []Advertisement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Advertisement, 0, len(a.seen))
	for _, adv := range a.seen {
		out = append(out, adv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connect implements light.Transport. A link that completes after ctx
// expired is closed in the background.
func (a *Adapter) Connect(ctx context.Context, id string) (light.Device, error) {
	id = NormalizeID(id)

	adv, ok := a.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s not discovered", id)
	}

	dev, err := await(ctx, func() (bluetooth.Device, error) {
		return a.adapter.Connect(adv.address, bluetooth.ConnectionParams{})
	}, func(late bluetooth.Device) {
		_ = late.Disconnect()
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}

	d := &Device{adapter: a, id: id, dev: dev}
	d.connected.Store(true)

	a.mu.Lock()
	a.links[id] = d
	a.mu.Unlock()
	return d, nil
}

func (a *Adapter) connectionChanged(addr string, connected bool) {
	id := NormalizeID(addr)

	a.mu.Lock()
	d := a.links[id]
	a.mu.Unlock()
	if d == nil {
		return
	}
	d.connected.Store(connected)
	if !connected {
		a.log.With(logger.Fields{"id": id}).Debug("link dropped by peer")
	}
}

func (a *Adapter) release(d *Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.links[d.id] == d {
		delete(a.links, d.id)
	}
}

// await runs fn and waits for it or ctx. When ctx wins, cleanup receives
// the result fn eventually produces without error.
func await[T any](ctx context.Context, fn func() (T, error), cleanup func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil && cleanup != nil {
				cleanup(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}
