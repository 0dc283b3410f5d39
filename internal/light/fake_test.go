package light

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errRadio = errors.New("radio failure")

type fakeDevice struct {
	mu           sync.Mutex
	discoverErr  error
	writeErr     error
	connected    bool
	writes       [][]byte
	disconnects  int
	writeStarted chan struct{}
	writeRelease chan struct{}
}

func (d *fakeDevice) DiscoverCharacteristic(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discoverErr
}

func (d *fakeDevice) Write(payload []byte) error {
	if d.writeStarted != nil {
		d.writeStarted <- struct{}{}
		<-d.writeRelease
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.writes = append(d.writes, append([]byte(nil), payload...))
	return nil
}

func (d *fakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	d.connected = false
	return nil
}

func (d *fakeDevice) setConnected(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = v
}

func (d *fakeDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func (d *fakeDevice) lastWrite() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.writes) == 0 {
		return nil
	}
	return d.writes[len(d.writes)-1]
}

func (d *fakeDevice) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// fakeTransport hands out devices from a queue; each Connect takes the next.
type fakeTransport struct {
	mu           sync.Mutex
	seen         map[string]bool
	failConnects int // Connects that fail before connectErr applies
	connectErr   error
	devices      []*fakeDevice
	issued       []*fakeDevice
	connects     int
}

func newFakeTransport(ids ...string) *fakeTransport {
	t := &fakeTransport{seen: map[string]bool{}}
	for _, id := range ids {
		t.seen[id] = true
	}
	return t
}

func (t *fakeTransport) Discovered(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[id]
}

func (t *fakeTransport) Connect(ctx context.Context, _ string) (Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.failConnects > 0 {
		t.failConnects--
		return nil, errRadio
	}
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	var d *fakeDevice
	if len(t.devices) > 0 {
		d, t.devices = t.devices[0], t.devices[1:]
	} else {
		d = &fakeDevice{}
	}
	d.connected = true
	t.issued = append(t.issued, d)
	return d, nil
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type recordingReporter struct {
	mu     sync.Mutex
	states []State
	writes int
}

func (r *recordingReporter) LightState(_ string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingReporter) LightWrite(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
}

func (r *recordingReporter) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
