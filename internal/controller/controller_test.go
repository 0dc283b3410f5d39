package controller

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sacn2ble/internal/color"
	"sacn2ble/internal/dmx"
	"sacn2ble/internal/light"
	"sacn2ble/internal/logger"
	"sacn2ble/internal/status"
)

type fakeFixture struct {
	id light.Identity

	mu          sync.Mutex
	color       color.RGB
	sets        int
	ran         bool
	disconnects int
}

func (f *fakeFixture) Identity() light.Identity { return f.id }

func (f *fakeFixture) SetColorRGB(r, g, b uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	next := color.RGB{Red: r, Green: g, Blue: b}
	changed := next != f.color
	f.color = next
	return changed
}

func (f *fakeFixture) Run(ctx context.Context) error {
	f.mu.Lock()
	f.ran = true
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeFixture) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeFixture) snapshot() (color.RGB, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.color, f.sets
}

type fakeSource struct {
	frames chan dmx.Frame

	mu     sync.Mutex
	closed bool
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Run(ctx context.Context, out chan<- dmx.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.frames:
			select {
			case out <- f:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func fixture(id string, universe, address uint16) *fakeFixture {
	return &fakeFixture{id: light.Identity{ID: id, Universe: universe, Address: address}}
}

func frame(universe uint16, slots ...byte) dmx.Frame {
	return dmx.Frame{Universe: universe, Channels: append([]byte{0}, slots...)}
}

func TestRoute(t *testing.T) {
	a := fixture("A", 1, 1)
	b := fixture("B", 1, 4)
	c := fixture("C", 2, 1)
	ctl := New(logger.Discard(), []Fixture{a, b, c}, status.NewBoard(logger.Discard()))

	assert.Equal(t, 2, ctl.Route(frame(1, 10, 20, 30, 40, 50, 60)))

	col, _ := a.snapshot()
	assert.Equal(t, color.RGB{Red: 10, Green: 20, Blue: 30}, col)
	col, _ = b.snapshot()
	assert.Equal(t, color.RGB{Red: 40, Green: 50, Blue: 60}, col)
	_, sets := c.snapshot()
	assert.Zero(t, sets)
}

func TestRouteUnknownUniverse(t *testing.T) {
	a := fixture("A", 1, 1)
	ctl := New(logger.Discard(), []Fixture{a}, status.NewBoard(logger.Discard()))

	assert.Zero(t, ctl.Route(frame(9, 1, 2, 3)))
	_, sets := a.snapshot()
	assert.Zero(t, sets)
}

func TestRouteShortFrameSkipsOnlyThatFixture(t *testing.T) {
	a := fixture("A", 1, 1)
	far := fixture("FAR", 1, 100)
	b := fixture("B", 1, 2)
	ctl := New(logger.Discard(), []Fixture{a, far, b}, status.NewBoard(logger.Discard()))

	assert.Equal(t, 2, ctl.Route(frame(1, 1, 2, 3, 4)))

	col, _ := a.snapshot()
	assert.Equal(t, color.RGB{Red: 1, Green: 2, Blue: 3}, col)
	_, sets := far.snapshot()
	assert.Zero(t, sets)
	col, _ = b.snapshot()
	assert.Equal(t, color.RGB{Red: 2, Green: 3, Blue: 4}, col)
}

func TestRouteLastAddress(t *testing.T) {
	last := fixture("LAST", 1, 510)
	ctl := New(logger.Discard(), []Fixture{last}, status.NewBoard(logger.Discard()))

	slots := make([]byte, 512)
	slots[509], slots[510], slots[511] = 7, 8, 9
	assert.Equal(t, 1, ctl.Route(frame(1, slots...)))
	col, _ := last.snapshot()
	assert.Equal(t, color.RGB{Red: 7, Green: 8, Blue: 9}, col)
}

func TestUniverses(t *testing.T) {
	lights := []Fixture{fixture("A", 3, 1), fixture("B", 1, 1), fixture("C", 3, 4)}
	assert.Equal(t, []uint16{3, 1}, Universes(lights))
}

type memorySink struct {
	mu     sync.Mutex
	events []status.Event
}

func (m *memorySink) Event(ev status.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memorySink) Snapshot(status.Snapshot) {}

func (m *memorySink) has(kind status.Kind, s string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.Kind == kind && ev.Status == s {
			return true
		}
	}
	return false
}

func TestRunAndShutdown(t *testing.T) {
	a := fixture("A", 1, 1)
	b := fixture("B", 2, 1)
	src := &fakeSource{frames: make(chan dmx.Frame)}
	board := status.NewBoard(logger.Discard())
	sink := &memorySink{}
	board.Subscribe(sink)

	ctl := New(logger.Discard(), []Fixture{a, b}, board, src)
	ctl.idle = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctl.Run(ctx) }()

	src.frames <- frame(2, 9, 8, 7)
	require.Eventually(t, func() bool {
		col, _ := b.snapshot()
		return col == color.RGB{Red: 9, Green: 8, Blue: 7}
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return sink.has(status.KindInput, status.InputTimeout) }, time.Second, time.Millisecond)
	assert.True(t, sink.has(status.KindInput, status.InputReceiving))

	cancel()
	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish shutdown")
	}

	for _, f := range []*fakeFixture{a, b} {
		f.mu.Lock()
		assert.True(t, f.ran)
		assert.Equal(t, 1, f.disconnects)
		f.mu.Unlock()
	}
	src.mu.Lock()
	assert.True(t, src.closed)
	src.mu.Unlock()
	assert.True(t, sink.has(status.KindApp, "stopped"))
	assert.Equal(t, uint64(1), board.Snapshot().Packets.Total)
}

// Fixtures that never find their device must not hold up routing.
func TestRouteWithRealConnections(t *testing.T) {
	tr := &stallTransport{}
	opts := light.Options{ScanInterval: time.Millisecond, WriteInterval: time.Millisecond, ConnectTimeout: time.Second}
	a := light.NewConnection(logger.Discard(), light.Identity{ID: "A", Universe: 1, Address: 1}, tr, nil, opts)
	b := light.NewConnection(logger.Discard(), light.Identity{ID: "B", Universe: 1, Address: 4}, tr, nil, opts)

	ctl := New(logger.Discard(), []Fixture{a, b}, status.NewBoard(logger.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctl.Run(ctx)
		close(done)
	}()

	ctl.Route(frame(1, 1, 2, 3, 4, 5, 6))
	assert.Equal(t, color.RGB{Red: 1, Green: 2, Blue: 3}, a.Color())
	assert.Equal(t, color.RGB{Red: 4, Green: 5, Blue: 6}, b.Color())
	assert.True(t, a.Dirty())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked")
	}
}

// stallTransport never sees any device.
type stallTransport struct{}

func (stallTransport) Discovered(string) bool { return false }

func (stallTransport) Connect(ctx context.Context, _ string) (light.Device, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenTransport sees every lamp but refuses connections to broken.
type brokenTransport struct {
	broken string

	mu       sync.Mutex
	attempts map[string]int
	writes   map[string][][]byte
}

func newBrokenTransport(broken string) *brokenTransport {
	return &brokenTransport{broken: broken, attempts: map[string]int{}, writes: map[string][][]byte{}}
}

func (t *brokenTransport) Discovered(string) bool { return true }

func (t *brokenTransport) Connect(_ context.Context, id string) (light.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[id]++
	if id == t.broken {
		return nil, errors.New("connection refused")
	}
	return &recordingDevice{t: t, id: id}, nil
}

func (t *brokenTransport) attemptCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[id]
}

func (t *brokenTransport) lastWrite(id string) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.writes[id]
	if len(w) == 0 {
		return nil
	}
	return w[len(w)-1]
}

type recordingDevice struct {
	t  *brokenTransport
	id string
}

func (d *recordingDevice) DiscoverCharacteristic(context.Context) error { return nil }

func (d *recordingDevice) Write(payload []byte) error {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	d.t.writes[d.id] = append(d.t.writes[d.id], append([]byte(nil), payload...))
	return nil
}

func (d *recordingDevice) IsConnected() bool { return true }

func (d *recordingDevice) Disconnect() error { return nil }

func command(c color.RGB) []byte {
	h, s, v := c.HSV()
	cmd := light.EncodeCommand(h, s, v)
	return cmd[:]
}

func TestFailingLightDoesNotAffectOthers(t *testing.T) {
	tr := newBrokenTransport("A")
	opts := light.Options{ScanInterval: time.Millisecond, WriteInterval: time.Millisecond, ConnectTimeout: time.Second}
	a := light.NewConnection(logger.Discard(), light.Identity{ID: "A", Universe: 1, Address: 1}, tr, nil, opts)
	b := light.NewConnection(logger.Discard(), light.Identity{ID: "B", Universe: 1, Address: 4}, tr, nil, opts)

	ctl := New(logger.Discard(), []Fixture{a, b}, status.NewBoard(logger.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctl.Run(ctx) }()

	ctl.Route(frame(1, 1, 2, 3, 200, 100, 50))
	require.Eventually(t, func() bool {
		return tr.attemptCount("A") >= 3 && bytes.Equal(tr.lastWrite("B"), command(color.RGB{Red: 200, Green: 100, Blue: 50}))
	}, 2*time.Second, time.Millisecond)

	ctl.Route(frame(1, 1, 2, 3, 0, 0, 255))
	require.Eventually(t, func() bool {
		return bytes.Equal(tr.lastWrite("B"), command(color.RGB{Blue: 255}))
	}, 2*time.Second, time.Millisecond)

	assert.NotEqual(t, light.Connected, a.State())
	assert.Equal(t, light.Connected, b.State())
	assert.Equal(t, 1, tr.attemptCount("B"))
	assert.Nil(t, tr.lastWrite("A"))
	assert.Equal(t, color.RGB{Red: 1, Green: 2, Blue: 3}, a.Color())

	cancel()
	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked")
	}
}
