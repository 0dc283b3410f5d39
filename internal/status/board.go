// Package status collects connection states and traffic counters for
// dashboards and status publishers.
package status

import (
	"sort"
	"sync"
	"time"

	"sacn2ble/internal/light"
	"sacn2ble/internal/logger"
)

const (
	counterInterval = time.Second
	historySize     = 20
)

// Kind of a status event.
type Kind string

const (
	KindApp   Kind = "app"
	KindInput Kind = "input"
	KindLight Kind = "light"
)

// Input statuses.
const (
	InputReceiving = "receiving"
	InputTimeout   = "timeout"
	InputStopped   = "stopped"
)

// Event is a status change.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   Kind      `json:"kind"`
	Source string    `json:"source,omitempty"`
	Status string    `json:"status"`
}

// Sink receives events and periodic snapshots. Implementations must not block.
type Sink interface {
	Event(ev Event)
	Snapshot(s Snapshot)
}

// CounterSnapshot is a Counter at one point in time.
type CounterSnapshot struct {
	LastSecond uint64   `json:"last_second"`
	Total      uint64   `json:"total"`
	History    []uint64 `json:"history"`
}

// LightSnapshot is the state of one fixture.
type LightSnapshot struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Writes CounterSnapshot `json:"writes"`
}

// Snapshot is the whole board.
type Snapshot struct {
	Time    time.Time       `json:"time"`
	App     string          `json:"app"`
	Input   string          `json:"input"`
	Packets CounterSnapshot `json:"packets"`
	Dropped uint64          `json:"dropped"`
	Lights  []LightSnapshot `json:"lights"`
}

type lightEntry struct {
	status string
	writes *Counter
}

// Board is safe for concurrent use.
type Board struct {
	log *logger.Log
	now func() time.Time

	packets *Counter

	mu      sync.Mutex
	app     string
	input   string
	dropped uint64
	lights  map[string]*lightEntry
	sinks   []Sink
}

// NewBoard конструктор.
func NewBoard(log *logger.Log) *Board {
	return newBoard(log, time.Now)
}

func newBoard(log *logger.Log, now func() time.Time) *Board {
	return &Board{
		log:     log.Module("status"),
		now:     now,
		packets: newCounter(counterInterval, historySize, now),
		lights:  map[string]*lightEntry{},
	}
}

// Subscribe adds a sink. Call before the board is in use.
func (b *Board) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// AddLight registers a fixture so it shows up before its first event.
func (b *Board) AddLight(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry(id)
}

func (b *Board) entry(id string) *lightEntry {
	e, ok := b.lights[id]
	if !ok {
		e = &lightEntry{
			status: light.Disconnected.String(),
			writes: newCounter(counterInterval, historySize, b.now),
		}
		b.lights[id] = e
	}
	return e
}

func (b *Board) SetApp(status string) {
	b.mu.Lock()
	changed := b.app != status
	b.app = status
	b.mu.Unlock()
	if changed {
		b.emit(Event{Kind: KindApp, Status: status})
	}
}

// SetInput records input liveness. Repeats of the same status are not events.
func (b *Board) SetInput(status string) {
	b.mu.Lock()
	changed := b.input != status
	b.input = status
	b.mu.Unlock()
	if changed {
		b.emit(Event{Kind: KindInput, Status: status})
	}
}

func (b *Board) PacketReceived() {
	b.packets.Increment()
}

// PacketDropped counts a packet that could not be decoded.
func (b *Board) PacketDropped(source string, err error) {
	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
	b.log.With(logger.Fields{"source": source}).Debugf("dropped packet: %v", err)
}

// LightState implements light.Reporter.
func (b *Board) LightState(id string, s light.State) {
	b.mu.Lock()
	b.entry(id).status = s.String()
	b.mu.Unlock()
	b.emit(Event{Kind: KindLight, Source: id, Status: s.String()})
}

// LightWrite implements light.Reporter.
func (b *Board) LightWrite(id string) {
	b.mu.Lock()
	e := b.entry(id)
	b.mu.Unlock()
	e.writes.Increment()
}

// Roll advances every counter whose interval elapsed and publishes a
// snapshot when the packet counter rolled.
func (b *Board) Roll() {
	rolled := b.packets.Roll()

	b.mu.Lock()
	for _, e := range b.lights {
		e.writes.Roll()
	}
	b.mu.Unlock()

	if !rolled {
		return
	}
	s := b.Snapshot()
	for _, sink := range b.sinkList() {
		sink.Snapshot(s)
	}
}

// Snapshot returns the current board, lights sorted by id.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Time:    b.now(),
		App:     b.app,
		Input:   b.input,
		Packets: snapshotOf(b.packets),
		Dropped: b.dropped,
		Lights:  make([]LightSnapshot, 0, len(b.lights)),
	}
	for id, e := range b.lights {
		s.Lights = append(s.Lights, LightSnapshot{ID: id, Status: e.status, Writes: snapshotOf(e.writes)})
	}
	sort.Slice(s.Lights, func(i, j int) bool { return s.Lights[i].ID < s.Lights[j].ID })
	return s
}

func snapshotOf(c *Counter) CounterSnapshot {
	h := c.History()
	var last uint64
	if len(h) > 0 {
		last = h[len(h)-1]
	}
	return CounterSnapshot{LastSecond: last, Total: c.Total(), History: h}
}

func (b *Board) sinkList() []Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sink(nil), b.sinks...)
}

func (b *Board) emit(ev Event) {
	ev.Time = b.now()
	for _, sink := range b.sinkList() {
		sink.Event(ev)
	}
}

// LogSink writes events to the log.
type LogSink struct {
	Log *logger.Log
}

func (l LogSink) Event(ev Event) {
	log := l.Log.With(logger.Fields{"module": "status", "kind": string(ev.Kind)})
	if ev.Source != "" {
		log = log.With(logger.Fields{"source": ev.Source})
	}
	log.Info(ev.Status)
}

func (l LogSink) Snapshot(s Snapshot) {
	l.Log.With(logger.Fields{"module": "status"}).Debugf("packets/s=%d total=%d dropped=%d", s.Packets.LastSecond, s.Packets.Total, s.Dropped)
}
