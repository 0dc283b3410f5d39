package light

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by writes on a dropped link.
	ErrNotConnected = errors.New("device not connected")
	// ErrCharacteristicNotFound means the device lacks the color-write characteristic.
	ErrCharacteristicNotFound = errors.New("color characteristic not found")
)

// Transport finds and opens devices. Implementations must be safe for use
// by many fixture loops at once.
type Transport interface {
	// Discovered reports whether id was seen in scan results.
	Discovered(id string) bool
	// Connect opens a link to id. The returned device has not discovered
	// its characteristics yet.
	Connect(ctx context.Context, id string) (Device, error)
}

// Device is an open link owned by exactly one Connection.
type Device interface {
	// DiscoverCharacteristic resolves the color-write characteristic.
	DiscoverCharacteristic(ctx context.Context) error
	// Write sends payload without response.
	Write(payload []byte) error
	IsConnected() bool
	Disconnect() error
}

// Reporter receives status changes and write notifications.
type Reporter interface {
	LightState(id string, state State)
	LightWrite(id string)
}

type nopReporter struct{}

func (nopReporter) LightState(string, State) {}
func (nopReporter) LightWrite(string) {}
