package ble

import (
	"context"
	"fmt"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"sacn2ble/internal/light"
	"sacn2ble/internal/logger"
)

// Device is an open link to one fixture.
type Device struct {
	adapter   *Adapter
	id        string
	dev       bluetooth.Device
	char      bluetooth.DeviceCharacteristic
	hasChar   bool
	connected atomic.Bool
}

// DiscoverCharacteristic walks every service looking for the color-write
// characteristic.
func (d *Device) DiscoverCharacteristic(ctx context.Context) error {
	char, err := await(ctx, d.find, nil)
	if err != nil {
		return err
	}
	d.char = char
	d.hasChar = true
	return nil
}

func (d *Device) find() (bluetooth.DeviceCharacteristic, error) {
	services, err := d.dev.DiscoverServices(nil)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range chars {
			if c.UUID() == d.adapter.char {
				return c, nil
			}
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", light.ErrCharacteristicNotFound, d.adapter.char)
}

// Write sends payload without response.
func (d *Device) Write(payload []byte) error {
	if !d.hasChar {
		return light.ErrCharacteristicNotFound
	}
	if !d.connected.Load() {
		return light.ErrNotConnected
	}
	if _, err := d.char.WriteWithoutResponse(payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// IsConnected is false once the peer dropped the link. A drop is sticky.
func (d *Device) IsConnected() bool {
	if !d.connected.Load() {
		return false
	}
	if d.adapter.link == nil {
		return true
	}
	up, err := d.adapter.link(d.id)
	if err != nil {
		d.adapter.log.With(logger.Fields{"id": d.id}).Debugf("link state: %v", err)
	}
	if err != nil || !up {
		d.connected.Store(false)
		return false
	}
	return true
}

func (d *Device) Disconnect() error {
	d.connected.Store(false)
	d.adapter.release(d)
	return d.dev.Disconnect()
}
