//go:build linux

package ble

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// bluezAdapter is the object path of the adapter bluetooth.DefaultAdapter
// drives on Linux.
const bluezAdapter = "/org/bluez/hci0"

// platformLink asks BlueZ for org.bluez.Device1.Connected. The Linux backend
// never fires the connect handler, so this is the only way a peer-side drop
// is seen before a write fails.
func platformLink() (linkQuery, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	return func(id string) (bool, error) {
		return deviceConnected(conn.Object("org.bluez", devicePath(id)))
	}, nil
}

func devicePath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(bluezAdapter + "/dev_" + strings.ReplaceAll(NormalizeID(id), ":", "_"))
}

func deviceConnected(obj dbus.BusObject) (bool, error) {
	v, err := obj.GetProperty("org.bluez.Device1.Connected")
	if err != nil {
		return false, err
	}
	up, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s: Connected has type %s", obj.Path(), v.Signature())
	}
	return up, nil
}
