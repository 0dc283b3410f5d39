//go:build !linux

package ble

// platformLink returns nil: the connect handler reports drops on these
// backends.
func platformLink() (linkQuery, error) {
	return nil, nil
}
