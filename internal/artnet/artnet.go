// Package artnet is an optional DMX input that accepts ArtDMX packets
// alongside sACN.
package artnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"sacn2ble/internal/dmx"
	"sacn2ble/internal/logger"
)

// ArtNet is transport for the ArtNet protocol (DMX over UDP/IP).
type ArtNet struct {
	log       *logger.Log
	conn      net.PacketConn
	onDrop    func(error)
	closeOnce sync.Once
}

// NewListener binds addr, usually ":6454". onDrop may be nil.
func NewListener(log *logger.Log, addr string, onDrop func(error)) (*ArtNet, error) {
	c, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind art-net %s: %w", addr, err)
	}
	return newListener(log, c, onDrop), nil
}

func newListener(log *logger.Log, c net.PacketConn, onDrop func(error)) *ArtNet {
	if onDrop == nil {
		onDrop = func(error) {}
	}
	l := &ArtNet{log: log.Module("art-net"), conn: c, onDrop: onDrop}
	l.log.Infof("listening on %s", c.LocalAddr())
	return l
}

func (c *ArtNet) Name() string {
	return "artnet"
}

// Run delivers ArtDMX frames to out until ctx is done.
func (c *ArtNet) Run(ctx context.Context, out chan<- dmx.Frame) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	buf := make([]byte, 1024)
	for {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.log.Errorf("read error: %v", err)
			continue
		}

		if !bytes.HasPrefix(buf[:n], packetID) {
			continue
		}
		frame, err := Decode(buf[:n])
		if errors.Is(err, ErrNotDMX) {
			continue
		}
		if err != nil {
			c.log.Debugf("dropped packet from %v: %v", from, err)
			c.onDrop(err)
			continue
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close the ArtNet.
func (c *ArtNet) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
