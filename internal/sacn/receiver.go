package sacn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"sacn2ble/internal/dmx"
	"sacn2ble/internal/logger"
)

// maxPacketLen fits a full 512 channel data packet.
const maxPacketLen = 1024

// GroupAddr returns the multicast group carrying universe.
func GroupAddr(universe uint16) net.IP {
	return net.IPv4(239, 255, byte(universe>>8), byte(universe))
}

// Receiver reads data packets for a fixed set of universes.
type Receiver struct {
	log       *logger.Log
	raw       net.PacketConn
	conn      *ipv4.PacketConn
	iface     *net.Interface
	universes []uint16
	joined    []uint16
	onDrop    func(error)
	closeOnce sync.Once
}

// ListenConf configures Listen.
type ListenConf struct {
	Universes []uint16
	// Interface may be nil to let the kernel pick one.
	Interface *net.Interface
	// OnDrop is told about packets that looked valid but could not be decoded.
	OnDrop func(error)
}

// Listen binds the sACN port and joins a group per universe.
func Listen(log *logger.Log, cfg ListenConf) (*Receiver, error) {
	c, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind sACN port %d: %w", Port, err)
	}

	r := newReceiver(log, c, cfg)
	for _, u := range cfg.Universes {
		if u == 0 {
			// Art-Net only; sACN has no universe 0 group.
			continue
		}
		if err := r.conn.JoinGroup(cfg.Interface, &net.UDPAddr{IP: GroupAddr(u)}); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("failed to join universe %d (%s): %w", u, GroupAddr(u), err)
		}
		r.joined = append(r.joined, u)
		r.log.Debugf("joined universe %d at %s", u, GroupAddr(u))
	}
	return r, nil
}

func newReceiver(log *logger.Log, c net.PacketConn, cfg ListenConf) *Receiver {
	onDrop := cfg.OnDrop
	if onDrop == nil {
		onDrop = func(error) {}
	}
	return &Receiver{
		log:       log.Module("sacn"),
		raw:       c,
		conn:      ipv4.NewPacketConn(c),
		iface:     cfg.Interface,
		universes: cfg.Universes,
		onDrop:    onDrop,
	}
}

func (r *Receiver) Name() string {
	return "sacn"
}

// Run delivers decoded frames to out until ctx is done or the socket closes.
func (r *Receiver) Run(ctx context.Context, out chan<- dmx.Frame) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock the pending read.
			_ = r.raw.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	buf := make([]byte, maxPacketLen)
	for {
		n, _, err := r.raw.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Errorf("read error: %v", err)
			continue
		}

		packet := buf[:n]
		if !IsDataPacket(packet) {
			continue
		}
		frame, err := Decode(packet)
		if err != nil {
			r.log.Warnf("dropped packet: %v", err)
			r.onDrop(err)
			continue
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close leaves every joined group and closes the socket.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		for _, u := range r.joined {
			if lerr := r.conn.LeaveGroup(r.iface, &net.UDPAddr{IP: GroupAddr(u)}); lerr != nil {
				r.log.Debugf("leave universe %d: %v", u, lerr)
			}
		}
		r.joined = nil
		err = r.raw.Close()
	})
	return err
}
