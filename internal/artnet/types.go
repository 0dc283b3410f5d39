package artnet

import (
	"errors"
	"fmt"

	"github.com/Haba1234/go-artnet/packet"

	"sacn2ble/internal/dmx"
)

// Port is the Art-Net UDP port.
const Port = 6454

var packetID = []byte("Art-Net\x00")

// ErrNotDMX is returned for valid Art-Net packets that carry no DMX data.
var ErrNotDMX = errors.New("artnet: not an ArtDMX packet")

// Universe converts the Net/SubUni pair to a 15-bit port address:
// старший байт - Net, младший байт - SubUni.
func Universe(net, subUni uint8) uint16 {
	return uint16(net)<<8 | uint16(subUni)
}

// Decode parses an ArtDMX packet into a frame. A zero start code is
// prepended so the frame indexes like sACN.
func Decode(b []byte) (dmx.Frame, error) {
	p, err := packet.Unmarshal(b)
	if err != nil {
		return dmx.Frame{}, fmt.Errorf("artnet: %w", err)
	}
	d, ok := p.(*packet.ArtDMXPacket)
	if !ok {
		return dmx.Frame{}, ErrNotDMX
	}

	n := int(d.Length)
	if n > len(d.Data) {
		n = len(d.Data)
	}
	channels := make([]byte, n+1)
	copy(channels[1:], d.Data[:n])

	return dmx.Frame{
		SourceName: "artnet",
		Universe:   Universe(d.Net, d.SubUni),
		Sequence:   d.Sequence,
		Channels:   channels,
	}, nil
}
