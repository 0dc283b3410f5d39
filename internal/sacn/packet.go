// Package sacn receives E1.31 (sACN) data packets from UDP multicast.
package sacn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sacn2ble/internal/dmx"
)

// Port is the E1.31 UDP port.
const Port = 5568

const (
	minPacketLen = 38

	offPID        = 4
	offRootVector = 18
	offCID        = 22
	offFrameVec   = 40
	offSourceName = 44
	offPriority   = 108
	offSequence   = 111
	offOptions    = 112
	offUniverse   = 113
	offDMPVector  = 117
	offLength     = 123
	offData       = 125

	sourceNameLen = 64

	vectorRootE131Data   uint32 = 0x00000004
	vectorE131DataPacket uint32 = 0x00000002
	vectorDMPSetProperty byte   = 0x02
)

var packetIdentifier = [12]byte{'A', 'S', 'C', '-', 'E', '1', '.', '1', '7', 0, 0, 0}

// ErrTruncated is returned when a packet is shorter than its header or its
// declared property count.
var ErrTruncated = errors.New("sacn: packet truncated")

// ErrOversize is returned when a packet declares more than a start code and
// 512 slots.
var ErrOversize = errors.New("sacn: too many property values")

// IsDataPacket reports whether b is structurally an E1.31 data packet.
// It does not allocate.
func IsDataPacket(b []byte) bool {
	if len(b) < minPacketLen {
		return false
	}
	if !bytes.Equal(b[offPID:offPID+len(packetIdentifier)], packetIdentifier[:]) {
		return false
	}
	if binary.BigEndian.Uint32(b[offRootVector:]) != vectorRootE131Data {
		return false
	}
	if len(b) <= offDMPVector {
		return false
	}
	if binary.BigEndian.Uint32(b[offFrameVec:]) != vectorE131DataPacket {
		return false
	}
	return b[offDMPVector] == vectorDMPSetProperty
}

// Decode extracts a frame from a packet that passed IsDataPacket.
// Channel bytes are copied.
func Decode(b []byte) (dmx.Frame, error) {
	if len(b) < offData {
		return dmx.Frame{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(b), offData)
	}

	n := int(binary.BigEndian.Uint16(b[offLength:]))
	if n > len(b)-offData {
		return dmx.Frame{}, fmt.Errorf("%w: declared %d slots, %d available", ErrTruncated, n, len(b)-offData)
	}
	if n > dmx.MaxSlots {
		return dmx.Frame{}, fmt.Errorf("%w: declared %d slots, max %d", ErrOversize, n, dmx.MaxSlots)
	}

	cid, _ := uuid.FromBytes(b[offCID : offCID+16])

	channels := make([]byte, n)
	copy(channels, b[offData:offData+n])

	return dmx.Frame{
		SourceName: string(bytes.TrimRight(b[offSourceName:offSourceName+sourceNameLen], "\x00")),
		CID:        cid,
		Universe:   binary.BigEndian.Uint16(b[offUniverse:]),
		Priority:   b[offPriority],
		Sequence:   b[offSequence],
		Options:    b[offOptions],
		Channels:   channels,
	}, nil
}
