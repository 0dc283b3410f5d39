// Package dmx holds the frame type shared by every DMX input.
package dmx

import "github.com/google/uuid"

// MaxSlots is the start code plus 512 channels.
const MaxSlots = 513

// Frame is one universe worth of DMX slot values.
//
// Channels[0] is the start code slot, so the 1-based DMX address N is
// Channels[N].
type Frame struct {
	SourceName string
	CID        uuid.UUID
	Universe   uint16
	Priority   uint8
	Sequence   uint8
	Options    uint8
	Channels   []byte
}

// RGB returns the three slots starting at the 1-based address.
// ok is false when the window runs past the end of the frame.
func (f Frame) RGB(address uint16) (r, g, b byte, ok bool) {
	start := int(address)
	if start < 1 || start+3 > len(f.Channels) {
		return 0, 0, 0, false
	}
	return f.Channels[start], f.Channels[start+1], f.Channels[start+2], true
}
