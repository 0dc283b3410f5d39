package light

// Fixed vendor prefix of the color-write command.
var commandPrefix = [3]byte{0x78, 0x86, 0x04}

// CommandLen is the size of a color-write payload.
const CommandLen = 8

// Checksum is the wraparound byte sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// EncodeCommand builds the color-write payload:
// prefix, hue (little endian), saturation, brightness, checksum.
func EncodeCommand(hue uint16, saturation, brightness uint8) [CommandLen]byte {
	cmd := [CommandLen]byte{
		commandPrefix[0],
		commandPrefix[1],
		commandPrefix[2],
		byte(hue),
		byte(hue >> 8),
		saturation,
		brightness,
	}
	cmd[7] = Checksum(cmd[:7])
	return cmd
}
