// Package color converts DMX RGB triplets into the hue/saturation/value form
// the fixtures accept.
package color

import "math"

// RGB is a desired fixture color.
type RGB struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

// HSV converts c. See RGBToHSV.
func (c RGB) HSV() (hue uint16, saturation, value uint8) {
	return RGBToHSV(c.Red, c.Green, c.Blue)
}

type channel int

const (
	red channel = iota
	green
	blue
)

// RGBToHSV returns hue in degrees [0,360) and saturation and value as
// rounded percentages. Achromatic input yields hue 0 and saturation 0.
func RGBToHSV(r, g, b uint8) (hue uint16, saturation, value uint8) {
	rf := float64(r) / 255
	gf := float64(g) / 255
	bf := float64(b) / 255

	// The hue branch follows the channel that won here, ties go to the
	// earlier channel.
	maxV, maxC := rf, red
	if gf > maxV {
		maxV, maxC = gf, green
	}
	if bf > maxV {
		maxV, maxC = bf, blue
	}
	minV := math.Min(rf, math.Min(gf, bf))
	delta := maxV - minV

	var h float64
	if delta > 0 {
		switch maxC {
		case red:
			h = 60 * math.Mod((gf-bf)/delta, 6)
		case green:
			h = 60 * ((bf-rf)/delta + 2)
		case blue:
			h = 60 * ((rf-gf)/delta + 4)
		}
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if maxV > 0 {
		s = delta / maxV
	}

	hr := uint16(math.Round(h))
	if hr >= 360 {
		hr -= 360
	}
	return hr, uint8(math.Round(s * 100)), uint8(math.Round(maxV * 100))
}
