package colorimetry

import (
	"fmt"
	"image/color"
	"math"
)

// RGB is a linear colour with components in [0, 1] before luminance scaling.
type RGB struct {
	R, G, B float64
}

var (
	Red   = RGB{R: 1}
	Blue  = RGB{B: 1}
	White = RGB{R: 1, G: 1, B: 1}
)

// Gamma applied by WavelengthToRGB
const Gamma = 0.8

// WavelengthToRGB approximates the colour of monochromatic light between 380 and 780 nm.
func WavelengthToRGB(nm float64) (RGB, error) {
	if nm < 380 || nm > 780 {
		return RGB{}, fmt.Errorf("wavelength %.1fnm outside visible range 380-780nm", nm)
	}

	var r, g, b float64
	switch {
	case nm < 440:
		r, g, b = -(nm-440)/(440-380), 0, 1
	case nm < 490:
		r, g, b = 0, (nm-440)/(490-440), 1
	case nm < 510:
		r, g, b = 0, 1, -(nm-510)/(510-490)
	case nm < 580:
		r, g, b = (nm-510)/(580-510), 1, 0
	case nm < 645:
		r, g, b = 1, -(nm-645)/(645-580), 0
	default:
		r, g, b = 1, 0, 0
	}

	// intensity falls off towards the edges of the visible range
	factor := 1.0
	switch {
	case nm < 420:
		factor = 0.3 + 0.7*(nm-380)/(420-380)
	case nm >= 645:
		factor = 0.3 + 0.7*(780-nm)/(780-645)
	}

	return RGB{
		R: math.Pow(r*factor, Gamma),
		G: math.Pow(g*factor, Gamma),
		B: math.Pow(b*factor, Gamma),
	}, nil
}

// Scale multiplies every channel by the luminance factor.
func Scale(c RGB, luminance float64) RGB {
	return RGB{R: c.R * luminance, G: c.G * luminance, B: c.B * luminance}
}

// NRGBA converts to an 8-bit display colour, clamping overdriven channels.
func (c RGB) NRGBA() color.NRGBA {
	return color.NRGBA{R: to8(c.R), G: to8(c.G), B: to8(c.B), A: 0xff}
}

func (c RGB) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", c.R, c.G, c.B)
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(math.Round(v * 0xff))
}
