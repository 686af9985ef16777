package redact

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Style selects how a redacted region is obscured. Exactly one style is
// active per redact operation and applies uniformly to every region.
type Style string

const (
	// StyleSolidFill alpha-blends black over the region at Options.Opacity.
	StyleSolidFill Style = "solidFill"
	// StyleColorFill overwrites the region with Options.FillColor.
	StyleColorFill Style = "colorFill"
	// StylePixelate replaces the region with a blocky downsampled version of
	// itself.
	StylePixelate Style = "pixelate"
)

// ParseStyle converts a wire value into a Style.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StyleSolidFill, StyleColorFill, StylePixelate:
		return Style(s), nil
	}
	return "", fmt.Errorf("unknown redaction style: %q", s)
}

// Options configures one redact operation.
type Options struct {
	Style          Style   `json:"style"`
	FillColor      string  `json:"fillColor"`      // hex color, used by colorFill
	Opacity        float64 `json:"opacity"`        // [0,1], used by solidFill
	PixelateAmount float64 `json:"pixelateAmount"` // [2,100] percent, used by pixelate
}

// Defaults returns the options applied to a fresh session.
func Defaults() Options {
	return Options{
		Style:          StyleSolidFill,
		FillColor:      "#3F51B5",
		Opacity:        1,
		PixelateAmount: 10,
	}
}

// Validate checks that the options describe a runnable operation.
func (o Options) Validate() error {
	if _, err := ParseStyle(string(o.Style)); err != nil {
		return err
	}
	if o.Style == StyleColorFill {
		if _, err := ParseHexColor(o.FillColor); err != nil {
			return err
		}
	}
	return nil
}

// opacity returns the solid-fill opacity clamped to [0,1].
func (o Options) opacity() float64 {
	if o.Opacity < 0 {
		return 0
	}
	if o.Opacity > 1 {
		return 1
	}
	return o.Opacity
}

// pixelateScale converts PixelateAmount into the downsample scale factor.
// The percentage is clamped to [2,100] before dividing and the resulting
// factor is bounded to [0.02,0.50] so blocks are never larger than the full
// region nor finer than a few pixels.
func (o Options) pixelateScale() float64 {
	amount := o.PixelateAmount
	if amount < 2 {
		amount = 2
	}
	if amount > 100 {
		amount = 100
	}

	scale := amount / 100
	if scale < 0.02 {
		scale = 0.02
	}
	if scale > 0.50 {
		scale = 0.50
	}
	return scale
}

// ParseHexColor parses a #RRGGBB or #RGB color value.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")

	switch len(hex) {
	case 6:
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
		}
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
	case 3:
		v, err := strconv.ParseUint(hex, 16, 16)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
		}
		r := uint8(v >> 8 & 0xF)
		g := uint8(v >> 4 & 0xF)
		b := uint8(v & 0xF)
		return color.NRGBA{R: r*16 + r, G: g*16 + g, B: b*16 + b, A: 255}, nil
	}
	return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
}
