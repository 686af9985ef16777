// Package redact implements the redaction compositing engine: given a raster
// image and a set of axis-aligned regions, it produces a new image in which
// every region has been obscured according to the active style. Pixels
// outside all regions are byte-identical to the input.
package redact

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"

	"github.com/redactly/redactly/internal/geometry"
)

var (
	// ErrDecode indicates the input bytes could not be read as an image, or
	// the image has zero width or height.
	ErrDecode = errors.New("image decode failed")
	// ErrEncode indicates the redacted image could not be serialized back to
	// the original format.
	ErrEncode = errors.New("image encode failed")
)

// Apply decodes the image, redacts the given regions and re-encodes the
// result in the input's format. The returned bytes are a new, independently
// owned buffer; the input is never mutated.
func Apply(data []byte, mimeType string, regions []geometry.BoundingBox, opts Options) ([]byte, error) {
	src, formatName, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	out, err := Redact(src, regions, opts)
	if err != nil {
		return nil, err
	}

	format, err := encodeFormat(mimeType, formatName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Redact composites the configured style over every region and returns a new
// image. Each region is rendered independently against the original pixels
// and then layered onto a single output buffer in the order given, so later
// regions paint over earlier ones where they overlap. Regions with zero area
// after normalization are skipped.
func Redact(src image.Image, regions []geometry.BoundingBox, opts Options) (*image.NRGBA, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Clone moves the image to a zero origin, which keeps region rectangles
	// and pixel offsets in the same coordinate space.
	orig := imaging.Clone(src)
	bounds := orig.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has zero width or height", ErrDecode)
	}

	out := imaging.Clone(orig)
	for _, box := range regions {
		rect := box.Normalize(float64(bounds.Dx()), float64(bounds.Dy())).Rect().Intersect(bounds)
		if rect.Empty() {
			continue
		}

		patch, err := renderRegion(orig, rect, opts)
		if err != nil {
			return nil, err
		}
		draw.Draw(out, rect, patch, patch.Bounds().Min, draw.Src)
	}
	return out, nil
}

// renderRegion produces the obscured replacement pixels for one region,
// computed from the original image only.
func renderRegion(orig *image.NRGBA, rect image.Rectangle, opts Options) (*image.NRGBA, error) {
	switch opts.Style {
	case StyleSolidFill:
		patch := imaging.Crop(orig, rect)
		alpha := uint8(math.Round(opts.opacity() * 255))
		fill := image.NewUniform(color.NRGBA{A: alpha})
		draw.Draw(patch, patch.Bounds(), fill, image.Point{}, draw.Over)
		return patch, nil

	case StyleColorFill:
		c, err := ParseHexColor(opts.FillColor)
		if err != nil {
			return nil, err
		}
		return imaging.New(rect.Dx(), rect.Dy(), c), nil

	case StylePixelate:
		scale := opts.pixelateScale()
		downW := maxInt(1, int(math.Round(float64(rect.Dx())*scale)))
		downH := maxInt(1, int(math.Round(float64(rect.Dy())*scale)))

		region := imaging.Crop(orig, rect)
		small := imaging.Resize(region, downW, downH, imaging.NearestNeighbor)
		return imaging.Resize(small, rect.Dx(), rect.Dy(), imaging.NearestNeighbor), nil
	}
	return nil, fmt.Errorf("unknown redaction style: %q", opts.Style)
}

// encodeFormat picks the output format, preferring the declared MIME type and
// falling back to the decoded format name.
func encodeFormat(mimeType, formatName string) (imaging.Format, error) {
	switch mimeType {
	case "image/png":
		return imaging.PNG, nil
	case "image/jpeg", "image/jpg":
		return imaging.JPEG, nil
	case "image/gif":
		return imaging.GIF, nil
	case "image/bmp":
		return imaging.BMP, nil
	case "image/tiff":
		return imaging.TIFF, nil
	}

	switch formatName {
	case "png":
		return imaging.PNG, nil
	case "jpeg":
		return imaging.JPEG, nil
	case "gif":
		return imaging.GIF, nil
	case "bmp":
		return imaging.BMP, nil
	case "tiff":
		return imaging.TIFF, nil
	}
	return imaging.PNG, fmt.Errorf("unsupported image format %q", formatName)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
