package redact

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/redactly/redactly/internal/geometry"
)

// gradientImage builds a deterministic test image where every pixel value is
// derived from its coordinates, so unintended changes are detectable.
func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x % 256),
				G: uint8(y % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func inAnyRegion(x, y int, regions []geometry.BoundingBox) bool {
	for _, b := range regions {
		r := b.Rect()
		if x >= r.Min.X && x < r.Max.X && y >= r.Min.Y && y < r.Max.Y {
			return true
		}
	}
	return false
}

func TestRedactSolidFill(t *testing.T) {
	// End-to-end scenario: one detected region on an 800x600 document,
	// fully opaque black fill.
	src := solidImage(800, 600, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	regions := []geometry.BoundingBox{{X1: 100, Y1: 100, X2: 300, Y2: 120}}

	opts := Defaults()
	opts.Opacity = 1

	out, err := Redact(src, regions, opts)
	if err != nil {
		t.Fatalf("Redact failed: %v", err)
	}

	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			got := out.NRGBAAt(x, y)
			if inAnyRegion(x, y, regions) {
				if got.R != 0 || got.G != 0 || got.B != 0 {
					t.Fatalf("pixel (%d,%d) inside region not black: %+v", x, y, got)
				}
			} else if got != src.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) outside region changed: %+v", x, y, got)
			}
		}
	}
}

func TestRedactSolidFillOpacity(t *testing.T) {
	src := solidImage(100, 100, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	regions := []geometry.BoundingBox{{X1: 10, Y1: 10, X2: 50, Y2: 50}}

	opts := Defaults()
	opts.Opacity = 0.5

	out, err := Redact(src, regions, opts)
	if err != nil {
		t.Fatalf("Redact failed: %v", err)
	}

	// Alpha blend of black at 50% over gray 200 leaves roughly half the
	// original value.
	got := out.NRGBAAt(20, 20)
	if got.R < 96 || got.R > 104 {
		t.Errorf("blended pixel = %+v, want R near 100", got)
	}
}

func TestRedactOverlappingRegionsNoDoubleBlend(t *testing.T) {
	// Region operations are computed against the original image, so two
	// overlapping translucent fills must not compound in the overlap.
	src := solidImage(100, 100, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	regions := []geometry.BoundingBox{
		{X1: 10, Y1: 10, X2: 60, Y2: 60},
		{X1: 40, Y1: 40, X2: 90, Y2: 90},
	}

	opts := Defaults()
	opts.Opacity = 0.5

	out, err := Redact(src, regions, opts)
	if err != nil {
		t.Fatalf("Redact failed: %v", err)
	}

	overlap := out.NRGBAAt(50, 50)
	single := out.NRGBAAt(80, 80)
	if overlap != single {
		t.Errorf("overlap pixel %+v differs from single-region pixel %+v", overlap, single)
	}
}

func TestRedactColorFill(t *testing.T) {
	// Two overlapping regions filled red: the overlap shows no seam and
	// pixels strictly outside the union are unchanged.
	src := gradientImage(800, 600)
	regions := []geometry.BoundingBox{
		{X1: 100, Y1: 100, X2: 300, Y2: 200},
		{X1: 250, Y1: 150, X2: 400, Y2: 250},
	}

	opts := Options{Style: StyleColorFill, FillColor: "#FF0000"}

	out, err := Redact(src, regions, opts)
	if err != nil {
		t.Fatalf("Redact failed: %v", err)
	}

	red := color.NRGBA{R: 255, A: 255}
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			got := out.NRGBAAt(x, y)
			if inAnyRegion(x, y, regions) {
				if got != red {
					t.Fatalf("pixel (%d,%d) inside union not red: %+v", x, y, got)
				}
			} else if got != src.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) outside union changed: %+v", x, y, got)
			}
		}
	}
}

func TestRedactPixelate(t *testing.T) {
	src := gradientImage(400, 300)
	region := geometry.BoundingBox{X1: 40, Y1: 40, X2: 240, Y2: 140}

	opts := Options{Style: StylePixelate, PixelateAmount: 10}

	out, err := Redact(src, []geometry.BoundingBox{region}, opts)
	if err != nil {
		t.Fatalf("Redact failed: %v", err)
	}

	t.Run("OutsideRegionUntouched", func(t *testing.T) {
		for y := 0; y < 300; y++ {
			for x := 0; x < 400; x++ {
				if inAnyRegion(x, y, []geometry.BoundingBox{region}) {
					continue
				}
				if out.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
					t.Fatalf("pixel (%d,%d) outside region changed", x, y)
				}
			}
		}
	})

	t.Run("BlockInvariant", func(t *testing.T) {
		// Every pixel that maps to the same downsampled cell must have the
		// same color. With a 200x100 region at 10% the grid is 20x10 cells,
		// each 10x10 pixels.
		rect := region.Rect()
		const block = 10
		for by := rect.Min.Y; by < rect.Max.Y; by += block {
			for bx := rect.Min.X; bx < rect.Max.X; bx += block {
				want := out.NRGBAAt(bx, by)
				for dy := 0; dy < block; dy++ {
					for dx := 0; dx < block; dx++ {
						if got := out.NRGBAAt(bx+dx, by+dy); got != want {
							t.Fatalf("block at (%d,%d) not uniform: %+v vs %+v", bx, by, got, want)
						}
					}
				}
			}
		}
	})

	t.Run("DetailDestroyed", func(t *testing.T) {
		rect := region.Rect()
		changed := 0
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				if out.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
					changed++
				}
			}
		}
		if changed == 0 {
			t.Error("pixelation left the region identical to the input")
		}
	})
}

func TestRedactSkipsZeroAreaRegions(t *testing.T) {
	src := gradientImage(100, 100)
	regions := []geometry.BoundingBox{
		{X1: 10, Y1: 10, X2: 10, Y2: 50},  // zero width
		{X1: 200, Y1: 200, X2: 300, Y2: 300}, // fully out of bounds
	}

	out, err := Redact(src, regions, Defaults())
	if err != nil {
		t.Fatalf("Redact failed: %v", err)
	}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if out.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
				t.Fatalf("zero-area region modified pixel (%d,%d)", x, y)
			}
		}
	}
}

func TestRedactRejectsUnknownStyle(t *testing.T) {
	src := gradientImage(10, 10)
	_, err := Redact(src, nil, Options{Style: "scribble"})
	if err == nil {
		t.Fatal("expected error for unknown style")
	}
}

func TestApply(t *testing.T) {
	t.Run("RoundTripsPNG", func(t *testing.T) {
		src := gradientImage(200, 100)
		data := pngBytes(t, src)

		out, err := Apply(data, "image/png", []geometry.BoundingBox{{X1: 10, Y1: 10, X2: 50, Y2: 30}}, Defaults())
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		decoded, format, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("output not decodable: %v", err)
		}
		if format != "png" {
			t.Errorf("output format = %q, want png", format)
		}
		if decoded.Bounds() != src.Bounds() {
			t.Errorf("output bounds = %v, want %v", decoded.Bounds(), src.Bounds())
		}
	})

	t.Run("DecodeError", func(t *testing.T) {
		_, err := Apply([]byte("not an image"), "image/png", nil, Defaults())
		if !errors.Is(err, ErrDecode) {
			t.Errorf("err = %v, want ErrDecode", err)
		}
	})
}

func TestParseHexColor(t *testing.T) {
	cases := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{in: "#FF0000", want: color.NRGBA{R: 255, A: 255}},
		{in: "#3f51b5", want: color.NRGBA{R: 0x3F, G: 0x51, B: 0xB5, A: 255}},
		{in: "#fff", want: color.NRGBA{R: 255, G: 255, B: 255, A: 255}},
		{in: "000000", want: color.NRGBA{A: 255}},
		{in: "#12345", wantErr: true},
		{in: "#zzzzzz", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseHexColor(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseHexColor(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHexColor(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseHexColor(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestPixelateScale(t *testing.T) {
	cases := []struct {
		amount float64
		want   float64
	}{
		{amount: 10, want: 0.10},
		{amount: 0, want: 0.02},
		{amount: 2, want: 0.02},
		{amount: 100, want: 0.50},
		{amount: 500, want: 0.50},
	}
	for _, tc := range cases {
		opts := Options{PixelateAmount: tc.amount}
		if got := opts.pixelateScale(); got != tc.want {
			t.Errorf("pixelateScale(%v) = %v, want %v", tc.amount, got, tc.want)
		}
	}
}
