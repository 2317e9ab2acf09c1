package display

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	previewScale        = 20 // Size of one LED in the rendered image.
	previewPixelBorder  = 10 // Border around right and bottom of an LED.
	previewGroupSpacing = 20 // Border between the hour, tens, and five groups.
	previewLabelHeight  = 16
)

var (
	ledOn  = color.NRGBA{R: 0xff, G: 0x20, B: 0x10, A: 0xff}
	ledOff = color.NRGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}
	bg     = color.NRGBA{A: 0xff}
	label  = color.NRGBA{R: 0xa0, G: 0xa0, B: 0xa0, A: 0xff}
)

// Latched is something that knows what the LEDs are showing.
type Latched interface {
	Current() byte
}

// Preview renders the LEDs as a PNG, so you can see what the clock says without walking over to
// it.
type Preview struct {
	Source Latched
}

// groupOffset returns the extra x offset for the LED at position i (0 is leftmost).
func groupOffset(i int) int {
	switch {
	case i < 4:
		return 0
	case i < 7:
		return previewGroupSpacing
	}
	return 2 * previewGroupSpacing
}

// Label returns a human-readable reading of b: the earliest time it could mean.
func Label(b byte) string {
	h, tens, five := Decode(b)
	units := 0
	if five {
		units = 5
	}
	return fmt.Sprintf("%d:%d%d", h, tens, units)
}

// Render draws b.
func Render(b byte) *image.NRGBA {
	cell := previewScale + previewPixelBorder
	img := image.NewNRGBA(image.Rect(0, 0, 8*cell+2*previewGroupSpacing, cell+previewLabelHeight))
	for x := 0; x < img.Bounds().Dx(); x++ {
		for y := 0; y < img.Bounds().Dy(); y++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	for i := 0; i < 8; i++ {
		// The leftmost LED is the most significant bit.
		c := ledOff
		if b&(1<<uint(7-i)) != 0 {
			c = ledOn
		}
		xOff := groupOffset(i) + i*cell
		for x := xOff; x < xOff+previewScale; x++ {
			for y := 0; y < previewScale; y++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	(&font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(label),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(0, cell+previewLabelHeight-3),
	}).DrawString(Label(b))
	return img
}

// ServeHTTP serves the current LEDs as a PNG.
func (p *Preview) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	img := Render(p.Source.Current())
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		log.Printf("encoding image: %v", err)
	}
}
