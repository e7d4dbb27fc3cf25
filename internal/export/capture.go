package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Capturer produces the screenshot embedded in a snapshot. Implementations
// return encoded PNG bytes.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FrameCapturer renders a poster frame for the session: the diagnostic lines
// supplied by the lines func drawn on a dark canvas. It stands in where no
// real video surface exists to grab pixels from.
type FrameCapturer struct {
	width  int
	height int
	lines  func() []string
}

// NewFrameCapturer creates a 640x360 poster capturer. The lines func is
// called at capture time and may return nil.
func NewFrameCapturer(lines func() []string) *FrameCapturer {
	return &FrameCapturer{
		width:  640,
		height: 360,
		lines:  lines,
	}
}

// Capture renders the poster and encodes it as PNG.
func (c *FrameCapturer) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 16, G: 16, B: 24, A: 255}), image.Point{}, draw.Src)

	var lines []string
	if c.lines != nil {
		lines = c.lines()
	}

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 220, G: 220, B: 220, A: 255}),
		Face: face,
	}

	y := 24
	for _, line := range lines {
		if y > c.height-8 {
			break
		}
		drawer.Dot = fixed.P(12, y)
		drawer.DrawString(truncate(line, (c.width-24)/7))
		y += face.Height + 4
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding poster frame: %w", err)
	}
	return buf.Bytes(), nil
}

// truncate clips a line to at most n characters.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
