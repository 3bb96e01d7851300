package dicomtest

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// burnText draws s centered on the frame, white glyphs over a black outline,
// the way scanners burn annotations into exported frames. The text is scaled
// to roughly a third of the frame width so OCR engines can resolve it even
// on small fixtures.
func burnText[T uint8 | uint16](raw []T, width, height, spp int, s string, peak T) {
	stencil := textStencil(width, s)

	bounds := stencil.Bounds()
	outline := bounds.Dy() / 10
	if outline < 3 {
		outline = 3
	}

	setSample := func(x, y int, v T) {
		if x < 0 || x >= width || y < 0 || y >= height {
			return
		}
		base := (y*width + x) * spp
		for c := 0; c < spp; c++ {
			raw[base+c] = v
		}
	}

	// Black outline first, a filled disk stamped around every glyph pixel.
	x0 := (width - bounds.Dx()) / 2
	y0 := (height - bounds.Dy()) / 2
	for sy := 0; sy < bounds.Dy(); sy++ {
		for sx := 0; sx < bounds.Dx(); sx++ {
			if stencil.GrayAt(sx, sy).Y == 0 {
				continue
			}
			for dy := -outline; dy <= outline; dy++ {
				for dx := -outline; dx <= outline; dx++ {
					if dx*dx+dy*dy <= outline*outline {
						setSample(x0+sx+dx, y0+sy+dy, 0)
					}
				}
			}
		}
	}

	// Glyphs on top, brightness taken from the scaled stencil.
	for sy := 0; sy < bounds.Dy(); sy++ {
		for sx := 0; sx < bounds.Dx(); sx++ {
			level := stencil.GrayAt(sx, sy).Y
			if level == 0 {
				continue
			}
			scaled := T(uint64(peak) * uint64(level) / 255)
			setSample(x0+sx, y0+sy, scaled)
		}
	}
}

// textStencil renders s at base size and scales it so the result spans about
// 30% of the frame width, never below 2x so the bitmap font stays legible.
func textStencil(frameWidth int, s string) *image.Gray {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, s).Ceil()
	baseHeight := 13

	baseImg := image.NewGray(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  baseImg,
		Src:  image.NewUniform(color.Gray{Y: 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(baseHeight)},
	}
	drawer.DrawString(s)

	scale := float64(frameWidth) * 0.3 / float64(baseWidth)
	if scale < 2.0 {
		scale = 2.0
	}
	scaledWidth := int(float64(baseWidth) * scale)
	scaledHeight := int(float64(baseHeight) * scale)

	scaled := image.NewGray(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), baseImg, baseImg.Bounds(), draw.Src, nil)
	return scaled
}
