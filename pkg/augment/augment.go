// Package augment applies random photometric and geometric transforms to
// training frames. The geometric part is applied identically to a frame and
// to its object id map, so that the patch annotation follows the pixels.
package augment

import (
	"math"
	"math/rand/v2"

	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/lucasb-eyer/go-colorful"
)

// Probability that a rotation is applied, when Params.Rotation is not zero
const RotationProb = 0.8

// Probability that color jitter is applied, when Params.Color is not zero
const ColorProb = 0.5

type Params struct {
	VerticalFlip   float64 // Probability of flipping upside down
	HorizontalFlip float64 // Probability of mirroring left to right
	Rotation       float64 // Rotation limit in degrees. The angle is uniform in [-Rotation, Rotation]
	Color          float64 // Strength of brightness, contrast, saturation and hue jitter
}

// Transform is one draw of Params. The zero value is not the identity,
// because the jitter factors are multiplicative. Use Identity().
type Transform struct {
	FlipV      bool
	FlipH      bool
	Angle      float64 // Degrees, counter-clockwise on screen
	Brightness float64 // Multiplier
	Contrast   float64 // Multiplier of the distance from the mean gray level
	Saturation float64 // Multiplier of the distance from each pixel's gray level
	Hue        float64 // Shift, as a fraction of the hue circle
}

func Identity() Transform {
	return Transform{Brightness: 1, Contrast: 1, Saturation: 1}
}

// Sample draws a transform. The number of draws from rng does not depend on
// the outcome, so a seeded stream stays aligned across items.
func Sample(rng *rand.Rand, p Params) Transform {
	t := Identity()
	t.FlipV = rng.Float64() < p.VerticalFlip
	t.FlipH = rng.Float64() < p.HorizontalFlip
	rotate := rng.Float64() < RotationProb
	angle := (2*rng.Float64() - 1) * p.Rotation
	if rotate && p.Rotation != 0 {
		t.Angle = angle
	}
	jitter := rng.Float64() < ColorProb
	factor := func() float64 {
		return max(0, 1-p.Color) + rng.Float64()*(1+p.Color-max(0, 1-p.Color))
	}
	b, c, s := factor(), factor(), factor()
	hueLimit := min(p.Color, 0.5)
	h := (2*rng.Float64() - 1) * hueLimit
	if jitter && p.Color > 0 {
		t.Brightness, t.Contrast, t.Saturation, t.Hue = b, c, s, h
	}
	return t
}

// IsGeometric is true if the transform moves pixels
func (t Transform) IsGeometric() bool {
	return t.FlipV || t.FlipH || t.Angle != 0
}

// IsPhotometric is true if the transform changes pixel values
func (t Transform) IsPhotometric() bool {
	return t.Brightness != 1 || t.Contrast != 1 || t.Saturation != 1 || t.Hue != 0
}

// ApplyIDs returns the transformed id map. Pixels rotated in from outside
// the frame are background. img is returned unchanged for a photometric-only transform.
func (t Transform) ApplyIDs(img *patch.IDImage) *patch.IDImage {
	if !t.IsGeometric() {
		return img
	}
	return &patch.IDImage{
		Width:  img.Width,
		Height: img.Height,
		Pixels: warp(img.Pixels, img.Width, img.Height, 1, t),
	}
}

// ApplyRGB returns a transformed copy of a packed RGB image. src is not modified.
func (t Transform) ApplyRGB(src []uint8, width, height int) []uint8 {
	var dst []uint8
	if t.IsGeometric() {
		dst = warp(src, width, height, 3, t)
	} else {
		dst = make([]uint8, len(src))
		copy(dst, src)
	}
	if t.IsPhotometric() {
		t.jitter(dst)
	}
	return dst
}

// warp flips, and then rotates about the image center, with nearest neighbour
// sampling. Each destination pixel is mapped back to its source.
func warp[T any](src []T, width, height, nchan int, t Transform) []T {
	dst := make([]T, len(src))
	cx := float64(width-1) / 2
	cy := float64(height-1) / 2
	sin, cos := math.Sincos(t.Angle * math.Pi / 180)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Undo the rotation. y points down, so a positive angle is counter-clockwise on screen.
			dx := float64(x) - cx
			dy := float64(y) - cy
			fx := int(math.Round(cos*dx - sin*dy + cx))
			fy := int(math.Round(sin*dx + cos*dy + cy))
			if fx < 0 || fy < 0 || fx >= width || fy >= height {
				continue
			}
			// Undo the flips
			if t.FlipH {
				fx = width - 1 - fx
			}
			if t.FlipV {
				fy = height - 1 - fy
			}
			s := (fy*width + fx) * nchan
			d := (y*width + x) * nchan
			copy(dst[d:d+nchan], src[s:s+nchan])
		}
	}
	return dst
}

func gray(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

func toByte(v float64) uint8 {
	return uint8(math.Round(min(255, max(0, v))))
}

// jitter applies brightness, then contrast, then saturation, then hue, in place
func (t Transform) jitter(pix []uint8) {
	n := len(pix) / 3
	if n == 0 {
		return
	}
	if t.Brightness != 1 {
		for i := range pix {
			pix[i] = toByte(float64(pix[i]) * t.Brightness)
		}
	}
	if t.Contrast != 1 {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += gray(float64(pix[i*3]), float64(pix[i*3+1]), float64(pix[i*3+2]))
		}
		mean /= float64(n)
		for i := range pix {
			pix[i] = toByte((float64(pix[i])-mean)*t.Contrast + mean)
		}
	}
	if t.Saturation != 1 {
		for i := 0; i < n; i++ {
			p := pix[i*3 : i*3+3]
			g := gray(float64(p[0]), float64(p[1]), float64(p[2]))
			for c := range p {
				p[c] = toByte((float64(p[c])-g)*t.Saturation + g)
			}
		}
	}
	if t.Hue != 0 {
		for i := 0; i < n; i++ {
			p := pix[i*3 : i*3+3]
			c := colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
			h, s, v := c.Hsv()
			h = math.Mod(h+t.Hue*360+360, 360)
			p[0], p[1], p[2] = colorful.Hsv(h, s, v).Clamped().RGB255()
		}
	}
}
