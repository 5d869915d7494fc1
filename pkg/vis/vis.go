// Package vis draws object-id maps and patch annotations, for eyeballing the
// output of preprocessing.
package vis

import (
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"slices"

	"github.com/cyclopcam/roomalign/pkg/gen"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/fogleman/gg"
)

// Palette maps object ids to colors. Background (0) is always black.
type Palette map[int32]color.RGBA

// NewPalette assigns a random color to every id. Ids are visited in ascending
// order, so the same rng state always produces the same palette.
func NewPalette(rng *rand.Rand, ids []int32) Palette {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	p := Palette{patch.Undefined: {0, 0, 0, 255}}
	for _, id := range slices.Compact(sorted) {
		if id == patch.Undefined {
			continue
		}
		// Keep colors away from black, so that objects never look like background
		p[id] = color.RGBA{
			R: uint8(40 + rng.IntN(216)),
			G: uint8(40 + rng.IntN(216)),
			B: uint8(40 + rng.IntN(216)),
			A: 255,
		}
	}
	return p
}

// Color returns the id's color, or white for ids that were not in the palette
func (p Palette) Color(id int32) color.RGBA {
	if c, ok := p[id]; ok {
		return c
	}
	return color.RGBA{255, 255, 255, 255}
}

// IDs returns every id present in the object-id map
func IDs(img *patch.IDImage) []int32 {
	return gen.Unique(img.Pixels)
}

// RenderIDImage paints every pixel with the color of its object id
func RenderIDImage(img *patch.IDImage, palette Palette) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			out.SetRGBA(x, y, palette.Color(img.At(x, y)))
		}
	}
	return out
}

// DrawPatchGrid overlays the patch grid of anno onto background. Patches with
// a defined id are filled with a translucent version of the id's color.
// The cell boundaries are the same as those used by patch.Quantize.
func DrawPatchGrid(background image.Image, anno *patch.Annotation, palette Palette, labels bool) image.Image {
	dc := gg.NewContextForImage(background)
	width := dc.Width()
	height := dc.Height()
	for r := 0; r < anno.Rows; r++ {
		for c := 0; c < anno.Cols; c++ {
			cell := patch.CellOf(r, c, anno.Rows, anno.Cols, width, height)
			x := float64(cell.X0)
			y := float64(cell.Y0)
			w := float64(cell.X1 - cell.X0)
			h := float64(cell.Y1 - cell.Y0)
			id := anno.At(r, c)
			if id != patch.Undefined {
				col := palette.Color(id)
				dc.SetRGBA255(int(col.R), int(col.G), int(col.B), 110)
				dc.DrawRectangle(x, y, w, h)
				dc.Fill()
				if labels {
					dc.SetRGB(1, 1, 1)
					dc.DrawStringAnchored(fmt.Sprintf("%v", id), x+w/2, y+h/2, 0.5, 0.5)
				}
			}
			dc.SetRGBA(1, 1, 1, 0.5)
			dc.SetLineWidth(1)
			dc.DrawRectangle(x, y, w, h)
			dc.Stroke()
		}
	}
	return dc.Image()
}

// SavePNG writes img to filename
func SavePNG(filename string, img image.Image) error {
	return gg.SavePNG(filename, img)
}
