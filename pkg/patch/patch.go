// Package patch reduces dense per-pixel object id maps to coarse patch grids.
package patch

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/cyclopcam/roomalign/pkg/gen"
)

// Undefined is the patch value for "no object met the occupancy threshold"
const Undefined = 0

var ErrInvalidGrid = errors.New("Invalid patch grid")

// IDImage is a dense object id map. 0 is background.
type IDImage struct {
	Width  int
	Height int
	Pixels []int32 // Width * Height, row major
}

func NewIDImage(width, height int) *IDImage {
	return &IDImage{
		Width:  width,
		Height: height,
		Pixels: make([]int32, width*height),
	}
}

func (m *IDImage) At(x, y int) int32 {
	return m.Pixels[y*m.Width+x]
}

func (m *IDImage) Set(x, y int, id int32) {
	m.Pixels[y*m.Width+x] = id
}

// Annotation is a Rows x Cols grid of object ids, where 0 means undefined
type Annotation struct {
	Rows int
	Cols int
	IDs  []int32 // Rows * Cols, row major. Patch index p = row*Cols + col
}

func NewAnnotation(rows, cols int) *Annotation {
	return &Annotation{
		Rows: rows,
		Cols: cols,
		IDs:  make([]int32, rows*cols),
	}
}

func (a *Annotation) At(row, col int) int32 {
	return a.IDs[row*a.Cols+col]
}

// Clone returns a deep copy of the grid
func (a *Annotation) Clone() *Annotation {
	return &Annotation{
		Rows: a.Rows,
		Cols: a.Cols,
		IDs:  slices.Clone(a.IDs),
	}
}

// NumPatches returns Rows * Cols
func (a *Annotation) NumPatches() int {
	return len(a.IDs)
}

// Cell is a rectangle of pixels, X1 and Y1 exclusive
type Cell struct {
	X0, Y0, X1, Y1 int
}

func (c Cell) Area() int {
	return (c.X1 - c.X0) * (c.Y1 - c.Y0)
}

// CellOf returns the pixel rectangle of patch (row, col).
// Edges are placed at round(i * size / n), so neighbouring cells may differ
// in size by one pixel.
func CellOf(row, col, rows, cols, width, height int) Cell {
	return Cell{
		X0: edge(col, cols, width),
		Y0: edge(row, rows, height),
		X1: edge(col+1, cols, width),
		Y1: edge(row+1, rows, height),
	}
}

func edge(i, n, size int) int {
	return int(math.Round(float64(i) * float64(size) / float64(n)))
}

// Quantize assigns each patch the most frequent id inside its cell, provided
// that id's pixel count is strictly greater than threshold * cellArea.
// Ties between equally frequent ids go to the smallest id. Background (0)
// takes part in the vote, so a mostly-empty patch stays undefined.
func Quantize(img *IDImage, rows, cols int, threshold float64) (*Annotation, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %v x %v", ErrInvalidGrid, rows, cols)
	}
	if img.Width <= 0 || img.Height <= 0 || len(img.Pixels) != img.Width*img.Height {
		return nil, fmt.Errorf("%w: image is %v x %v with %v pixels", ErrInvalidGrid, img.Width, img.Height, len(img.Pixels))
	}
	anno := NewAnnotation(rows, cols)
	cellPixels := []int32{}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cell := CellOf(r, c, rows, cols, img.Width, img.Height)
			cellPixels = cellPixels[:0]
			for y := cell.Y0; y < cell.Y1; y++ {
				cellPixels = append(cellPixels, img.Pixels[y*img.Width+cell.X0:y*img.Width+cell.X1]...)
			}
			id, count := gen.Mode(cellPixels)
			if count > 0 && float64(count) > threshold*float64(cell.Area()) {
				anno.IDs[r*cols+c] = id
			}
		}
	}
	return anno, nil
}

// ResizeNearest resizes an id map with nearest neighbour sampling, so that
// no new ids are invented along object borders.
func ResizeNearest(img *IDImage, width, height int) *IDImage {
	if width == img.Width && height == img.Height {
		return img
	}
	out := NewIDImage(width, height)
	sx := float64(img.Width) / float64(width)
	sy := float64(img.Height) / float64(height)
	for y := 0; y < height; y++ {
		srcY := gen.Clamp(int(math.Floor(float64(y)*sy)), 0, img.Height-1)
		srcRow := img.Pixels[srcY*img.Width : (srcY+1)*img.Width]
		dstRow := out.Pixels[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			dstRow[x] = srcRow[gen.Clamp(int(math.Floor(float64(x)*sx)), 0, img.Width-1)]
		}
	}
	return out
}

// Rotate90 rotates an id map 90 degrees clockwise.
// 3RScan sensor images are stored on their side, and this brings them upright.
func Rotate90(img *IDImage) *IDImage {
	return &IDImage{
		Width:  img.Height,
		Height: img.Width,
		Pixels: RotatePixels(img.Pixels, img.Width, img.Height, 1),
	}
}

// Rotate90 rotates the grid 90 degrees clockwise, matching Rotate90 of the
// id map that it was quantized from.
func (a *Annotation) Rotate90() *Annotation {
	return &Annotation{
		Rows: a.Cols,
		Cols: a.Rows,
		IDs:  RotatePixels(a.IDs, a.Cols, a.Rows, 1),
	}
}

// RotatePixels rotates a packed row-major image of nchan channels 90 degrees
// clockwise. The result is height pixels wide and width pixels high.
func RotatePixels[T any](src []T, width, height, nchan int) []T {
	dst := make([]T, len(src))
	// dst(x', y') = src(x = y', y = height - 1 - x')
	for y := 0; y < width; y++ {
		for x := 0; x < height; x++ {
			s := ((height-1-x)*width + y) * nchan
			d := (y*height + x) * nchan
			copy(dst[d:d+nchan], src[s:s+nchan])
		}
	}
	return dst
}
