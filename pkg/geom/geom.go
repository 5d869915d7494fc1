// Package geom holds the small amount of camera geometry that we need for
// projecting meshes into frames.
package geom

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrSingular = errors.New("Matrix is singular")

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(b Vec3) Vec3 {
	return Vec3{v.X + b.X, v.Y + b.Y, v.Z + b.Z}
}

func (v Vec3) Sub(b Vec3) Vec3 {
	return Vec3{v.X - b.X, v.Y - b.Y, v.Z - b.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Mat4 is a 4x4 row-major matrix, used for rigid camera transforms.
type Mat4 [16]float64

func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a rigid transform that only translates
func Translation(t Vec3) Mat4 {
	m := Identity()
	m[3] = t.X
	m[7] = t.Y
	m[11] = t.Z
	return m
}

func (m Mat4) At(row, col int) float64 {
	return m[row*4+col]
}

func (m Mat4) Mul(b Mat4) Mat4 {
	r := Mat4{}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += m[i*4+k] * b[k*4+j]
			}
			r[i*4+j] = s
		}
	}
	return r
}

// Inverse returns the general inverse of m.
// Camera poses on disk are not guaranteed to be perfectly orthonormal, so we
// don't take the rigid shortcut (transpose R, -R^T t).
func (m Mat4) Inverse() (Mat4, error) {
	a := mat.NewDense(4, 4, m[:])
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return Mat4{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	r := Mat4{}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			r[i*4+j] = inv.At(i, j)
		}
	}
	return r, nil
}

// TransformPoint applies the full affine transform to p
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// TransformDir applies only the linear part of the transform to d
func (m Mat4) TransformDir(d Vec3) Vec3 {
	return Vec3{
		X: m[0]*d.X + m[1]*d.Y + m[2]*d.Z,
		Y: m[4]*d.X + m[5]*d.Y + m[6]*d.Z,
		Z: m[8]*d.X + m[9]*d.Y + m[10]*d.Z,
	}
}

// Intrinsics is a pinhole camera model
type Intrinsics struct {
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// IntrinsicsFromMatrix reads fx, fy, cx, cy out of a row-major 3x3 (or the
// upper-left of a 4x4) calibration matrix.
func IntrinsicsFromMatrix(k []float64, width, height int) (Intrinsics, error) {
	stride := 0
	switch len(k) {
	case 9:
		stride = 3
	case 16:
		stride = 4
	default:
		return Intrinsics{}, fmt.Errorf("Intrinsic matrix must have 9 or 16 elements, not %v", len(k))
	}
	in := Intrinsics{
		Fx:     k[0],
		Fy:     k[stride+1],
		Cx:     k[2],
		Cy:     k[stride+2],
		Width:  width,
		Height: height,
	}
	return in, in.Validate()
}

func (k Intrinsics) Validate() error {
	if k.Fx == 0 || k.Fy == 0 {
		return fmt.Errorf("Invalid focal length (%v, %v)", k.Fx, k.Fy)
	}
	if k.Width <= 0 || k.Height <= 0 {
		return fmt.Errorf("Invalid image size %v x %v", k.Width, k.Height)
	}
	return nil
}

// Resize returns the intrinsics of the same camera rendered at a different resolution
func (k Intrinsics) Resize(width, height int) Intrinsics {
	sx := float64(width) / float64(k.Width)
	sy := float64(height) / float64(k.Height)
	return Intrinsics{
		Fx:     k.Fx * sx,
		Fy:     k.Fy * sy,
		Cx:     k.Cx * sx,
		Cy:     k.Cy * sy,
		Width:  width,
		Height: height,
	}
}

// Unproject returns the camera-space direction (with z = 1) through pixel (u, v)
func (k Intrinsics) Unproject(u, v float64) Vec3 {
	return Vec3{
		X: (u - k.Cx) / k.Fx,
		Y: (v - k.Cy) / k.Fy,
		Z: 1,
	}
}

// Project returns the pixel coordinates of a camera-space point.
// ok is false if the point is behind the camera.
func (k Intrinsics) Project(p Vec3) (u, v float64, ok bool) {
	if p.Z <= 0 {
		return 0, 0, false
	}
	return k.Fx*p.X/p.Z + k.Cx, k.Fy*p.Y/p.Z + k.Cy, true
}
