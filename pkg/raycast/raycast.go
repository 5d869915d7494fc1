// Package raycast renders per-pixel object id images from a labelled mesh.
// The ray/triangle intersection itself is done by model3d's BVH collider.
package raycast

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/cyclopcam/roomalign/pkg/plymesh"
	"github.com/unixpickle/model3d/model3d"
)

var ErrShapeMismatch = errors.New("Shape mismatch")

// Mesh is a triangle mesh where every vertex carries a color and the id of the object that owns it
type Mesh struct {
	Vertices  [][3]float64
	Colors    [][3]uint8 // Optional. If empty, color images are black.
	ObjectIDs []int32    // Parallel to Vertices
	Faces     [][3]int32
}

func MeshFromPLY(m *plymesh.Mesh) *Mesh {
	return &Mesh{
		Vertices:  m.Vertices,
		Colors:    m.Colors,
		ObjectIDs: m.Labels,
		Faces:     m.Faces,
	}
}

func (m *Mesh) Validate() error {
	if len(m.ObjectIDs) != len(m.Vertices) {
		return fmt.Errorf("%w: %v vertices but %v object ids", ErrShapeMismatch, len(m.Vertices), len(m.ObjectIDs))
	}
	if len(m.Colors) != 0 && len(m.Colors) != len(m.Vertices) {
		return fmt.Errorf("%w: %v vertices but %v colors", ErrShapeMismatch, len(m.Vertices), len(m.Colors))
	}
	nv := int32(len(m.Vertices))
	for i, f := range m.Faces {
		for _, v := range f {
			if v < 0 || v >= nv {
				return fmt.Errorf("%w: face %v references vertex %v (mesh has %v vertices)", ErrShapeMismatch, i, v, nv)
			}
		}
	}
	return nil
}

// Projection is the result of ray casting one frame
type Projection struct {
	Width     int
	Height    int
	ObjectIDs []int32 // Width * Height. 0 where no triangle was hit.
	Color     []uint8 // Width * Height * 3 (RGB). Black where no triangle was hit.
}

func NewProjection(width, height int) *Projection {
	return &Projection{
		Width:     width,
		Height:    height,
		ObjectIDs: make([]int32, width*height),
		Color:     make([]uint8, width*height*3),
	}
}

func (p *Projection) ObjectIDAt(x, y int) int32 {
	return p.ObjectIDs[y*p.Width+x]
}

func (p *Projection) ColorAt(x, y int) [3]uint8 {
	i := (y*p.Width + x) * 3
	return [3]uint8{p.Color[i], p.Color[i+1], p.Color[i+2]}
}

// Projector owns the acceleration structure of one mesh.
// A Projector is not shared between goroutines, because the preprocessing
// workers each load their own scan.
type Projector struct {
	mesh     *Mesh
	collider model3d.Collider
	triIndex map[*model3d.Triangle]int // collider triangle -> index into mesh.Faces
}

// NewProjector builds the ray-intersection structure over the mesh.
// This is the expensive part, so do it once per mesh, not once per frame.
func NewProjector(mesh *Mesh) (*Projector, error) {
	if err := mesh.Validate(); err != nil {
		return nil, err
	}
	tris := make([]*model3d.Triangle, 0, len(mesh.Faces))
	triIndex := make(map[*model3d.Triangle]int, len(mesh.Faces))
	for i, f := range mesh.Faces {
		t := &model3d.Triangle{
			toCoord(mesh.Vertices[f[0]]),
			toCoord(mesh.Vertices[f[1]]),
			toCoord(mesh.Vertices[f[2]]),
		}
		tris = append(tris, t)
		triIndex[t] = i
	}
	return &Projector{
		mesh:     mesh,
		collider: model3d.MeshToCollider(model3d.NewMeshTriangles(tris)),
		triIndex: triIndex,
	}, nil
}

func toCoord(v [3]float64) model3d.Coord3D {
	return model3d.Coord3D{X: v[0], Y: v[1], Z: v[2]}
}

// ProjectFrame casts one ray per pixel of a camera with the given world->camera extrinsic.
func (p *Projector) ProjectFrame(extrinsic geom.Mat4, k geom.Intrinsics) (*Projection, error) {
	if err := k.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	camToWorld, err := extrinsic.Inverse()
	if err != nil {
		return nil, err
	}
	origin := camToWorld.TransformPoint(geom.Vec3{})
	ray := &model3d.Ray{Origin: model3d.Coord3D{X: origin.X, Y: origin.Y, Z: origin.Z}}
	out := NewProjection(k.Width, k.Height)
	for y := 0; y < k.Height; y++ {
		for x := 0; x < k.Width; x++ {
			d := camToWorld.TransformDir(k.Unproject(float64(x), float64(y)))
			ray.Direction = model3d.Coord3D{X: d.X, Y: d.Y, Z: d.Z}
			face, ok := p.castRay(ray)
			if !ok {
				continue
			}
			v := p.mesh.Faces[face][0]
			pix := y*k.Width + x
			out.ObjectIDs[pix] = p.mesh.ObjectIDs[v]
			if len(p.mesh.Colors) != 0 {
				c := p.mesh.Colors[v]
				out.Color[pix*3] = c[0]
				out.Color[pix*3+1] = c[1]
				out.Color[pix*3+2] = c[2]
			}
		}
	}
	return out, nil
}

// Returns the index of the first face hit by the ray
func (p *Projector) castRay(ray *model3d.Ray) (int, bool) {
	rc, ok := p.collider.FirstRayCollision(ray)
	if !ok {
		return 0, false
	}
	tc, ok := rc.Extra.(*model3d.TriangleCollision)
	if !ok || tc.Triangle == nil {
		return 0, false
	}
	face, ok := p.triIndex[tc.Triangle]
	if !ok || face >= len(p.mesh.Faces) {
		return 0, false
	}
	return face, true
}

// Project renders every frame of a scan.
// frames, extrinsics and intrinsics are parallel arrays, except that a single
// intrinsics value may be shared by all frames.
func Project(mesh *Mesh, frames []int, extrinsics []geom.Mat4, intrinsics []geom.Intrinsics) (map[int]*Projection, error) {
	if len(frames) != len(extrinsics) {
		return nil, fmt.Errorf("%w: %v frames but %v camera poses", ErrShapeMismatch, len(frames), len(extrinsics))
	}
	if len(intrinsics) != 1 && len(intrinsics) != len(extrinsics) {
		return nil, fmt.Errorf("%w: %v camera poses but %v intrinsics", ErrShapeMismatch, len(extrinsics), len(intrinsics))
	}
	proj, err := NewProjector(mesh)
	if err != nil {
		return nil, err
	}
	out := make(map[int]*Projection, len(frames))
	for i, frame := range frames {
		k := intrinsics[0]
		if len(intrinsics) != 1 {
			k = intrinsics[i]
		}
		p, err := proj.ProjectFrame(extrinsics[i], k)
		if err != nil {
			return nil, fmt.Errorf("Frame %v: %w", frame, err)
		}
		out[frame] = p
	}
	return out, nil
}
