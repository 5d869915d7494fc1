package preprocess

import (
	"context"
	"fmt"

	"github.com/cyclopcam/roomalign/pkg/artifact"
	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/cyclopcam/roomalign/pkg/plymesh"
	"github.com/cyclopcam/roomalign/pkg/raycast"
	"github.com/cyclopcam/roomalign/pkg/scan3r"
	"github.com/cyclopcam/roomalign/pkg/scannet"
)

// ScanNetScenes lists the ScanNet scenes under data.root_dir/<preprocess.split>
func (r *Runner) ScanNetScenes() ([]string, error) {
	scenes, err := scannet.ListScenes(r.cfg.Data.RootDir, r.cfg.Preprocess.Split)
	if err != nil {
		return nil, artifact.Missing("*", "ScanNet split", r.cfg.Data.RootDir, err)
	}
	return scenes, nil
}

// AnnotateScanNet writes the patch annotation cache of ScanNet scenes, from
// their ground truth instance segmentation. ScanNet scenes are not recorded
// in the ledger, and are always processed.
func (r *Runner) AnnotateScanNet(ctx context.Context, scenes []string) (*Summary, error) {
	if err := r.cfg.ValidateScanNet(); err != nil {
		return nil, err
	}
	summary, err := runPool(ctx, r.cfg.Preprocess.Workers, scenes, func(scene string) (bool, error) {
		log := r.Log.Scan(scene)
		n, err := r.AnnotateScanNetScene(scene)
		if err != nil {
			log.Errorf("Failed: %v", err)
			return false, err
		}
		log.Infof("Annotated %v frames", n)
		return false, nil
	})
	r.Log.Infof("ScanNet: %v done, %v failed, in %.1f seconds", len(summary.Done), len(summary.Failed), summary.Duration.Seconds())
	return summary, err
}

// AnnotateScanNetScene ray casts the scene's mesh, labelled by its segment
// groups, into every step'th frame with a valid pose. Rays are cast at the
// encoder resolution, so the id maps never need resizing.
// Returns the number of frames annotated.
func (r *Runner) AnnotateScanNetScene(scene string) (int, error) {
	pc := &r.cfg.Preprocess
	enc := &r.cfg.Data.ImgEncoding
	dir := scannet.SceneDir(r.cfg.Data.RootDir, pc.Split, scene)

	meshFile := scannet.MeshFile(dir, scene)
	ply, err := plymesh.ReadFile(meshFile, "")
	if err != nil {
		return 0, artifact.Missing(scene, "mesh", meshFile, err)
	}
	mesh := raycast.MeshFromPLY(ply)
	if mesh.ObjectIDs, err = scannet.LoadVertexObjectIDs(dir, scene, len(mesh.Vertices)); err != nil {
		return 0, err
	}

	allFrames, err := scannet.ListFrames(dir)
	if err != nil {
		return 0, artifact.Missing(scene, "color frames", dir, err)
	}
	frames := scan3r.Subsample(allFrames, pc.Step)
	poses, err := scannet.LoadPoses(dir, frames)
	if err != nil {
		return 0, err
	}
	k, err := scannet.LoadIntrinsics(dir, r.cfg.Data.Img.W, r.cfg.Data.Img.H)
	if err != nil {
		return 0, err
	}
	k = k.Resize(enc.ResizeW, enc.ResizeH)

	valid := make([]int, 0, len(poses))
	extrinsics := make([]geom.Mat4, 0, len(poses))
	for _, f := range frames {
		pose, ok := poses[f]
		if !ok {
			continue
		}
		ext, err := pose.Inverse()
		if err != nil {
			return 0, fmt.Errorf("Pose of frame %v: %w", f, err)
		}
		valid = append(valid, f)
		extrinsics = append(extrinsics, ext)
	}
	if skipped := len(frames) - len(valid); skipped != 0 {
		r.Log.Scan(scene).Infof("Skipping %v frames without a valid pose", skipped)
	}

	projections, err := raycast.Project(mesh, valid, extrinsics, []geom.Intrinsics{k})
	if err != nil {
		return 0, err
	}
	idMaps := make(map[int]*patch.IDImage, len(projections))
	for frame, p := range projections {
		idMaps[frame] = &patch.IDImage{Width: p.Width, Height: p.Height, Pixels: p.ObjectIDs}
	}
	annos, err := r.quantizeAll(idMaps)
	if err != nil {
		return 0, err
	}
	if err := r.writePatchAnnotations(scene, annos); err != nil {
		return 0, err
	}

	// One visualisation per scene is enough to check the labelling
	if pc.WriteVis && len(valid) != 0 {
		first := valid[0]
		if err := r.writeVis(scene, map[int]*patch.IDImage{first: idMaps[first]}, map[int]*patch.Annotation{first: annos[first]}); err != nil {
			return 0, err
		}
	}
	return len(annos), nil
}
