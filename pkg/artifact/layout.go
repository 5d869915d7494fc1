package artifact

import (
	"fmt"
	"path/filepath"
)

// Layout knows where every artifact of a dataset lives on disk
//
//	<root>/[out/][predicted/]             ScansDir
//	  scenes/<scan>/sequence/...          raw 3RScan frames
//	  scenes/<scan>/labels.instances.annotated.v2.ply
//	  files/3RScan.json
//	  files/objects.json
//	  files/<mode>/<split>_[resplit_]scans.txt
//	  files/<mode>/embeddings/<scan>.emb.zst
//	  files/gt_projection/obj_id/<scan>.objid.zst
//	  files/gt_projection/color/<scan>/frame-<idx>.jpg
//	  files/patch_anno/patch_anno_<cols>_<rows>/<scan>.patch.zst
//	  files/<featureDir>/<scan>.feat.zst
type Layout struct {
	ScansDir string
	Mode     string // "orig" for training, else the validation data mode
}

// NewLayout mirrors the directory conventions of the 3RScan preprocessing tools.
// scanType is "scan" for raw scans, anything else (eg "out") for processed ones.
func NewLayout(rootDir, scanType string, usePredicted bool, mode string) Layout {
	dir := rootDir
	if scanType != "scan" {
		dir = filepath.Join(dir, "out")
	}
	if usePredicted {
		dir = filepath.Join(dir, "predicted")
	}
	return Layout{
		ScansDir: dir,
		Mode:     mode,
	}
}

func (l Layout) FilesDir() string {
	return filepath.Join(l.ScansDir, "files")
}

func (l Layout) ModeDir() string {
	return filepath.Join(l.FilesDir(), l.Mode)
}

func (l Layout) ScanTableFile() string {
	return filepath.Join(l.FilesDir(), "3RScan.json")
}

func (l Layout) ObjectsFile() string {
	return filepath.Join(l.FilesDir(), "objects.json")
}

func (l Layout) SplitFile(split string, resplit bool) string {
	r := ""
	if resplit {
		r = "resplit_"
	}
	return filepath.Join(l.ModeDir(), fmt.Sprintf("%v_%vscans.txt", split, r))
}

func (l Layout) EmbeddingFile(scanID string) string {
	return filepath.Join(l.ModeDir(), "embeddings", scanID+".emb.zst")
}

func (l Layout) ProjectionDir() string {
	return filepath.Join(l.FilesDir(), "gt_projection")
}

func (l Layout) ObjectIDMapFile(scanID string) string {
	return filepath.Join(l.ProjectionDir(), "obj_id", scanID+".objid.zst")
}

func (l Layout) ColorDir(scanID string) string {
	return filepath.Join(l.ProjectionDir(), "color", scanID)
}

func (l Layout) VisDir(scanID string) string {
	return filepath.Join(l.ProjectionDir(), "vis", scanID)
}

// PatchAnnotationFile follows the patch_anno_<w>_<h> naming, where w is the
// number of patch columns and h the number of patch rows.
func (l Layout) PatchAnnotationFile(scanID string, patchCols, patchRows int) string {
	return filepath.Join(l.FilesDir(), "patch_anno", fmt.Sprintf("patch_anno_%v_%v", patchCols, patchRows), scanID+".patch.zst")
}

func (l Layout) PatchFeatureFile(featureDir, scanID string) string {
	return filepath.Join(l.FilesDir(), featureDir, scanID+".feat.zst")
}

func (l Layout) ScenesDir() string {
	return filepath.Join(l.ScansDir, "scenes")
}

func (l Layout) SceneDir(scanID string) string {
	return filepath.Join(l.ScenesDir(), scanID)
}

func (l Layout) MeshFile(scanID string) string {
	return filepath.Join(l.SceneDir(scanID), "labels.instances.annotated.v2.ply")
}

func (l Layout) SequenceDir(scanID string) string {
	return filepath.Join(l.SceneDir(scanID), "sequence")
}

// LedgerFile is the SQLite database that tracks preprocessing jobs
func (l Layout) LedgerFile() string {
	return filepath.Join(l.FilesDir(), "preprocess.sqlite")
}
