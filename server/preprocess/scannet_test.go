package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/roomalign/pkg/artifact"
	"github.com/cyclopcam/roomalign/pkg/iox"
	"github.com/cyclopcam/roomalign/pkg/scannet"
	"github.com/cyclopcam/roomalign/server/config"
	"github.com/stretchr/testify/require"
)

// writeScanNetScene creates the walls of wallPLY as a ScanNet scene. The
// left wall is segment 10 and the right wall segment 20. Frame 1 lost tracking.
func writeScanNetScene(t *testing.T, root, scene string) {
	dir := scannet.SceneDir(root, "scans", scene)
	write := func(fn, content string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0755))
		require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
	}
	// ScanNet meshes carry a semantic label, not an instance id
	write(scannet.MeshFile(dir, scene), strings.ReplaceAll(wallPLY, "property int objectId", "property ushort label"))
	write(scannet.SegmentFile(dir, scene), `{"segIndices": [10, 10, 10, 10, 20, 20, 20, 20]}`)
	write(scannet.AggregationFile(dir, scene), `{"segGroups": [
		{"id": 0, "objectId": 0, "label": "door", "segments": [20]},
		{"id": 1, "objectId": 1, "label": "wall", "segments": [10]}
	]}`)
	// The raw sensor is twice the encoder resolution
	write(filepath.Join(dir, "intrinsic", "intrinsic_color.txt"), "8 0 7 0\n0 8 3 0\n0 0 1 0\n0 0 0 1\n")
	for f := 0; f < 3; f++ {
		write(scannet.ColorFile(dir, f), "")
		write(scannet.PoseFile(dir, f), "1 0 0 0\n0 1 0 0\n0 0 1 -5\n0 0 0 1\n")
	}
	write(scannet.PoseFile(dir, 1), strings.Repeat("-inf ", 16))
}

func scanNetConfig(root string) *config.Config {
	cfg := testConfig(root)
	cfg.Preprocess.Split = "scans"
	cfg.Data.Img.W = 2 * camW
	cfg.Data.Img.H = 2 * camH
	cfg.Data.ImgEncoding.ResizeW = camW
	cfg.Data.ImgEncoding.ResizeH = camH
	return cfg
}

func TestAnnotateScanNet(t *testing.T) {
	root := t.TempDir()
	writeScanNetScene(t, root, "scene0000_00")
	writeScanNetScene(t, root, "scene0001_00")
	// No aggregation
	writeScanNetScene(t, root, "scene0002_00")
	require.NoError(t, os.Remove(scannet.AggregationFile(scannet.SceneDir(root, "scans", "scene0002_00"), "scene0002_00")))

	cfg := scanNetConfig(root)
	r := openRunner(t, cfg)
	scenes, err := r.ScanNetScenes()
	require.NoError(t, err)
	require.Equal(t, []string{"scene0000_00", "scene0001_00", "scene0002_00"}, scenes)

	summary, err := r.AnnotateScanNet(context.Background(), scenes)
	require.NoError(t, err)
	require.Equal(t, []string{"scene0000_00", "scene0001_00"}, summary.Done)
	require.Len(t, summary.Failed, 1)
	require.Contains(t, summary.Failed, "scene0002_00")

	annos, err := artifact.ReadPatchAnnotations(r.Layout.PatchAnnotationFile("scene0000_00", 4, 2))
	require.NoError(t, err)
	// Frame 1 has no pose
	require.Len(t, annos, 2)
	require.Nil(t, annos[1])
	// The left wall is ScanNet object 1, which becomes id 2
	require.Equal(t, []int32{2, 2, 1, 1, 2, 2, 1, 1}, annos[0].IDs)
	require.Equal(t, annos[0].IDs, annos[2].IDs)

	require.True(t, iox.FileExists(filepath.Join(r.Layout.VisDir("scene0000_00"), "frame-000000.png")))
	require.False(t, iox.FileExists(filepath.Join(r.Layout.VisDir("scene0000_00"), "frame-000002.png")))
}

func TestAnnotateScanNetConfig(t *testing.T) {
	root := t.TempDir()
	cfg := scanNetConfig(root)
	cfg.Data.Img.W = 0
	r := openRunner(t, cfg)
	_, err := r.AnnotateScanNet(context.Background(), []string{"scene0000_00"})
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = r.ScanNetScenes()
	require.ErrorIs(t, err, artifact.ErrMissingArtifact)
}
