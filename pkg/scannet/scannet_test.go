package scannet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fn, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0755))
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
}

func TestVertexObjectIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, SegmentFile(dir, "scene0000_00"), `{"params": {}, "sceneId": "scene0000_00", "segIndices": [7, 7, 3, 9, 3]}`)
	writeFile(t, AggregationFile(dir, "scene0000_00"), `{"sceneId": "scene0000_00", "segGroups": [
		{"id": 0, "objectId": 0, "label": "chair", "segments": [7]},
		{"id": 1, "objectId": 1, "label": "table", "segments": [3]}
	]}`)
	ids, err := LoadVertexObjectIDs(dir, "scene0000_00", 5)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 1, 2, 0, 2}, ids)

	groups, err := LoadAggregation(AggregationFile(dir, "scene0000_00"))
	require.NoError(t, err)
	require.Equal(t, "table", groups[1].Label)

	_, err = LoadVertexObjectIDs(dir, "scene0000_00", 6)
	require.ErrorIs(t, err, ErrInvalidScene)

	// Older aggregations only carry "id"
	writeFile(t, AggregationFile(dir, "scene0000_00"), `{"segGroups": [{"id": 4, "label": "bed", "segments": [9]}]}`)
	ids, err = LoadVertexObjectIDs(dir, "scene0000_00", 5)
	require.NoError(t, err)
	require.Equal(t, []int32{0, 0, 0, 5, 0}, ids)

	writeFile(t, SegmentFile(dir, "scene0000_00"), `{"segIndices": []}`)
	_, err = LoadSegments(SegmentFile(dir, "scene0000_00"))
	require.ErrorIs(t, err, ErrInvalidScene)
}

func TestFrames(t *testing.T) {
	root := t.TempDir()
	dir := SceneDir(root, "scans", "scene0001_00")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scans", "other"), 0755))
	for _, f := range []int{20, 0, 100} {
		writeFile(t, ColorFile(dir, f), "")
		writeFile(t, PoseFile(dir, f), "1 0 0 1\n0 1 0 2\n0 0 1 3\n0 0 0 1\n")
	}
	writeFile(t, PoseFile(dir, 20), "-inf -inf -inf -inf\n-inf -inf -inf -inf\n-inf -inf -inf -inf\n-inf -inf -inf -inf\n")
	writeFile(t, filepath.Join(dir, "intrinsic", "intrinsic_color.txt"), "1170 0 648 0\n0 1170 484 0\n0 0 1 0\n0 0 0 1\n")

	scenes, err := ListScenes(root, "scans")
	require.NoError(t, err)
	require.Equal(t, []string{"scene0001_00"}, scenes)

	frames, err := ListFrames(dir)
	require.NoError(t, err)
	require.Equal(t, []int{0, 20, 100}, frames)

	poses, err := LoadPoses(dir, frames)
	require.NoError(t, err)
	require.Len(t, poses, 2)
	require.NotContains(t, poses, 20)
	require.Equal(t, geom.Vec3{X: 1, Y: 2, Z: 3}, poses[100].TransformPoint(geom.Vec3{}))

	k, err := LoadIntrinsics(dir, 1296, 968)
	require.NoError(t, err)
	require.Equal(t, 648.0, k.Cx)
	r := k.Resize(324, 242)
	require.Equal(t, 162.0, r.Cx)
	require.Equal(t, 292.5, r.Fx)
}
