package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roomalign/pkg/artifact"
	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/cyclopcam/roomalign/pkg/iox"
	"github.com/cyclopcam/roomalign/pkg/scan3r"
	"github.com/cyclopcam/roomalign/pkg/sceneindex"
	"github.com/cyclopcam/roomalign/server/config"
	"github.com/stretchr/testify/require"
)

// Two walls at z=0, object 1 (red) left of x=0 and object 2 (blue) to the right
const wallPLY = `ply
format ascii 1.0
element vertex 8
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
property int objectId
element face 4
property list uchar int vertex_indices
end_header
-10 -10 0 255 0 0 1
0 -10 0 255 0 0 1
0 10 0 255 0 0 1
-10 10 0 255 0 0 1
0 -10 0 0 0 255 2
10 -10 0 0 0 255 2
10 10 0 0 0 255 2
0 10 0 0 0 255 2
3 0 1 2
3 0 2 3
3 4 5 6
3 4 6 7
`

const (
	camW = 8
	camH = 4
)

// writeScan creates a scene with 'frames' camera frames, 5 units in front of the walls.
// Without a mesh, the scan fails to process.
func writeScan(t *testing.T, layout artifact.Layout, scan string, frames int, withMesh bool) {
	seq := layout.SequenceDir(scan)
	require.NoError(t, os.MkdirAll(seq, 0755))
	if withMesh {
		require.NoError(t, os.WriteFile(layout.MeshFile(scan), []byte(wallPLY), 0644))
	}
	// cx is off the pixel grid, so that no ray hits the seam between the walls
	k := geom.Intrinsics{Fx: 4, Fy: 4, Cx: 3.5, Cy: 1.5, Width: camW, Height: camH}
	require.NoError(t, scan3r.WriteInfo(seq, k))
	pose := geom.Translation(geom.Vec3{Z: -5})
	for i := 0; i < frames; i++ {
		require.NoError(t, os.WriteFile(scan3r.ColorFile(seq, i), nil, 0644))
		require.NoError(t, scan3r.WritePose(seq, i, pose))
	}
}

func writeDataset(t *testing.T) string {
	root := t.TempDir()
	layout := artifact.NewLayout(root, "scan", false, "orig")
	require.NoError(t, os.MkdirAll(layout.ModeDir(), 0755))
	table := `[
		{"reference": "S1", "type": "train", "scans": [{"reference": "S1b"}]},
		{"reference": "S2", "type": "train", "scans": []},
		{"reference": "S3", "type": "validation", "scans": []}
	]`
	require.NoError(t, os.WriteFile(layout.ScanTableFile(), []byte(table), 0644))
	writeScan(t, layout, "S1", 3, true)
	writeScan(t, layout, "S1b", 1, true)
	writeScan(t, layout, "S2", 2, false)
	writeScan(t, layout, "S3", 1, true)
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Seed = 3
	cfg.Data.RootDir = root
	cfg.Data.ImgEncoding.PatchW = 4
	cfg.Data.ImgEncoding.PatchH = 2
	cfg.Preprocess.Workers = 2
	cfg.Preprocess.Rescan = true
	cfg.Preprocess.WriteColor = true
	cfg.Preprocess.WritePatchAnno = true
	cfg.Preprocess.WriteVis = true
	return cfg
}

func openRunner(t *testing.T, cfg *config.Config) *Runner {
	r, err := NewRunner(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestListScans(t *testing.T) {
	groups := []sceneindex.Group{
		{Reference: "z", Type: "train", Scans: []sceneindex.ScanRecord{{Reference: "a"}}},
		{Reference: "m", Type: "train"},
		{Reference: "q", Type: "validation"},
	}
	require.Equal(t, []string{"m", "z"}, ListScans(groups, "train", false))
	require.Equal(t, []string{"a", "m", "z"}, ListScans(groups, "train", true))
	require.Equal(t, []string{"q"}, ListScans(groups, "validation", true))
	require.Equal(t, []string{}, ListScans(groups, "test", true))
}

func TestLedger(t *testing.T) {
	ledger, err := OpenLedger(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	defer ledger.Close()

	job, err := ledger.Job("x")
	require.NoError(t, err)
	require.Nil(t, job)

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, ledger.Record(&ScanJob{ScanID: "x", Status: StatusFailed, Error: "boom", StartedAt: dbh.MakeIntTime(start), FinishedAt: dbh.MakeIntTime(start.Add(2 * time.Second))}))
	require.NoError(t, ledger.Record(&ScanJob{ScanID: "a", Status: StatusDone, Frames: 4, StartedAt: dbh.MakeIntTime(start), FinishedAt: dbh.MakeIntTime(start)}))
	done, err := ledger.IsDone("x")
	require.NoError(t, err)
	require.False(t, done)

	// A second record replaces the first
	require.NoError(t, ledger.Record(&ScanJob{ScanID: "x", Status: StatusDone, Frames: 9, StartedAt: dbh.MakeIntTime(start), FinishedAt: dbh.MakeIntTime(start)}))
	done, err = ledger.IsDone("x")
	require.NoError(t, err)
	require.True(t, done)

	jobs, err := ledger.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "a", jobs[0].ScanID)
	require.Equal(t, "x", jobs[1].ScanID)
	require.Equal(t, 9, jobs[1].Frames)
	require.Equal(t, "", jobs[1].Error)
}

func TestRun(t *testing.T) {
	root := writeDataset(t)
	cfg := testConfig(root)
	r := openRunner(t, cfg)

	scans, err := r.Scans()
	require.NoError(t, err)
	require.Equal(t, []string{"S1", "S1b", "S2"}, scans)

	summary, err := r.Run(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, []string{"S1", "S1b"}, summary.Done)
	require.Empty(t, summary.Skipped)
	require.Len(t, summary.Failed, 1)
	require.Contains(t, summary.Failed["S2"], "mesh")

	maps, err := artifact.ReadObjectIDMaps(r.Layout.ObjectIDMapFile("S1"))
	require.NoError(t, err)
	require.Len(t, maps, 3)
	m := maps[2]
	require.Equal(t, camW, m.Width)
	require.Equal(t, camH, m.Height)
	for y := 0; y < camH; y++ {
		for x := 0; x < camW; x++ {
			want := int32(1)
			if x >= camW/2 {
				want = 2
			}
			require.Equal(t, want, m.At(x, y), "pixel %v,%v", x, y)
		}
	}

	annos, err := artifact.ReadPatchAnnotations(r.Layout.PatchAnnotationFile("S1", 4, 2))
	require.NoError(t, err)
	require.Len(t, annos, 3)
	require.Equal(t, []int32{1, 1, 2, 2, 1, 1, 2, 2}, annos[0].IDs)

	require.True(t, iox.FileExists(filepath.Join(r.Layout.ColorDir("S1"), "frame-000001.jpg")))
	require.True(t, iox.FileExists(filepath.Join(r.Layout.VisDir("S1b"), "frame-000000.png")))
	require.False(t, iox.FileExists(r.Layout.ObjectIDMapFile("S2")))

	job, err := r.Ledger().Job("S2")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, job.Status)
	require.NotEmpty(t, job.Error)
	job, err = r.Ledger().Job("S1")
	require.NoError(t, err)
	require.Equal(t, StatusDone, job.Status)
	require.Equal(t, 3, job.Frames)

	// Completed scans are skipped, failed scans are retried
	summary, err = r.Run(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, []string{"S1", "S1b"}, summary.Skipped)
	require.Empty(t, summary.Done)
	require.Len(t, summary.Failed, 1)

	// A completed scan whose output was deleted is processed again
	require.NoError(t, os.Remove(r.Layout.ObjectIDMapFile("S1b")))
	summary, err = r.Run(context.Background(), []string{"S1", "S1b"})
	require.NoError(t, err)
	require.Equal(t, []string{"S1b"}, summary.Done)
	require.Equal(t, []string{"S1"}, summary.Skipped)
}

func TestRunStep(t *testing.T) {
	root := writeDataset(t)
	cfg := testConfig(root)
	cfg.Preprocess.Step = 2
	cfg.Preprocess.WriteColor = false
	cfg.Preprocess.WritePatchAnno = false
	cfg.Preprocess.WriteVis = false
	r := openRunner(t, cfg)
	summary, err := r.Run(context.Background(), []string{"S1"})
	require.NoError(t, err)
	require.Equal(t, []string{"S1"}, summary.Done)

	maps, err := artifact.ReadObjectIDMaps(r.Layout.ObjectIDMapFile("S1"))
	require.NoError(t, err)
	require.Len(t, maps, 2)
	require.NotNil(t, maps[0])
	require.NotNil(t, maps[2])
	require.False(t, iox.FileExists(r.Layout.PatchAnnotationFile("S1", 4, 2)))
}

func TestRunCancelled(t *testing.T) {
	root := writeDataset(t)
	r := openRunner(t, testConfig(root))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := r.Run(ctx, []string{"S1", "S1b"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, summary.Done)
	require.False(t, iox.FileExists(r.Layout.ObjectIDMapFile("S1")))
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Preprocess.Workers = 0
	_, err := NewRunner(logs.NewTestingLog(t), cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestAnnotateScan(t *testing.T) {
	root := writeDataset(t)
	cfg := testConfig(root)
	cfg.Preprocess.WritePatchAnno = false
	cfg.Preprocess.WriteVis = false
	r := openRunner(t, cfg)
	_, err := r.Run(context.Background(), []string{"S1"})
	require.NoError(t, err)

	cfg.Data.ImgEncoding.PatchW = 2
	cfg.Data.ImgEncoding.PatchH = 1
	n, err := r.AnnotateScan("S1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	annos, err := artifact.ReadPatchAnnotations(r.Layout.PatchAnnotationFile("S1", 2, 1))
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2}, annos[1].IDs)

	_, err = r.AnnotateScan("S2")
	require.ErrorIs(t, err, artifact.ErrMissingArtifact)
}
