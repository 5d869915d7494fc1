package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/roomalign/pkg/artifact"
	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/cyclopcam/roomalign/pkg/scan3r"
	"github.com/cyclopcam/roomalign/server/config"
	"github.com/stretchr/testify/require"
)

const (
	imgW = 8
	imgH = 4
)

// Rooms: A (rescanned as A1), B, and C (rescanned as C1).
// Object ids are shared between a reference scan and its rescans.
var fixtureScans = map[string]struct {
	objects    map[int32]int32 // id -> nyu40
	embeddings artifact.Embeddings
	feature    []float32 // Patch feature of every patch
}{
	"A":  {map[int32]int32{1: 5, 2: 7, 3: 9}, artifact.Embeddings{1: {1, 0}, 2: {0, 1}}, []float32{1, 0}},
	"A1": {map[int32]int32{1: 5, 2: 7}, artifact.Embeddings{1: {1, 0}, 2: {0, 1}}, []float32{1, 0}},
	"B":  {map[int32]int32{5: 3}, artifact.Embeddings{5: {1, 1}}, []float32{1, 1}},
	"C":  {map[int32]int32{7: 3}, artifact.Embeddings{7: {-1, 0}}, []float32{-1, 0}},
	"C1": {map[int32]int32{7: 3}, artifact.Embeddings{7: {-1, 0}}, []float32{-1, 0}},
}

// idMap of a scan. A is split into object 1 on the left and 2 on the right.
// Every other scan is covered by its first object.
func idMap(scan string) *patch.IDImage {
	img := patch.NewIDImage(imgW, imgH)
	for y := 0; y < imgH; y++ {
		for x := 0; x < imgW; x++ {
			switch scan {
			case "A", "A1":
				if x < imgW/2 {
					img.Set(x, y, 1)
				} else {
					img.Set(x, y, 2)
				}
			case "B":
				img.Set(x, y, 5)
			default:
				img.Set(x, y, 7)
			}
		}
	}
	return img
}

func writeJPEG(t *testing.T, filename string, shade uint8) {
	img := cimg.NewImage(imgW, imgH, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = shade
	}
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling444, 95, 0))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filename, jpg, 0644))
}

// writeFixture creates a 3RScan tree with two frames per scan, and returns its root
func writeFixture(t *testing.T) string {
	root := t.TempDir()
	layout := artifact.NewLayout(root, "scan", false, "orig")
	require.NoError(t, os.MkdirAll(layout.ModeDir(), 0755))

	table := `[
		{"reference": "A", "type": "train", "scans": [{"reference": "A1"}]},
		{"reference": "B", "type": "train", "scans": []},
		{"reference": "C", "type": "train", "scans": [{"reference": "C1"}]}
	]`
	require.NoError(t, os.WriteFile(layout.ScanTableFile(), []byte(table), 0644))
	require.NoError(t, os.WriteFile(layout.SplitFile("train", false), []byte("A\nB\nC\n"), 0644))
	require.NoError(t, os.WriteFile(layout.SplitFile("val", false), []byte("A\nB\nC\n"), 0644))

	type objectJSON struct {
		ID    int32 `json:"id"`
		NYU40 int32 `json:"nyu40"`
	}
	type scanJSON struct {
		Scan    string       `json:"scan"`
		Objects []objectJSON `json:"objects"`
	}
	meta := struct {
		Scans []scanJSON `json:"scans"`
	}{}
	for scan, s := range fixtureScans {
		sj := scanJSON{Scan: scan}
		for id, cat := range s.objects {
			sj.Objects = append(sj.Objects, objectJSON{ID: id, NYU40: cat})
		}
		meta.Scans = append(meta.Scans, sj)
	}
	objects, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.ObjectsFile(), objects, 0644))

	k := geom.Intrinsics{Fx: 10, Fy: 10, Cx: imgW / 2, Cy: imgH / 2, Width: imgW, Height: imgH}
	for scan, s := range fixtureScans {
		require.NoError(t, os.MkdirAll(filepath.Dir(layout.EmbeddingFile(scan)), 0755))
		require.NoError(t, artifact.WriteEmbeddings(layout.EmbeddingFile(scan), s.embeddings))

		seq := layout.SequenceDir(scan)
		require.NoError(t, os.MkdirAll(seq, 0755))
		require.NoError(t, scan3r.WriteInfo(seq, k))
		maps := map[int]*patch.IDImage{}
		feats := map[int]*artifact.PatchFeatures{}
		for _, frame := range []int{0, 1} {
			writeJPEG(t, scan3r.ColorFile(seq, frame), uint8(100+frame))
			require.NoError(t, scan3r.WritePose(seq, frame, geom.Identity()))
			maps[frame] = idMap(scan)
			f := &artifact.PatchFeatures{Rows: 2, Cols: 4, Dim: 2}
			for p := 0; p < 8; p++ {
				f.Data = append(f.Data, s.feature...)
			}
			feats[frame] = f
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(layout.ObjectIDMapFile(scan)), 0755))
		require.NoError(t, artifact.WriteObjectIDMaps(layout.ObjectIDMapFile(scan), maps))
		require.NoError(t, os.MkdirAll(filepath.Dir(layout.PatchFeatureFile("feat", scan)), 0755))
		require.NoError(t, artifact.WritePatchFeatures(layout.PatchFeatureFile("feat", scan), feats))
	}
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Seed = 7
	cfg.Data.RootDir = root
	cfg.Data.Temporal = true
	cfg.Data.ImgEncoding.ResizeW = imgW
	cfg.Data.ImgEncoding.ResizeH = imgH
	cfg.Data.ImgEncoding.PatchW = 4
	cfg.Data.ImgEncoding.PatchH = 2
	cfg.Data.CrossScene.UseCrossScene = true
	cfg.Data.CrossScene.NumScenes = 1
	cfg.Data.CrossScene.NumNegativeSamples = 1
	cfg.Data.ImageCache = 1024 * 1024
	return cfg
}
