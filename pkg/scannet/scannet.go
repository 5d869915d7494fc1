// Package scannet reads ScanNet scenes: the mesh, its over-segmentation, the
// instance aggregation that groups segments into objects, and the exported
// camera frames.
//
// A scene directory <root>/<split>/<scene> holds:
//
//	<scene>_vh_clean_2.labels.ply
//	<scene>_vh_clean_2.0.010000.segs.json   {"segIndices": [...]}, one per vertex
//	<scene>_vh_clean.aggregation.json       {"segGroups": [{"objectId", "label", "segments"}]}
//	color/<frame>.jpg
//	pose/<frame>.txt                        4x4 camera->world, row major
//	intrinsic/intrinsic_color.txt           4x4
package scannet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/cyclopcam/roomalign/pkg/scan3r"
)

var ErrInvalidScene = errors.New("Invalid ScanNet scene")

func SceneDir(root, split, scene string) string {
	return filepath.Join(root, split, scene)
}

func MeshFile(sceneDir, scene string) string {
	return filepath.Join(sceneDir, scene+"_vh_clean_2.labels.ply")
}

func SegmentFile(sceneDir, scene string) string {
	return filepath.Join(sceneDir, scene+"_vh_clean_2.0.010000.segs.json")
}

func AggregationFile(sceneDir, scene string) string {
	return filepath.Join(sceneDir, scene+"_vh_clean.aggregation.json")
}

func ColorFile(sceneDir string, frame int) string {
	return filepath.Join(sceneDir, "color", strconv.Itoa(frame)+".jpg")
}

func PoseFile(sceneDir string, frame int) string {
	return filepath.Join(sceneDir, "pose", strconv.Itoa(frame)+".txt")
}

// ListScenes returns the scene directories of a split, ascending
func ListScenes(root, split string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, split))
	if err != nil {
		return nil, err
	}
	scenes := []string{}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "scene") {
			scenes = append(scenes, e.Name())
		}
	}
	slices.Sort(scenes)
	return scenes, nil
}

// ListFrames returns the indices of every exported color frame, ascending
func ListFrames(sceneDir string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(sceneDir, "color"))
	if err != nil {
		return nil, err
	}
	frames := []int{}
	for _, e := range entries {
		idx, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".jpg"))
		if err != nil || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		frames = append(frames, idx)
	}
	slices.Sort(frames)
	return frames, nil
}

// LoadPoses reads the camera->world poses of the given frames. The sensor
// export writes -inf for frames where tracking was lost, and those frames are
// left out of the result.
func LoadPoses(sceneDir string, frames []int) (map[int]geom.Mat4, error) {
	poses := make(map[int]geom.Mat4, len(frames))
	for _, f := range frames {
		m, err := scan3r.ReadMat4(PoseFile(sceneDir, f))
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(m[:], func(v float64) bool { return math.IsInf(v, 0) || math.IsNaN(v) }) {
			continue
		}
		poses[f] = m
	}
	return poses, nil
}

// LoadIntrinsics reads the color camera calibration. ScanNet does not store
// the color resolution next to it, so the caller supplies it.
func LoadIntrinsics(sceneDir string, width, height int) (geom.Intrinsics, error) {
	fn := filepath.Join(sceneDir, "intrinsic", "intrinsic_color.txt")
	m, err := scan3r.ReadMat4(fn)
	if err != nil {
		return geom.Intrinsics{}, err
	}
	k, err := geom.IntrinsicsFromMatrix(m[:], width, height)
	if err != nil {
		return geom.Intrinsics{}, fmt.Errorf("%v: %w", fn, err)
	}
	return k, nil
}

// SegGroup is one annotated object: a set of over-segmentation segments
type SegGroup struct {
	ObjectID int32 // ScanNet's objectId + 1, so that 0 stays free for "no object"
	Label    string
	Segments []int32
}

// LoadSegments reads the segment id of every mesh vertex
func LoadSegments(filename string) ([]int32, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	doc := struct {
		SegIndices []int32 `json:"segIndices"`
	}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("Failed to parse %v: %w", filename, err)
	}
	if len(doc.SegIndices) == 0 {
		return nil, fmt.Errorf("%w: %v has no segIndices", ErrInvalidScene, filename)
	}
	return doc.SegIndices, nil
}

// LoadAggregation reads the objects of a scene
func LoadAggregation(filename string) ([]SegGroup, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	doc := struct {
		SegGroups []struct {
			ObjectID *int32  `json:"objectId"`
			ID       int32   `json:"id"`
			Label    string  `json:"label"`
			Segments []int32 `json:"segments"`
		} `json:"segGroups"`
	}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("Failed to parse %v: %w", filename, err)
	}
	groups := make([]SegGroup, 0, len(doc.SegGroups))
	for _, g := range doc.SegGroups {
		// Older exports only have "id"
		id := g.ID
		if g.ObjectID != nil {
			id = *g.ObjectID
		}
		if id < 0 {
			return nil, fmt.Errorf("%w: %v has negative object id %v", ErrInvalidScene, filename, id)
		}
		groups = append(groups, SegGroup{ObjectID: id + 1, Label: g.Label, Segments: g.Segments})
	}
	return groups, nil
}

// VertexObjectIDs assigns each vertex the object whose segments contain it.
// Vertices in no group get 0. If two groups claim a segment, the later one wins.
func VertexObjectIDs(segIndices []int32, groups []SegGroup) []int32 {
	segToObject := map[int32]int32{}
	for _, g := range groups {
		for _, s := range g.Segments {
			segToObject[s] = g.ObjectID
		}
	}
	ids := make([]int32, len(segIndices))
	for i, s := range segIndices {
		ids[i] = segToObject[s]
	}
	return ids
}

// LoadVertexObjectIDs reads the segmentation and aggregation of a scene, and
// checks that the segmentation covers exactly numVertices vertices.
func LoadVertexObjectIDs(sceneDir, scene string, numVertices int) ([]int32, error) {
	segs, err := LoadSegments(SegmentFile(sceneDir, scene))
	if err != nil {
		return nil, err
	}
	if len(segs) != numVertices {
		return nil, fmt.Errorf("%w: %v segment indices for %v mesh vertices", ErrInvalidScene, len(segs), numVertices)
	}
	groups, err := LoadAggregation(AggregationFile(sceneDir, scene))
	if err != nil {
		return nil, err
	}
	return VertexObjectIDs(segs, groups), nil
}
