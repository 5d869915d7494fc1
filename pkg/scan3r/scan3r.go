// Package scan3r reads the raw frame sequences of 3RScan scans.
//
// A scan's sequence directory holds, per frame:
//
//	frame-000012.color.jpg
//	frame-000012.pose.txt    (4x4 camera->world, row major)
//
// and one _info.txt with the sensor resolution and calibration.
package scan3r

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cyclopcam/roomalign/pkg/geom"
)

func FrameName(frameIdx int) string {
	return fmt.Sprintf("frame-%06d", frameIdx)
}

func ColorFile(sequenceDir string, frameIdx int) string {
	return filepath.Join(sequenceDir, FrameName(frameIdx)+".color.jpg")
}

func PoseFile(sequenceDir string, frameIdx int) string {
	return filepath.Join(sequenceDir, FrameName(frameIdx)+".pose.txt")
}

// ListFrames returns the indices of every color frame in the sequence, ascending
func ListFrames(sequenceDir string) ([]int, error) {
	entries, err := os.ReadDir(sequenceDir)
	if err != nil {
		return nil, err
	}
	frames := []int{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "frame-") || !strings.HasSuffix(name, ".color.jpg") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame-"), ".color.jpg"))
		if err != nil {
			continue
		}
		frames = append(frames, idx)
	}
	slices.Sort(frames)
	return frames, nil
}

// Subsample keeps every step'th frame, starting with the first
func Subsample(frames []int, step int) []int {
	if step <= 1 {
		return frames
	}
	out := make([]int, 0, (len(frames)+step-1)/step)
	for i := 0; i < len(frames); i += step {
		out = append(out, frames[i])
	}
	return out
}

// LoadFramePaths returns frame index -> color image path, for every step'th frame
func LoadFramePaths(sequenceDir string, step int) (map[int]string, error) {
	frames, err := ListFrames(sequenceDir)
	if err != nil {
		return nil, err
	}
	paths := map[int]string{}
	for _, f := range Subsample(frames, step) {
		paths[f] = ColorFile(sequenceDir, f)
	}
	return paths, nil
}

func readFloats(filename string) ([]float64, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	vals := []float64{}
	for _, tok := range strings.Fields(string(raw)) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("Invalid number '%v' in %v", tok, filename)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// LoadPose reads the camera->world pose of one frame
func LoadPose(sequenceDir string, frameIdx int) (geom.Mat4, error) {
	return ReadMat4(PoseFile(sequenceDir, frameIdx))
}

// ReadMat4 reads a whitespace separated, row major 4x4 matrix
func ReadMat4(fn string) (geom.Mat4, error) {
	vals, err := readFloats(fn)
	if err != nil {
		return geom.Mat4{}, err
	}
	if len(vals) != 16 {
		return geom.Mat4{}, fmt.Errorf("Matrix file %v has %v values, expected 16", fn, len(vals))
	}
	m := geom.Mat4{}
	copy(m[:], vals)
	return m, nil
}

// LoadPoses reads the poses of the given frames
func LoadPoses(sequenceDir string, frames []int) ([]geom.Mat4, error) {
	poses := make([]geom.Mat4, 0, len(frames))
	for _, f := range frames {
		p, err := LoadPose(sequenceDir, f)
		if err != nil {
			return nil, err
		}
		poses = append(poses, p)
	}
	return poses, nil
}

// LoadIntrinsics reads the color camera calibration from _info.txt
func LoadIntrinsics(sequenceDir string) (geom.Intrinsics, error) {
	fn := filepath.Join(sequenceDir, "_info.txt")
	f, err := os.Open(fn)
	if err != nil {
		return geom.Intrinsics{}, err
	}
	defer f.Close()
	values := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		key, val, ok := strings.Cut(s.Text(), "=")
		if ok {
			values[strings.TrimSpace(key)] = strings.TrimSpace(val)
		}
	}
	if err := s.Err(); err != nil {
		return geom.Intrinsics{}, err
	}
	width, err1 := strconv.Atoi(values["m_colorWidth"])
	height, err2 := strconv.Atoi(values["m_colorHeight"])
	if err1 != nil || err2 != nil {
		return geom.Intrinsics{}, fmt.Errorf("Missing or invalid m_colorWidth/m_colorHeight in %v", fn)
	}
	k := []float64{}
	for _, tok := range strings.Fields(values["m_calibrationColorIntrinsic"]) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return geom.Intrinsics{}, fmt.Errorf("Invalid m_calibrationColorIntrinsic in %v", fn)
		}
		k = append(k, v)
	}
	in, err := geom.IntrinsicsFromMatrix(k, width, height)
	if err != nil {
		return geom.Intrinsics{}, fmt.Errorf("%v: %w", fn, err)
	}
	return in, nil
}

// WritePose writes a pose file in the same format that LoadPose reads
func WritePose(sequenceDir string, frameIdx int, pose geom.Mat4) error {
	sb := strings.Builder{}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if c != 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(pose.At(r, c), 'g', -1, 64))
		}
		sb.WriteByte('\n')
	}
	return os.WriteFile(PoseFile(sequenceDir, frameIdx), []byte(sb.String()), 0644)
}

// WriteInfo writes an _info.txt with the color camera's calibration
func WriteInfo(sequenceDir string, k geom.Intrinsics) error {
	info := fmt.Sprintf("m_versionNumber = 4\nm_sensorName = StructureSensor\nm_colorWidth = %v\nm_colorHeight = %v\n"+
		"m_calibrationColorIntrinsic = %v 0 %v 0 0 %v %v 0 0 0 1 0 0 0 0 1\n",
		k.Width, k.Height, k.Fx, k.Cx, k.Fy, k.Cy)
	return os.WriteFile(filepath.Join(sequenceDir, "_info.txt"), []byte(info), 0644)
}
