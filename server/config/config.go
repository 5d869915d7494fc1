package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cyclopcam/roomalign/pkg/kibi"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("Invalid config")

// Modes
const (
	ModeTrain        = "train"
	ModeDebugFewScan = "debug_few_scan" // Keep only the first data item
)

type SGAligner struct {
	UsePredicted bool   `yaml:"use_predicted"` // Use predicted instead of ground truth scene graphs
	ScanType     string `yaml:"scan_type"`     // "scan" for raw scans, "out" for processed
	Val          struct {
		DataMode string `yaml:"data_mode"` // Subdirectory of files/ used for val and test splits
	} `yaml:"val"`
}

type Image struct {
	W    int `yaml:"w"`        // Raw frame width
	H    int `yaml:"h"`        // Raw frame height
	Step int `yaml:"img_step"` // Use every Step'th frame
}

type ImageEncoding struct {
	ResizeW            int     `yaml:"resize_w"`             // Encoder input width
	ResizeH            int     `yaml:"resize_h"`             // Encoder input height
	PatchW             int     `yaml:"patch_w"`              // Number of patch columns
	PatchH             int     `yaml:"patch_h"`              // Number of patch rows
	ImgRotate          bool    `yaml:"img_rotate"`           // Rotate images and annotations 90 degrees clockwise
	UseFeature         bool    `yaml:"use_feature"`          // Read precomputed patch features instead of images
	FeatureDir         string  `yaml:"feature_dir"`          // Under files/
	PatchAnnoThreshold float64 `yaml:"patch_anno_threshold"` // Occupancy threshold for patch quantization
	UsePatchAnnoCache  bool    `yaml:"use_patch_anno_cache"` // Read patch annotations written by preprocessing
}

type CrossScene struct {
	UseCrossScene      bool `yaml:"use_cross_scene"`
	NumScenes          int  `yaml:"num_scenes"`           // Number of other scenes to draw objects from
	NumNegativeSamples int  `yaml:"num_negative_samples"` // Number of cross scene objects. -1 = all
}

// Augmentation of training frames. Never applied to val or test.
type Aug struct {
	UseAug         bool    `yaml:"use_aug"`
	VerticalFlip   float64 `yaml:"vertical_flip"`   // Probability
	HorizontalFlip float64 `yaml:"horizontal_flip"` // Probability
	Rotation       float64 `yaml:"rotation"`        // Limit in degrees
	Color          float64 `yaml:"color"`           // Brightness, contrast, saturation and hue jitter
}

type Data struct {
	RootDir     string        `yaml:"root_dir"`
	Resplit     bool          `yaml:"resplit"`     // Use <split>_resplit_scans.txt
	Rescan      bool          `yaml:"rescan"`      // Use every rescan, not only reference scans
	Temporal    bool          `yaml:"temporal"`    // Also build an item for a sibling scan
	Img         Image         `yaml:"img"`
	ImgEncoding ImageEncoding `yaml:"img_encoding"`
	CrossScene  CrossScene    `yaml:"cross_scene"`
	Aug         Aug           `yaml:"aug"`
	ImageCache  kibi.ByteSize `yaml:"image_cache"` // Decoded image cache budget. 0 disables the cache
}

type Preprocess struct {
	Split          string  `yaml:"split"`           // Which "type" of the scan table to process
	Rescan         bool    `yaml:"rescan"`          // Also process rescans
	Workers        int     `yaml:"workers"`         // Number of scans processed in parallel
	Step           int     `yaml:"step"`            // Project every Step'th frame
	Override       bool    `yaml:"override"`        // Redo scans that are already done
	WriteColor     bool    `yaml:"write_color"`     // Write the projected color as JPEG
	WritePatchAnno bool    `yaml:"write_patch_anno"`
	WriteVis       bool    `yaml:"write_vis"`
	PatchThreshold float64 `yaml:"patch_threshold"` // Occupancy threshold for the patch annotation cache
}

type Config struct {
	Seed       uint64     `yaml:"seed"`
	Mode       string     `yaml:"mode"` // "train" or "debug_few_scan"
	SGAligner  SGAligner  `yaml:"sgaligner"`
	Data       Data       `yaml:"data"`
	Preprocess Preprocess `yaml:"preprocess"`
}

// Default returns a config with every optional field set to its default
func Default() *Config {
	c := &Config{
		Mode: ModeTrain,
	}
	c.SGAligner.ScanType = "scan"
	c.SGAligner.Val.DataMode = "orig"
	c.Data.Img.Step = 1
	c.Data.ImgEncoding.PatchAnnoThreshold = 0.3
	c.Data.CrossScene.NumNegativeSamples = -1
	c.Data.ImageCache = 256 * 1024 * 1024
	c.Preprocess.Split = "train"
	c.Preprocess.Workers = 5
	c.Preprocess.Step = 1
	c.Preprocess.PatchThreshold = 0.2
	return c
}

// LoadConfig reads a YAML config on top of Default(). Unknown keys are an error.
// The config is not validated, because the dataset and the preprocessing
// tools need different subsets of it.
func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	return cfg, nil
}

// Parse decodes a YAML config on top of Default()
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the dataset settings. Preprocessing settings are checked by ValidatePreprocess.
func (c *Config) Validate() error {
	if c.Mode != ModeTrain && c.Mode != ModeDebugFewScan {
		return invalid("mode must be '%v' or '%v', not '%v'", ModeTrain, ModeDebugFewScan, c.Mode)
	}
	d := &c.Data
	if d.RootDir == "" {
		return invalid("data.root_dir is required")
	}
	if d.Img.Step < 1 {
		return invalid("data.img.img_step must be at least 1")
	}
	e := &d.ImgEncoding
	if e.PatchW < 1 || e.PatchH < 1 {
		return invalid("data.img_encoding.patch_w and patch_h must be positive (%v x %v)", e.PatchW, e.PatchH)
	}
	if e.UseFeature {
		if e.FeatureDir == "" {
			return invalid("data.img_encoding.feature_dir is required when use_feature is set")
		}
	} else if e.ResizeW < e.PatchW || e.ResizeH < e.PatchH {
		return invalid("data.img_encoding.resize_w x resize_h (%v x %v) must be at least the patch grid (%v x %v)", e.ResizeW, e.ResizeH, e.PatchW, e.PatchH)
	}
	if e.PatchAnnoThreshold < 0 || e.PatchAnnoThreshold > 1 {
		return invalid("data.img_encoding.patch_anno_threshold must be in [0, 1]")
	}
	cs := &d.CrossScene
	if cs.UseCrossScene && cs.NumScenes < 0 {
		return invalid("data.cross_scene.num_scenes may not be negative")
	}
	if a := &d.Aug; a.UseAug {
		if e.UseFeature || e.UsePatchAnnoCache {
			return invalid("data.aug.use_aug needs images and object id maps, so it cannot be combined with use_feature or use_patch_anno_cache")
		}
		if a.VerticalFlip < 0 || a.VerticalFlip > 1 || a.HorizontalFlip < 0 || a.HorizontalFlip > 1 {
			return invalid("data.aug flip probabilities must be in [0, 1]")
		}
		if a.Rotation < 0 || a.Rotation > 180 {
			return invalid("data.aug.rotation must be in [0, 180] degrees")
		}
		if a.Color < 0 {
			return invalid("data.aug.color may not be negative")
		}
	}
	if d.ImageCache < 0 {
		return invalid("data.image_cache may not be negative")
	}
	return nil
}

// ValidatePreprocess checks the settings needed by the offline preprocessing tools
func (c *Config) ValidatePreprocess() error {
	if c.Data.RootDir == "" {
		return invalid("data.root_dir is required")
	}
	p := &c.Preprocess
	if p.Workers < 1 {
		return invalid("preprocess.workers must be at least 1")
	}
	if p.Step < 1 {
		return invalid("preprocess.step must be at least 1")
	}
	if p.PatchThreshold < 0 || p.PatchThreshold > 1 {
		return invalid("preprocess.patch_threshold must be in [0, 1]")
	}
	if p.WritePatchAnno && (c.Data.ImgEncoding.PatchW < 1 || c.Data.ImgEncoding.PatchH < 1) {
		return invalid("preprocess.write_patch_anno needs data.img_encoding.patch_w and patch_h")
	}
	return nil
}

// ValidateScanNet checks the settings needed to annotate ScanNet scenes.
// Rays are cast at the encoder resolution, so the raw and resized image
// sizes are both required.
func (c *Config) ValidateScanNet() error {
	if err := c.ValidatePreprocess(); err != nil {
		return err
	}
	if c.Data.Img.W < 1 || c.Data.Img.H < 1 {
		return invalid("data.img.w and h are required for ScanNet")
	}
	e := &c.Data.ImgEncoding
	if e.PatchW < 1 || e.PatchH < 1 {
		return invalid("data.img_encoding.patch_w and patch_h must be positive (%v x %v)", e.PatchW, e.PatchH)
	}
	if e.ResizeW < e.PatchW || e.ResizeH < e.PatchH {
		return invalid("data.img_encoding.resize_w x resize_h (%v x %v) must be at least the patch grid (%v x %v)", e.ResizeW, e.ResizeH, e.PatchW, e.PatchH)
	}
	return nil
}

// DataMode returns the directory under files/ used for a split. Training always uses "orig".
func (c *Config) DataMode(split string) string {
	if split == "train" {
		return "orig"
	}
	return c.SGAligner.Val.DataMode
}
