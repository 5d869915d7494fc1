package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/roomalign/pkg/kibi"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
seed: 42
mode: debug_few_scan
sgaligner:
  scan_type: out
  val:
    data_mode: val_mode
data:
  root_dir: /data/3RScan
  temporal: true
  img:
    w: 960
    h: 540
    img_step: 25
  img_encoding:
    resize_w: 224
    resize_h: 126
    patch_w: 16
    patch_h: 9
  cross_scene:
    use_cross_scene: true
    num_scenes: 3
    num_negative_samples: 50
  aug:
    use_aug: true
    horizontal_flip: 0.5
    rotation: 10
    color: 0.1
  image_cache: 64 MB
preprocess:
  workers: 2
  write_patch_anno: true
`

func TestParse(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(sampleConfig), 0644))
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidatePreprocess())
	require.NoError(t, cfg.ValidateScanNet())

	require.EqualValues(t, 42, cfg.Seed)
	require.Equal(t, ModeDebugFewScan, cfg.Mode)
	require.Equal(t, 25, cfg.Data.Img.Step)
	require.Equal(t, 9, cfg.Data.ImgEncoding.PatchH)
	require.Equal(t, 50, cfg.Data.CrossScene.NumNegativeSamples)
	require.Equal(t, kibi.ByteSize(64<<20), cfg.Data.ImageCache)
	require.True(t, cfg.Data.Aug.UseAug)
	require.Equal(t, 0.5, cfg.Data.Aug.HorizontalFlip)
	require.Equal(t, 0.0, cfg.Data.Aug.VerticalFlip)
	require.Equal(t, 10.0, cfg.Data.Aug.Rotation)
	require.Equal(t, "orig", cfg.DataMode("train"))
	require.Equal(t, "val_mode", cfg.DataMode("val"))

	// Defaults survive when a key is absent
	require.Equal(t, 0.3, cfg.Data.ImgEncoding.PatchAnnoThreshold)
	require.Equal(t, 0.2, cfg.Preprocess.PatchThreshold)
	require.Equal(t, 2, cfg.Preprocess.Workers)
	require.Equal(t, 1, cfg.Preprocess.Step)
}

func TestUnknownKey(t *testing.T) {
	_, err := Parse([]byte("data:\n  root_dirr: /x\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	bad := *cfg
	bad.Data.RootDir = ""
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Data.ImgEncoding.PatchW = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Data.ImgEncoding.ResizeW = 8
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	// Features replace images, so the resize dimensions are irrelevant
	bad.Data.ImgEncoding.UseFeature = true
	bad.Data.ImgEncoding.FeatureDir = "dino"
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
	bad.Data.Aug.UseAug = false
	require.NoError(t, bad.Validate())

	// Augmentation works on images and id maps
	bad = *cfg
	bad.Data.ImgEncoding.UsePatchAnnoCache = true
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
	bad.Data.Aug.UseAug = false
	require.NoError(t, bad.Validate())

	bad = *cfg
	bad.Data.Aug.HorizontalFlip = 1.5
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Mode = "fast"
	require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Preprocess.Workers = 0
	require.ErrorIs(t, bad.ValidatePreprocess(), ErrInvalidConfig)

	empty, err := Parse(nil)
	require.NoError(t, err)
	require.ErrorIs(t, empty.Validate(), ErrInvalidConfig)
}
