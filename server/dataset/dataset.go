// Package dataset produces patch-object correspondence items for one split of
// 3RScan. Every (scan, frame) pair is an item, optionally extended with
// objects from other rooms and a capture of the same room at another time.
package dataset

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roomalign/pkg/artifact"
	"github.com/cyclopcam/roomalign/pkg/augment"
	"github.com/cyclopcam/roomalign/pkg/batch"
	"github.com/cyclopcam/roomalign/pkg/gen"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/cyclopcam/roomalign/pkg/sampler"
	"github.com/cyclopcam/roomalign/pkg/scan3r"
	"github.com/cyclopcam/roomalign/pkg/sceneindex"
	"github.com/cyclopcam/roomalign/server/config"
	plog "github.com/cyclopcam/roomalign/server/log"
	"github.com/dgraph-io/ristretto"
)

// DataItem is one (scan, frame) sample. It is fixed once generated.
type DataItem struct {
	ScanID            string
	FrameIndex        int
	ImagePath         string              // Empty when precomputed patch features are used
	CrossSceneObjects []sampler.ObjectRef // Negative objects from other rooms
	CrossTimeScanID   string              // Another capture of the same room. Empty if none, or not temporal.
}

type Dataset struct {
	Log    logs.Log
	Split  string
	Layout artifact.Layout

	cfg           *config.Config
	index         *sceneindex.Index
	scanIDs       []string // Scans that produce items
	allScans      []string // Every scan of the split, rescans included
	objects       *artifact.ObjectTable
	sampler       *sampler.Sampler
	roomRetrieval bool // Val/test: use every cross scene object, and record candidate rows
	numNegatives  int

	framePaths map[string]map[int]string
	idMaps     map[string]map[int]*patch.IDImage
	patchAnnos map[string]map[int]*patch.Annotation
	features   map[string]map[int]*artifact.PatchFeatures
	images     *ristretto.Cache // nil if disabled

	augment  bool // Train split with data.aug.use_aug
	augLock  sync.Mutex
	augRand  *rand.Rand
	augParam augment.Params

	items []DataItem
}

// New loads every artifact of the split, and generates the data items.
// A missing artifact produces an error wrapping artifact.ErrMissingArtifact.
func New(log logs.Log, cfg *config.Config, split string) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Dataset{
		Log:           plog.NewPrefixLogger(log, "dataset("+split+")"),
		Split:         split,
		Layout:        artifact.NewLayout(cfg.Data.RootDir, cfg.SGAligner.ScanType, cfg.SGAligner.UsePredicted, cfg.DataMode(split)),
		cfg:           cfg,
		roomRetrieval: split != "train",
		numNegatives:  cfg.Data.CrossScene.NumNegativeSamples,
		framePaths:    map[string]map[int]string{},
		idMaps:        map[string]map[int]*patch.IDImage{},
		patchAnnos:    map[string]map[int]*patch.Annotation{},
		features:      map[string]map[int]*artifact.PatchFeatures{},
	}
	if d.roomRetrieval {
		d.numNegatives = -1
	}
	if err := d.loadIndex(); err != nil {
		return nil, err
	}
	if err := d.loadFrames(); err != nil {
		return nil, err
	}
	if err := d.loadObjects(); err != nil {
		return nil, err
	}
	if cfg.Data.ImageCache > 0 && !cfg.Data.ImgEncoding.UseFeature {
		cache, err := ristretto.NewCache(&ristretto.Config{
			// Roughly 10 counters per expected item
			NumCounters: gen.Clamp(10*int64(cfg.Data.ImageCache)/imageCost(cfg), 1000, 10_000_000),
			MaxCost:     int64(cfg.Data.ImageCache),
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("Failed to create image cache: %w", err)
		}
		d.images = cache
	}
	d.sampler = sampler.New(d.index, d.allScans, d.objects, cfg.Seed)
	if a := &cfg.Data.Aug; a.UseAug && split == "train" {
		d.augment = true
		d.augRand = d.sampler.Child("augment").Rand()
		d.augParam = augment.Params{
			VerticalFlip:   a.VerticalFlip,
			HorizontalFlip: a.HorizontalFlip,
			Rotation:       a.Rotation,
			Color:          a.Color,
		}
	}

	items, err := d.GenerateDataItems()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.items = items
	d.Log.Infof("%v scans (%v including rescans), %v items", len(d.scanIDs), len(d.allScans), len(d.items))
	return d, nil
}

func imageCost(cfg *config.Config) int64 {
	return max(1, int64(cfg.Data.ImgEncoding.ResizeW*cfg.Data.ImgEncoding.ResizeH*3))
}

// Close releases the image cache
func (d *Dataset) Close() {
	if d.images != nil {
		d.images.Close()
		d.images = nil
	}
}

func (d *Dataset) loadIndex() error {
	fn := d.Layout.ScanTableFile()
	groups, err := artifact.LoadScanTable(fn)
	if err != nil {
		return artifact.Missing("*", "scan table", fn, err)
	}
	fn = d.Layout.SplitFile(d.Split, d.cfg.Data.Resplit)
	refs, err := artifact.LoadSplit(fn)
	if err != nil {
		return artifact.Missing("*", "split list", fn, err)
	}
	d.index, err = sceneindex.New(groups, map[string][]string{d.Split: refs})
	if err != nil {
		return err
	}
	if d.allScans, err = d.index.ScansInSplit(d.Split, true); err != nil {
		return err
	}
	if d.cfg.Data.Rescan {
		d.scanIDs = d.allScans
	} else {
		d.scanIDs = refs
	}
	return nil
}

// Load frame paths, and the per-frame artifacts of every scan that produces items
func (d *Dataset) loadFrames() error {
	enc := &d.cfg.Data.ImgEncoding
	for _, scan := range d.scanIDs {
		seqDir := d.Layout.SequenceDir(scan)
		paths, err := scan3r.LoadFramePaths(seqDir, d.cfg.Data.Img.Step)
		if err != nil {
			return artifact.Missing(scan, "frame sequence", seqDir, err)
		}
		d.framePaths[scan] = paths

		if enc.UseFeature {
			fn := d.Layout.PatchFeatureFile(enc.FeatureDir, scan)
			feats, err := artifact.ReadPatchFeatures(fn)
			if err != nil {
				return artifact.Missing(scan, "patch features", fn, err)
			}
			if err := checkFrames(scan, "patch features", fn, paths, feats); err != nil {
				return err
			}
			d.features[scan] = feats
		}

		if enc.UsePatchAnnoCache {
			fn := d.Layout.PatchAnnotationFile(scan, enc.PatchW, enc.PatchH)
			annos, err := artifact.ReadPatchAnnotations(fn)
			if err != nil {
				return artifact.Missing(scan, "patch annotations", fn, err)
			}
			if err := checkFrames(scan, "patch annotations", fn, paths, annos); err != nil {
				return err
			}
			for frame, a := range annos {
				if a.Rows != enc.PatchH || a.Cols != enc.PatchW {
					return fmt.Errorf("Patch annotation of scan %v frame %v is %v x %v, expected %v x %v", scan, frame, a.Rows, a.Cols, enc.PatchH, enc.PatchW)
				}
			}
			d.patchAnnos[scan] = annos
		} else {
			fn := d.Layout.ObjectIDMapFile(scan)
			maps, err := artifact.ReadObjectIDMaps(fn)
			if err != nil {
				return artifact.Missing(scan, "object id maps", fn, err)
			}
			if err := checkFrames(scan, "object id maps", fn, paths, maps); err != nil {
				return err
			}
			d.idMaps[scan] = maps
		}
	}
	return nil
}

func checkFrames[T any](scan, what, filename string, frames map[int]string, have map[int]T) error {
	for frame := range frames {
		if _, ok := have[frame]; !ok {
			return fmt.Errorf("%w for scan %v: %v of frame %v (%v)", artifact.ErrMissingArtifact, scan, what, frame, filename)
		}
	}
	return nil
}

func (d *Dataset) loadObjects() error {
	fn := d.Layout.ObjectsFile()
	categories, err := artifact.LoadObjects(fn)
	if err != nil {
		return artifact.Missing("*", "object metadata", fn, err)
	}
	embeddings := make(map[string]artifact.Embeddings, len(d.allScans))
	for _, scan := range d.allScans {
		fn := d.Layout.EmbeddingFile(scan)
		emb, err := artifact.ReadEmbeddings(fn)
		if err != nil {
			return artifact.Missing(scan, "object embeddings", fn, err)
		}
		embeddings[scan] = emb
	}
	d.objects, err = artifact.NewObjectTable(embeddings, categories)
	return err
}

// GenerateDataItems visits scans in split order, and the frames of each scan
// in ascending order. Each item draws its cross scene objects before its
// cross time sibling, so a given seed always produces the same items.
func (d *Dataset) GenerateDataItems() ([]DataItem, error) {
	cs := &d.cfg.Data.CrossScene
	items := []DataItem{}
	for _, scan := range d.scanIDs {
		paths := d.framePaths[scan]
		frames := make([]int, 0, len(paths))
		for f := range paths {
			frames = append(frames, f)
		}
		slices.Sort(frames)
		for _, frame := range frames {
			item := DataItem{
				ScanID:     scan,
				FrameIndex: frame,
			}
			if !d.cfg.Data.ImgEncoding.UseFeature {
				item.ImagePath = paths[frame]
			}
			if cs.UseCrossScene {
				objs, err := d.sampler.SampleCrossScenes(scan, cs.NumScenes, d.numNegatives)
				if err != nil {
					return nil, err
				}
				item.CrossSceneObjects = objs
			}
			if d.cfg.Data.Temporal {
				sibling, ok, err := d.sampler.SampleCrossTime(scan)
				if err != nil {
					return nil, err
				}
				if ok {
					item.CrossTimeScanID = sibling
				}
			}
			items = append(items, item)
		}
	}
	if d.cfg.Mode == config.ModeDebugFewScan && len(items) > 1 {
		items = items[:1]
	}
	return items, nil
}

func (d *Dataset) Len() int {
	return len(d.items)
}

func (d *Dataset) Items() []DataItem {
	return d.items
}

// ScanIDs returns the scans that produce items
func (d *Dataset) ScanIDs() []string {
	return d.scanIDs
}

func (d *Dataset) Index() *sceneindex.Index {
	return d.index
}

func (d *Dataset) Objects() *artifact.ObjectTable {
	return d.objects
}

// Item builds the records of item i. The temporal record is nil if the
// dataset is not temporal, or the scan has no sibling.
func (d *Dataset) Item(i int) (*batch.Pair, error) {
	if i < 0 || i >= len(d.items) {
		return nil, fmt.Errorf("Item %v out of range [0, %v)", i, len(d.items))
	}
	item := &d.items[i]
	// Both records see the same augmented frame
	tr := d.sampleAugmentation()
	nt, err := d.buildItem(item, false, tr)
	if err != nil {
		return nil, err
	}
	pair := &batch.Pair{NonTemporal: nt}
	if d.cfg.Data.Temporal {
		if pair.Temporal, err = d.buildItem(item, true, tr); err != nil {
			return nil, err
		}
	}
	return pair, nil
}

// sampleAugmentation draws the next transform from the augmentation stream,
// or returns the identity when augmentation is off.
func (d *Dataset) sampleAugmentation() augment.Transform {
	if !d.augment {
		return augment.Identity()
	}
	d.augLock.Lock()
	defer d.augLock.Unlock()
	return augment.Sample(d.augRand, d.augParam)
}

// Collate splits pairs into a non-temporal and a temporal batch
func (d *Dataset) Collate(pairs []*batch.Pair) (nonTemporal, temporal *batch.Batch, err error) {
	return batch.CollatePairs(pairs)
}
