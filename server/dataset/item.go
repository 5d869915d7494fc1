package dataset

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/roomalign/pkg/augment"
	"github.com/cyclopcam/roomalign/pkg/batch"
	"github.com/cyclopcam/roomalign/pkg/corr"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/cyclopcam/roomalign/pkg/sampler"
)

// buildItem assembles the record of an item. For the temporal record, the
// objects come from the item's sibling scan, while the image and its
// annotation stay those of the item's own scan. tr is applied to both the
// image and the object id map that the annotation is quantized from.
func (d *Dataset) buildItem(item *DataItem, temporal bool, tr augment.Transform) (*batch.ItemResult, error) {
	scanID := item.ScanID
	if temporal {
		if item.CrossTimeScanID == "" {
			return nil, nil
		}
		scanID = item.CrossTimeScanID
	}
	inScene, err := d.objects.EmbeddedObjects(scanID)
	if err != nil {
		return nil, err
	}

	r := &batch.ItemResult{
		ScanID:               scanID,
		ImageScanID:          item.ScanID,
		FrameIndex:           item.FrameIndex,
		NumObjects:           len(inScene),
		NumCrossSceneObjects: len(item.CrossSceneObjects),
		ObjectRows:           make(map[int32]int, len(inScene)),
	}
	if d.roomRetrieval {
		r.CandidateRows = map[string][]int{}
	}
	addRow := func(ref sampler.ObjectRef) error {
		emb, err := d.objects.Embedding(ref.ScanID, ref.ObjectID)
		if err != nil {
			return err
		}
		row := len(r.RowInfo)
		r.RowInfo = append(r.RowInfo, ref)
		r.Embeddings = append(r.Embeddings, emb)
		if r.CandidateRows != nil {
			r.CandidateRows[ref.ScanID] = append(r.CandidateRows[ref.ScanID], row)
		}
		return nil
	}
	for _, ref := range inScene {
		r.ObjectRows[ref.ObjectID] = len(r.RowInfo)
		if err := addRow(ref); err != nil {
			return nil, err
		}
	}
	for _, ref := range item.CrossSceneObjects {
		if err := addRow(ref); err != nil {
			return nil, err
		}
	}

	anno, err := d.annotation(item, tr)
	if err != nil {
		return nil, err
	}
	r.PatchRows = anno.Rows
	r.PatchCols = anno.Cols
	r.PatchAnnotation = anno.IDs

	if d.cfg.Data.ImgEncoding.UseFeature {
		f := d.features[item.ScanID][item.FrameIndex]
		if f.Rows != anno.Rows || f.Cols != anno.Cols {
			return nil, fmt.Errorf("Patch features of scan %v frame %v are %v x %v, but the patch grid is %v x %v", item.ScanID, item.FrameIndex, f.Rows, f.Cols, anno.Rows, anno.Cols)
		}
		r.PatchFeatures = f.Data
		r.FeatureDim = f.Dim
	} else {
		img, err := d.loadImage(item.ImagePath)
		if err != nil {
			return nil, err
		}
		r.Image = img.pixels
		if tr.IsGeometric() || tr.IsPhotometric() {
			r.Image = tr.ApplyRGB(img.pixels, img.width, img.height)
		}
		r.ImageWidth = img.width
		r.ImageHeight = img.height
	}

	categories := make([]int32, len(r.RowInfo))
	for i, ref := range r.RowInfo {
		categories[i] = ref.Category
	}
	if r.Matrices, err = corr.Build(anno, r.ObjectRows, categories); err != nil {
		return nil, err
	}
	return r, nil
}

// annotation returns the patch annotation of an item's frame, at the encoder
// resolution and orientation. When rotated, the patch grid is transposed.
// The geometry of tr is applied to the id map before quantization.
func (d *Dataset) annotation(item *DataItem, tr augment.Transform) (*patch.Annotation, error) {
	enc := &d.cfg.Data.ImgEncoding
	if enc.UsePatchAnnoCache {
		// The cache is shared by every item of the frame, so never hand it out
		a := d.patchAnnos[item.ScanID][item.FrameIndex]
		if enc.ImgRotate {
			return a.Rotate90(), nil
		}
		return a.Clone(), nil
	}
	img := d.idMaps[item.ScanID][item.FrameIndex]
	if enc.ResizeW > 0 && enc.ResizeH > 0 {
		img = patch.ResizeNearest(img, enc.ResizeW, enc.ResizeH)
	}
	rows, cols := enc.PatchH, enc.PatchW
	if enc.ImgRotate {
		img = patch.Rotate90(img)
		rows, cols = cols, rows
	}
	img = tr.ApplyIDs(img)
	a, err := patch.Quantize(img, rows, cols, enc.PatchAnnoThreshold)
	if err != nil {
		return nil, fmt.Errorf("Scan %v frame %v: %w", item.ScanID, item.FrameIndex, err)
	}
	return a, nil
}

type rgbImage struct {
	width  int
	height int
	pixels []uint8 // packed RGB
}

// loadImage decodes, resizes and optionally rotates a color frame.
// Results are shared through the image cache, so callers must not modify them.
func (d *Dataset) loadImage(path string) (*rgbImage, error) {
	if d.images != nil {
		if v, ok := d.images.Get(path); ok {
			return v.(*rgbImage), nil
		}
	}
	enc := &d.cfg.Data.ImgEncoding
	src, err := cimg.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read image %v: %w", path, err)
	}
	src = src.ToRGB()
	if src.Width != enc.ResizeW || src.Height != enc.ResizeH {
		src = cimg.ResizeNew(src, enc.ResizeW, enc.ResizeH, nil)
	}
	img := &rgbImage{
		width:  src.Width,
		height: src.Height,
		pixels: make([]uint8, src.Width*src.Height*3),
	}
	rowBytes := src.Width * 3
	for y := 0; y < src.Height; y++ {
		copy(img.pixels[y*rowBytes:(y+1)*rowBytes], src.Pixels[y*src.Stride:y*src.Stride+rowBytes])
	}
	if enc.ImgRotate {
		img.pixels = patch.RotatePixels(img.pixels, img.width, img.height, 3)
		img.width, img.height = img.height, img.width
	}
	if d.images != nil {
		d.images.Set(path, img, int64(len(img.pixels)))
	}
	return img, nil
}
