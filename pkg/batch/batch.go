// Package batch collates dataset items into ragged batches.
package batch

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/roomalign/pkg/corr"
	"github.com/cyclopcam/roomalign/pkg/sampler"
)

var ErrShapeMismatch = errors.New("Items in batch have different shapes")

// ItemResult is everything the model needs for one (scan, frame) item
type ItemResult struct {
	ScanID      string // Scan whose objects are in-scene. For temporal items, this is the sibling scan.
	ImageScanID string // Scan that the image was captured in
	FrameIndex  int

	// Either Image or PatchFeatures is populated
	Image           []uint8 // ImageHeight * ImageWidth * 3, RGB
	ImageWidth      int
	ImageHeight     int
	PatchFeatures   []float32 // PatchRows * PatchCols * FeatureDim
	FeatureDim      int
	PatchRows       int
	PatchCols       int
	PatchAnnotation []int32 // PatchRows * PatchCols, flattened

	NumObjects           int                 // In-scene objects. These are rows [0, NumObjects).
	NumCrossSceneObjects int                 // Rows [NumObjects, NumObjects + NumCrossSceneObjects)
	ObjectRows           map[int32]int       // In-scene object id -> row
	RowInfo              []sampler.ObjectRef // Row -> (scan, object, category)
	Embeddings           [][]float32         // Row -> embedding
	Matrices             *corr.Matrices
	CandidateRows        map[string][]int // Scan -> rows of that scan's objects. Only for retrieval (val/test).
}

func (r *ItemResult) TotalObjects() int {
	return r.NumObjects + r.NumCrossSceneObjects
}

// Pair is the result of one dataset access. Temporal is nil if the dataset is
// not temporal, or if the scan has no sibling.
type Pair struct {
	NonTemporal *ItemResult
	Temporal    *ItemResult
}

// Batch stacks the fixed-shape fields of its items, and keeps the variable
// shaped fields per item.
type Batch struct {
	ScanIDs      []string
	ImageScanIDs []string
	FrameIndices []int

	Images        []uint8 // Len() * ImageHeight * ImageWidth * 3
	ImageWidth    int
	ImageHeight   int
	PatchFeatures []float32 // Len() * PatchRows * PatchCols * FeatureDim
	FeatureDim    int
	PatchRows     int
	PatchCols     int

	Items []*ItemResult // Ragged fields, in input order

	// The objects of every item, concatenated, form the global object pool.
	// Item i owns global rows [ObjectOffsets[i], ObjectOffsets[i+1]).
	ObjectOffsets []int
}

// Collate builds a batch from items, dropping nil items.
// Returns nil if every item is nil.
func Collate(items []*ItemResult) (*Batch, error) {
	b := &Batch{
		ObjectOffsets: []int{0},
	}
	for _, it := range items {
		if it == nil {
			continue
		}
		if err := b.add(it); err != nil {
			return nil, err
		}
	}
	if len(b.Items) == 0 {
		return nil, nil
	}
	return b, nil
}

func (b *Batch) add(it *ItemResult) error {
	first := len(b.Items) == 0
	if first {
		b.ImageWidth = it.ImageWidth
		b.ImageHeight = it.ImageHeight
		b.FeatureDim = it.FeatureDim
		b.PatchRows = it.PatchRows
		b.PatchCols = it.PatchCols
	} else if it.ImageWidth != b.ImageWidth || it.ImageHeight != b.ImageHeight || it.FeatureDim != b.FeatureDim ||
		it.PatchRows != b.PatchRows || it.PatchCols != b.PatchCols || (len(it.Image) == 0) != (len(b.Images) == 0) {
		return fmt.Errorf("%w: item %v (scan %v, frame %v)", ErrShapeMismatch, len(b.Items), it.ImageScanID, it.FrameIndex)
	}
	if len(it.Image) != 0 && len(it.Image) != it.ImageWidth*it.ImageHeight*3 {
		return fmt.Errorf("%w: image of scan %v frame %v has %v bytes, expected %v x %v x 3", ErrShapeMismatch, it.ImageScanID, it.FrameIndex, len(it.Image), it.ImageWidth, it.ImageHeight)
	}
	if len(it.PatchFeatures) != it.PatchRows*it.PatchCols*it.FeatureDim && it.FeatureDim != 0 {
		return fmt.Errorf("%w: patch features of scan %v frame %v", ErrShapeMismatch, it.ImageScanID, it.FrameIndex)
	}
	if len(it.RowInfo) != it.TotalObjects() || len(it.Embeddings) != it.TotalObjects() {
		return fmt.Errorf("%w: scan %v frame %v has %v objects, but %v row infos and %v embeddings", ErrShapeMismatch, it.ImageScanID, it.FrameIndex, it.TotalObjects(), len(it.RowInfo), len(it.Embeddings))
	}
	b.ScanIDs = append(b.ScanIDs, it.ScanID)
	b.ImageScanIDs = append(b.ImageScanIDs, it.ImageScanID)
	b.FrameIndices = append(b.FrameIndices, it.FrameIndex)
	b.Images = append(b.Images, it.Image...)
	b.PatchFeatures = append(b.PatchFeatures, it.PatchFeatures...)
	b.Items = append(b.Items, it)
	b.ObjectOffsets = append(b.ObjectOffsets, b.ObjectOffsets[len(b.ObjectOffsets)-1]+it.TotalObjects())
	return nil
}

// CollatePairs collates the non-temporal and temporal halves of dataset accesses.
// Either result may be nil if it has no items.
func CollatePairs(pairs []*Pair) (nonTemporal, temporal *Batch, err error) {
	nt := make([]*ItemResult, 0, len(pairs))
	tt := make([]*ItemResult, 0, len(pairs))
	for _, p := range pairs {
		if p == nil {
			continue
		}
		nt = append(nt, p.NonTemporal)
		tt = append(tt, p.Temporal)
	}
	if nonTemporal, err = Collate(nt); err != nil {
		return nil, nil, err
	}
	if temporal, err = Collate(tt); err != nil {
		return nil, nil, err
	}
	return
}

func (b *Batch) Len() int {
	return len(b.Items)
}

// NumObjects is the size of the global object pool
func (b *Batch) NumObjects() int {
	return b.ObjectOffsets[len(b.ObjectOffsets)-1]
}

// GlobalRow converts an item-local object row to a global pool row
func (b *Batch) GlobalRow(item, row int) int {
	return b.ObjectOffsets[item] + row
}

// Lookup returns the item that owns a global pool row, and the object's identity
func (b *Batch) Lookup(global int) (item int, ref sampler.ObjectRef, err error) {
	if global < 0 || global >= b.NumObjects() {
		return 0, sampler.ObjectRef{}, fmt.Errorf("Global object row %v out of range [0, %v)", global, b.NumObjects())
	}
	// Offsets are sorted, and batches are small
	for item = 0; b.ObjectOffsets[item+1] <= global; item++ {
	}
	return item, b.Items[item].RowInfo[global-b.ObjectOffsets[item]], nil
}

// PoolEmbeddings returns the embeddings of the global object pool, in pool order
func (b *Batch) PoolEmbeddings() [][]float32 {
	all := make([][]float32, 0, b.NumObjects())
	for _, it := range b.Items {
		all = append(all, it.Embeddings...)
	}
	return all
}
