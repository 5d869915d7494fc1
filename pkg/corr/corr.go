// Package corr builds the patch/object supervision matrices for contrastive training.
package corr

import (
	"fmt"

	"github.com/cyclopcam/roomalign/pkg/patch"
)

// Matrix is a dense row-major matrix of 0/1 flags
type Matrix struct {
	Rows int
	Cols int
	Data []uint8
}

func NewMatrix(rows, cols int) Matrix {
	return Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]uint8, rows*cols),
	}
}

func (m Matrix) At(r, c int) uint8 {
	return m.Data[r*m.Cols+c]
}

func (m Matrix) Set(r, c int, v uint8) {
	m.Data[r*m.Cols+c] = v
}

func (m Matrix) Row(r int) []uint8 {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

// Sum returns the number of 1 entries
func (m Matrix) Sum() int {
	n := 0
	for _, v := range m.Data {
		n += int(v)
	}
	return n
}

// Matrices are the four supervision masks of one item.
// P is the number of patches, O is the number of objects (in-scene + cross-scene).
type Matrices struct {
	PatchObjMatch          Matrix // P x O. 1 where the patch shows the object
	PatchPatchMismatch     Matrix // P x P
	PatchObjMismatch       Matrix // P x O. 1 - PatchObjMatch
	ObjObjCategoryMismatch Matrix // O x O. 1 where the semantic categories differ
}

// Build computes the supervision masks for one patch annotation.
//
// objectIndexMap maps the object ids of the image's scan to object rows. Only
// objects that have an embedding appear in it, so a patch whose object has no
// embedding matches nothing.
// categories holds the semantic category of every object row, so its length
// is the total number of objects, cross-scene objects included.
//
// Patch-patch mismatch: a patch whose id is defined and mapped mismatches
// every other defined patch with a different id. Any other patch mismatches
// everything, itself included.
func Build(anno *patch.Annotation, objectIndexMap map[int32]int, categories []int32) (*Matrices, error) {
	nP := anno.NumPatches()
	nO := len(categories)
	for id, row := range objectIndexMap {
		if row < 0 || row >= nO {
			return nil, fmt.Errorf("Object %v maps to row %v, but there are only %v objects", id, row, nO)
		}
	}

	m := &Matrices{
		PatchObjMatch:          NewMatrix(nP, nO),
		PatchPatchMismatch:     NewMatrix(nP, nP),
		PatchObjMismatch:       NewMatrix(nP, nO),
		ObjObjCategoryMismatch: NewMatrix(nO, nO),
	}

	for i := range m.PatchObjMismatch.Data {
		m.PatchObjMismatch.Data[i] = 1
	}

	for p, id := range anno.IDs {
		row, mapped := objectIndexMap[id]
		if id == patch.Undefined || !mapped {
			fillOnes(m.PatchPatchMismatch.Row(p))
			continue
		}
		m.PatchObjMatch.Set(p, row, 1)
		m.PatchObjMismatch.Set(p, row, 0)
		pp := m.PatchPatchMismatch.Row(p)
		for q, other := range anno.IDs {
			if other != patch.Undefined && other != id {
				pp[q] = 1
			}
		}
	}

	for i := 0; i < nO; i++ {
		row := m.ObjObjCategoryMismatch.Row(i)
		for j := 0; j < nO; j++ {
			if categories[i] != categories[j] {
				row[j] = 1
			}
		}
	}
	return m, nil
}

func fillOnes(row []uint8) {
	for i := range row {
		row[i] = 1
	}
}
