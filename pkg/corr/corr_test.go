package corr

import (
	"testing"

	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/stretchr/testify/require"
)

func annotation(rows, cols int, ids ...int32) *patch.Annotation {
	return &patch.Annotation{Rows: rows, Cols: cols, IDs: ids}
}

func TestBuild(t *testing.T) {
	// Scan objects 1, 2, 3 are annotated, but 3 has no embedding, so it has no row.
	// Rows 2 and 3 are cross-scene objects.
	anno := annotation(2, 2, 1, 2, 3, 0)
	rows := map[int32]int{1: 0, 2: 1}
	cats := []int32{5, 6, 5, 7}
	m, err := Build(anno, rows, cats)
	require.NoError(t, err)

	require.Equal(t, 4, m.PatchObjMatch.Rows)
	require.Equal(t, 4, m.PatchObjMatch.Cols)
	require.Equal(t, []uint8{1, 0, 0, 0}, m.PatchObjMatch.Row(0))
	require.Equal(t, []uint8{0, 1, 0, 0}, m.PatchObjMatch.Row(1))
	require.Equal(t, 2, m.PatchObjMatch.Sum())

	// The patch showing object 3 is unmapped
	require.Equal(t, []uint8{0, 0, 0, 0}, m.PatchObjMatch.Row(2))
	require.Equal(t, []uint8{1, 1, 1, 1}, m.PatchObjMismatch.Row(2))

	// Complementarity
	for i := range m.PatchObjMatch.Data {
		require.EqualValues(t, 1, m.PatchObjMatch.Data[i]+m.PatchObjMismatch.Data[i])
	}

	// Distinct defined patches mismatch both ways
	require.EqualValues(t, 1, m.PatchPatchMismatch.At(0, 1))
	require.EqualValues(t, 1, m.PatchPatchMismatch.At(1, 0))
	require.EqualValues(t, 0, m.PatchPatchMismatch.At(0, 0))
	// A defined patch does not mismatch an undefined one...
	require.EqualValues(t, 0, m.PatchPatchMismatch.At(0, 3))
	// ...but undefined and unmapped patches mismatch everything, themselves included
	require.Equal(t, []uint8{1, 1, 1, 1}, m.PatchPatchMismatch.Row(3))
	require.Equal(t, []uint8{1, 1, 1, 1}, m.PatchPatchMismatch.Row(2))

	// Categories
	require.Equal(t, []uint8{0, 1, 0, 1}, m.ObjObjCategoryMismatch.Row(0))
	for i := 0; i < 4; i++ {
		require.EqualValues(t, 0, m.ObjObjCategoryMismatch.At(i, i))
		for j := 0; j < 4; j++ {
			require.Equal(t, m.ObjObjCategoryMismatch.At(i, j), m.ObjObjCategoryMismatch.At(j, i))
		}
	}
}

func TestSameObjectPatches(t *testing.T) {
	anno := annotation(3, 1, 4, 4, 0)
	m, err := Build(anno, map[int32]int{4: 0}, []int32{1})
	require.NoError(t, err)
	require.EqualValues(t, 0, m.PatchPatchMismatch.At(0, 1))
	require.EqualValues(t, 0, m.PatchPatchMismatch.At(1, 0))
	require.Equal(t, []uint8{1, 1, 1}, m.PatchPatchMismatch.Row(2))
	require.Equal(t, []uint8{1, 1, 0}, m.PatchObjMatch.Data)
}

func TestBuildNoObjects(t *testing.T) {
	m, err := Build(annotation(1, 2, 0, 9), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, m.PatchObjMatch.Cols)
	require.Equal(t, 4, m.PatchPatchMismatch.Sum())
	require.Equal(t, 0, m.ObjObjCategoryMismatch.Rows)
}

func TestBuildBadRow(t *testing.T) {
	_, err := Build(annotation(1, 1, 1), map[int32]int{1: 3}, []int32{0})
	require.Error(t, err)
}
