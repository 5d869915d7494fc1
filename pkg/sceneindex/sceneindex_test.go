package sceneindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testGroups() []Group {
	return []Group{
		{Reference: "A", Scans: []ScanRecord{{"B"}, {"C"}}},
		{Reference: "D", Scans: []ScanRecord{{"E"}}},
		{Reference: "F"},
	}
}

func TestIndex(t *testing.T) {
	idx, err := New(testGroups(), map[string][]string{
		"train": {"D", "A"},
		"val":   {"F"},
	})
	require.NoError(t, err)
	require.Equal(t, 6, idx.Len())

	sib, err := idx.SiblingsOf("A")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, sib)

	ref, err := idx.ReferenceOf("B")
	require.NoError(t, err)
	require.Equal(t, "A", ref)

	ref, err = idx.ReferenceOf("A")
	require.NoError(t, err)
	require.Equal(t, "A", ref)

	g, err := idx.GroupOf("C")
	require.NoError(t, err)
	require.Equal(t, sib, g)

	refs, err := idx.ScansInSplit("train", false)
	require.NoError(t, err)
	require.Equal(t, []string{"D", "A"}, refs)

	all, err := idx.ScansInSplit("train", true)
	require.NoError(t, err)
	require.Equal(t, []string{"D", "E", "A", "B", "C"}, all)

	split, err := idx.SplitOf("E")
	require.NoError(t, err)
	require.Equal(t, "train", split)

	require.Equal(t, []string{"train", "val"}, idx.Splits())
	require.Equal(t, []string{"A", "D", "F"}, idx.References())
	require.True(t, idx.Has("E"))
	require.False(t, idx.Has("Z"))
}

func TestPartition(t *testing.T) {
	idx, err := New(testGroups(), nil)
	require.NoError(t, err)
	// Every scan is in exactly one group, and the group agrees with ReferenceOf
	seen := map[string]int{}
	for _, ref := range idx.References() {
		sib, err := idx.SiblingsOf(ref)
		require.NoError(t, err)
		require.Equal(t, ref, sib[0])
		for _, s := range sib {
			seen[s]++
			r, err := idx.ReferenceOf(s)
			require.NoError(t, err)
			require.Equal(t, ref, r)
		}
	}
	require.Len(t, seen, idx.Len())
	for _, n := range seen {
		require.Equal(t, 1, n)
	}
}

func TestUnknownKeys(t *testing.T) {
	idx, err := New(testGroups(), map[string][]string{"train": {"A"}})
	require.NoError(t, err)

	_, err = idx.ReferenceOf("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)

	// B is a scan but not a reference
	_, err = idx.SiblingsOf("B")
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = idx.ScansInSplit("test", false)
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = idx.SplitOf("D")
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = New(testGroups(), map[string][]string{"train": {"Q"}})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDuplicateScan(t *testing.T) {
	groups := append(testGroups(), Group{Reference: "G", Scans: []ScanRecord{{"B"}}})
	_, err := New(groups, nil)
	require.ErrorIs(t, err, ErrDuplicateScan)
}
