// Package sceneindex tracks which scans are captures of the same room, and
// which rooms belong to which data split.
package sceneindex

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cyclopcam/roomalign/pkg/gen"
)

var ErrKeyNotFound = errors.New("Key not found")
var ErrDuplicateScan = errors.New("Scan appears in more than one reference group")

// ScanRecord is one entry of a group's "scans" list in 3RScan.json
type ScanRecord struct {
	Reference string `json:"reference"`
}

// Group is one record of 3RScan.json: a reference scan and its rescans
type Group struct {
	Reference string       `json:"reference"`
	Type      string       `json:"type,omitempty"`
	Scans     []ScanRecord `json:"scans"`
}

// Index is immutable after New, and safe to share between goroutines
type Index struct {
	refOf     map[string]string   // scan -> reference
	siblings  map[string][]string // reference -> [reference, rescans...]
	refs      []string            // all references, in table order
	splitOf   map[string]string   // reference -> split
	splitRefs map[string][]string // split -> references, in split file order
}

// New builds an index from the scan relationship table and the split membership lists.
// splits maps a split name (eg "train") to the reference scans in that split.
func New(groups []Group, splits map[string][]string) (*Index, error) {
	idx := &Index{
		refOf:     map[string]string{},
		siblings:  map[string][]string{},
		splitOf:   map[string]string{},
		splitRefs: map[string][]string{},
	}
	add := func(scan, ref string) error {
		if prev, ok := idx.refOf[scan]; ok {
			return fmt.Errorf("%w: '%v' is in groups '%v' and '%v'", ErrDuplicateScan, scan, prev, ref)
		}
		idx.refOf[scan] = ref
		idx.siblings[ref] = append(idx.siblings[ref], scan)
		return nil
	}
	for _, g := range groups {
		if g.Reference == "" {
			return nil, fmt.Errorf("Reference group with empty reference id")
		}
		if err := add(g.Reference, g.Reference); err != nil {
			return nil, err
		}
		idx.refs = append(idx.refs, g.Reference)
		for _, s := range g.Scans {
			if err := add(s.Reference, g.Reference); err != nil {
				return nil, err
			}
		}
	}
	for split, refs := range splits {
		list := make([]string, 0, len(refs))
		for _, ref := range refs {
			if _, ok := idx.siblings[ref]; !ok {
				return nil, fmt.Errorf("%w: split '%v' names reference scan '%v', which is not in the scan table", ErrKeyNotFound, split, ref)
			}
			if prev, ok := idx.splitOf[ref]; ok && prev != split {
				return nil, fmt.Errorf("Reference scan '%v' is in splits '%v' and '%v'", ref, prev, split)
			}
			idx.splitOf[ref] = split
			list = append(list, ref)
		}
		idx.splitRefs[split] = list
	}
	return idx, nil
}

// ReferenceOf returns the reference scan of the room that 'scan' captures
func (x *Index) ReferenceOf(scan string) (string, error) {
	ref, ok := x.refOf[scan]
	if !ok {
		return "", fmt.Errorf("%w: scan '%v'", ErrKeyNotFound, scan)
	}
	return ref, nil
}

// SiblingsOf returns every scan of a room, the reference first.
// The returned slice must not be modified.
func (x *Index) SiblingsOf(ref string) ([]string, error) {
	s, ok := x.siblings[ref]
	if !ok {
		return nil, fmt.Errorf("%w: reference scan '%v'", ErrKeyNotFound, ref)
	}
	return s, nil
}

// GroupOf returns the siblings of the room that 'scan' belongs to
func (x *Index) GroupOf(scan string) ([]string, error) {
	ref, err := x.ReferenceOf(scan)
	if err != nil {
		return nil, err
	}
	return x.SiblingsOf(ref)
}

// ScansInSplit returns the reference scans of a split, in split file order.
// If includeRescans is true, each reference is followed by its rescans.
func (x *Index) ScansInSplit(split string, includeRescans bool) ([]string, error) {
	refs, ok := x.splitRefs[split]
	if !ok {
		return nil, fmt.Errorf("%w: split '%v'", ErrKeyNotFound, split)
	}
	if !includeRescans {
		return slices.Clone(refs), nil
	}
	all := []string{}
	for _, ref := range refs {
		all = append(all, x.siblings[ref]...)
	}
	return all, nil
}

// SplitOf returns the split that a scan's room belongs to
func (x *Index) SplitOf(scan string) (string, error) {
	ref, err := x.ReferenceOf(scan)
	if err != nil {
		return "", err
	}
	split, ok := x.splitOf[ref]
	if !ok {
		return "", fmt.Errorf("%w: reference scan '%v' is not in any split", ErrKeyNotFound, ref)
	}
	return split, nil
}

// Splits returns the split names, sorted
func (x *Index) Splits() []string {
	return gen.SortedKeys(x.splitRefs)
}

// References returns every reference scan, in table order
func (x *Index) References() []string {
	return slices.Clone(x.refs)
}

// Len returns the number of scans, counting rescans
func (x *Index) Len() int {
	return len(x.refOf)
}

// Has returns true if the scan is known
func (x *Index) Has(scan string) bool {
	_, ok := x.refOf[scan]
	return ok
}
