// Package sampler draws cross-scene negative objects and cross-time sibling
// scans for dataset items.
package sampler

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/cyclopcam/roomalign/pkg/sceneindex"
)

var ErrInsufficientCandidates = errors.New("Insufficient candidates")

// ObjectRef identifies one object of one scan
type ObjectRef struct {
	ScanID   string `json:"scan"`
	ObjectID int32  `json:"id"`
	Category int32  `json:"nyu40"`
}

// ObjectCatalog lists the objects of a scan that have a precomputed embedding,
// in embedding order.
type ObjectCatalog interface {
	EmbeddedObjects(scanID string) ([]ObjectRef, error)
}

// Sampler owns a single pseudo-random stream. It is not safe for concurrent use.
// Use Child to give each goroutine its own stream.
type Sampler struct {
	index   *sceneindex.Index
	scans   []string // every scan that may be drawn as a cross-scene negative
	catalog ObjectCatalog
	seed    uint64
	rng     *rand.Rand
}

// New creates a sampler whose candidate scenes are 'scans' (usually every scan
// of the active split, rescans included).
func New(index *sceneindex.Index, scans []string, catalog ObjectCatalog, seed uint64) *Sampler {
	return &Sampler{
		index:   index,
		scans:   slices.Clone(scans),
		catalog: catalog,
		seed:    seed,
		rng:     rand.New(rand.NewPCG(seed, 0)),
	}
}

// Child returns a sampler with an independent stream, derived from this
// sampler's seed and 'key'. The same key always produces the same stream.
func (s *Sampler) Child(key string) *Sampler {
	return &Sampler{
		index:   s.index,
		scans:   s.scans,
		catalog: s.catalog,
		seed:    s.seed,
		rng:     rand.New(rand.NewPCG(s.seed, xxhash.Sum64String(key))),
	}
}

// Rand exposes the underlying stream, for callers that need other kinds of randomness
func (s *Sampler) Rand() *rand.Rand {
	return s.rng
}

// SampleCrossScenes draws numScenes scans that are not captures of scanID's
// room, and then draws numObjects embedded objects from those scans.
// If numObjects is negative, or larger than the pool, the whole pool is returned.
func (s *Sampler) SampleCrossScenes(scanID string, numScenes, numObjects int) ([]ObjectRef, error) {
	if numScenes < 0 {
		return nil, fmt.Errorf("Invalid number of cross scenes %v", numScenes)
	}
	group, err := s.index.GroupOf(scanID)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(s.scans))
	for _, scan := range s.scans {
		if !slices.Contains(group, scan) {
			candidates = append(candidates, scan)
		}
	}
	if numScenes > len(candidates) {
		return nil, fmt.Errorf("%w: %v cross scenes requested for scan '%v', but only %v are available", ErrInsufficientCandidates, numScenes, scanID, len(candidates))
	}
	scenes := drawWithoutReplacement(s.rng, candidates, numScenes)

	pool := []ObjectRef{}
	for _, scene := range scenes {
		objs, err := s.catalog.EmbeddedObjects(scene)
		if err != nil {
			return nil, err
		}
		pool = append(pool, objs...)
	}
	if numObjects < 0 || numObjects >= len(pool) {
		return pool, nil
	}
	return drawWithoutReplacement(s.rng, pool, numObjects), nil
}

// SampleCrossTime picks one of the other captures of scanID's room.
// Returns false if the room was only captured once.
func (s *Sampler) SampleCrossTime(scanID string) (string, bool, error) {
	group, err := s.index.GroupOf(scanID)
	if err != nil {
		return "", false, err
	}
	others := make([]string, 0, len(group))
	for _, scan := range group {
		if scan != scanID {
			others = append(others, scan)
		}
	}
	if len(others) == 0 {
		return "", false, nil
	}
	return others[s.rng.IntN(len(others))], true, nil
}

// Partial Fisher-Yates shuffle. src is not modified.
func drawWithoutReplacement[T any](rng *rand.Rand, src []T, n int) []T {
	tmp := slices.Clone(src)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(tmp)-i)
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp[:n]
}
