package artifact

import (
	"fmt"

	"github.com/cyclopcam/roomalign/pkg/sampler"
	"github.com/cyclopcam/roomalign/pkg/sceneindex"
)

// ObjectTable joins object embeddings with object categories.
// It is immutable after construction, and implements sampler.ObjectCatalog.
type ObjectTable struct {
	embeddings map[string]Embeddings
	categories map[string]map[int32]int32
	embedded   map[string][]sampler.ObjectRef // scan -> objects with an embedding, ascending id
}

// NewObjectTable checks that every embedded object has a category.
// categories may hold scans and objects that have no embedding. Those are ignored.
func NewObjectTable(embeddings map[string]Embeddings, categories map[string]map[int32]int32) (*ObjectTable, error) {
	t := &ObjectTable{
		embeddings: embeddings,
		categories: categories,
		embedded:   make(map[string][]sampler.ObjectRef, len(embeddings)),
	}
	for scan, emb := range embeddings {
		cats, ok := categories[scan]
		if !ok && len(emb) != 0 {
			return nil, fmt.Errorf("%w: scan '%v' has embeddings, but no object metadata", sceneindex.ErrKeyNotFound, scan)
		}
		refs := make([]sampler.ObjectRef, 0, len(emb))
		for _, id := range emb.SortedIDs() {
			cat, ok := cats[id]
			if !ok {
				return nil, fmt.Errorf("%w: object %v of scan '%v' has an embedding, but no object metadata", sceneindex.ErrKeyNotFound, id, scan)
			}
			refs = append(refs, sampler.ObjectRef{ScanID: scan, ObjectID: id, Category: cat})
		}
		t.embedded[scan] = refs
	}
	return t, nil
}

// EmbeddedObjects returns the objects of a scan that have an embedding, in ascending id order
func (t *ObjectTable) EmbeddedObjects(scanID string) ([]sampler.ObjectRef, error) {
	refs, ok := t.embedded[scanID]
	if !ok {
		return nil, fmt.Errorf("%w: no embeddings for scan '%v'", sceneindex.ErrKeyNotFound, scanID)
	}
	return refs, nil
}

// Embedding returns the embedding of one object
func (t *ObjectTable) Embedding(scanID string, objectID int32) ([]float32, error) {
	v, ok := t.embeddings[scanID][objectID]
	if !ok {
		return nil, fmt.Errorf("%w: no embedding for object %v of scan '%v'", sceneindex.ErrKeyNotFound, objectID, scanID)
	}
	return v, nil
}

// NumScans returns the number of scans with embeddings
func (t *ObjectTable) NumScans() int {
	return len(t.embeddings)
}
