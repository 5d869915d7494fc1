package dataset

import (
	"fmt"

	"github.com/cyclopcam/roomalign/pkg/batch"
	"github.com/cyclopcam/roomalign/pkg/retrieval"
)

// RetrievalResult holds room retrieval metrics for the non-temporal and
// temporal targets.
type RetrievalResult struct {
	NonTemporal retrieval.Summary
	Temporal    retrieval.Summary
}

// patchEmbeddings splits an item's patch features into one vector per patch
func patchEmbeddings(r *batch.ItemResult) [][]float32 {
	n := r.PatchRows * r.PatchCols
	out := make([][]float32, n)
	for p := 0; p < n; p++ {
		out[p] = r.PatchFeatures[p*r.FeatureDim : (p+1)*r.FeatureDim]
	}
	return out
}

// EvaluateRetrieval ranks the candidate rooms of the first 'limit' items
// (all items if limit <= 0). The precomputed patch features are used as the
// patch embeddings, so they must live in the same space as the object
// embeddings. Only val/test datasets record candidates.
func (d *Dataset) EvaluateRetrieval(limit int) (*RetrievalResult, error) {
	if !d.roomRetrieval {
		return nil, fmt.Errorf("Room retrieval is not available for the %v split", d.Split)
	}
	if !d.cfg.Data.ImgEncoding.UseFeature {
		return nil, fmt.Errorf("Room retrieval needs precomputed patch features (data.img_encoding.use_feature)")
	}
	n := d.Len()
	if limit > 0 {
		n = min(n, limit)
	}
	nt := retrieval.NewMetrics()
	tt := retrieval.NewMetrics()
	for i := 0; i < n; i++ {
		pair, err := d.Item(i)
		if err != nil {
			return nil, err
		}
		patches := patchEmbeddings(pair.NonTemporal)
		if _, err := nt.Evaluate(patches, retrieval.Candidates(pair.NonTemporal), pair.NonTemporal.ScanID); err != nil {
			return nil, err
		}
		if pair.Temporal != nil {
			if _, err := tt.Evaluate(patches, retrieval.Candidates(pair.Temporal), pair.Temporal.ScanID); err != nil {
				return nil, err
			}
		}
	}
	res := &RetrievalResult{
		NonTemporal: nt.Summarize("NT"),
		Temporal:    tt.Summarize("T"),
	}
	d.Log.Infof("Room retrieval over %v items: %v (NT), %v (T)", n, res.NonTemporal.Recall, res.Temporal.Recall)
	return res, nil
}
