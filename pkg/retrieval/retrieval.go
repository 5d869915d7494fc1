// Package retrieval ranks candidate rooms for an image, by matching the image's
// patch embeddings against each room's object embeddings.
package retrieval

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/roomalign/pkg/batch"
	"github.com/cyclopcam/roomalign/pkg/perfstats"
	"github.com/cyclopcam/roomalign/pkg/stats"
)

// Recall is reported at these ranks
var TopK = []int{1, 3, 5}

// Normalize returns a unit length copy of v. Zero vectors stay zero.
func Normalize(v []float32) []float32 {
	sum := float32(0)
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math32.Sqrt(sum)
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func dot(a, b []float32) float32 {
	s := float32(0)
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func normalizeAll(vs [][]float32) [][]float32 {
	out := make([][]float32, len(vs))
	for i, v := range vs {
		out[i] = Normalize(v)
	}
	return out
}

// RoomScore is the score of one candidate scan
type RoomScore struct {
	ScanID string
	Score  float32
}

// ScoreRooms scores each candidate scan by summing, over all patches, the
// best cosine similarity between the patch and any object of that scan.
// The result is sorted by descending score, with ties in ascending scan id order.
func ScoreRooms(patches [][]float32, candidates map[string][][]float32) ([]RoomScore, error) {
	np := normalizeAll(patches)
	scores := make([]RoomScore, 0, len(candidates))
	for scan, objs := range candidates {
		if len(objs) == 0 {
			scores = append(scores, RoomScore{ScanID: scan, Score: math32.Inf(-1)})
			continue
		}
		no := normalizeAll(objs)
		total := float32(0)
		for _, p := range np {
			best := math32.Inf(-1)
			for _, o := range no {
				if len(o) != len(p) {
					return nil, fmt.Errorf("Patch embedding has %v dimensions, but object embedding of scan %v has %v", len(p), scan, len(o))
				}
				best = max(best, dot(p, o))
			}
			total += best
		}
		scores = append(scores, RoomScore{ScanID: scan, Score: total})
	}
	slices.SortFunc(scores, func(a, b RoomScore) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ScanID, b.ScanID)
	})
	return scores, nil
}

// MatchObjects returns, for every patch, the index of the most similar object
func MatchObjects(patches, objects [][]float32) []int {
	np := normalizeAll(patches)
	no := normalizeAll(objects)
	out := make([]int, len(np))
	for i, p := range np {
		best := math32.Inf(-1)
		out[i] = -1
		for j, o := range no {
			if s := dot(p, o); s > best {
				best = s
				out[i] = j
			}
		}
	}
	return out
}

// Rank returns the 1-based rank of target in scores, or 0 if it is absent
func Rank(scores []RoomScore, target string) int {
	for i, s := range scores {
		if s.ScanID == target {
			return i + 1
		}
	}
	return 0
}

// Candidates groups an item's object embeddings by candidate scan, using the
// item's CandidateRows.
func Candidates(item *batch.ItemResult) map[string][][]float32 {
	out := make(map[string][][]float32, len(item.CandidateRows))
	for scan, rows := range item.CandidateRows {
		embs := make([][]float32, 0, len(rows))
		for _, r := range rows {
			embs = append(embs, item.Embeddings[r])
		}
		out[scan] = embs
	}
	return out
}

// Metrics accumulates recall@k, rank statistics and timing for one retrieval task
type Metrics struct {
	Recall map[int]*perfstats.Counter
	Ranks  []int
	Time   perfstats.TimeAccumulator
}

func NewMetrics() *Metrics {
	m := &Metrics{Recall: map[int]*perfstats.Counter{}}
	for _, k := range TopK {
		m.Recall[k] = &perfstats.Counter{}
	}
	return m
}

// Evaluate scores one image against its candidates and records the outcome
func (m *Metrics) Evaluate(patches [][]float32, candidates map[string][][]float32, target string) ([]RoomScore, error) {
	start := time.Now()
	scores, err := ScoreRooms(patches, candidates)
	if err != nil {
		return nil, err
	}
	m.Time.AddSample(time.Since(start))
	rank := Rank(scores, target)
	for _, k := range TopK {
		m.Recall[k].Add(rank != 0 && rank <= k)
	}
	if rank != 0 {
		m.Ranks = append(m.Ranks, rank)
	}
	return scores, nil
}

// Summary is a flat view of Metrics, suitable for logging or JSON
type Summary struct {
	Samples    int64              `json:"samples"`
	Recall     map[string]float64 `json:"recall"`
	MeanRank   float64            `json:"meanRank"`
	MedianRank float64            `json:"medianRank"`
	Time       time.Duration      `json:"time"`
}

// Summarize reports recall under the names R@<k>_<suffix>, eg R@1_NT
func (m *Metrics) Summarize(suffix string) Summary {
	s := Summary{
		Recall:     map[string]float64{},
		MeanRank:   stats.Mean(m.Ranks),
		MedianRank: stats.Median(m.Ranks),
		Time:       m.Time.Average(),
	}
	for _, k := range TopK {
		c := m.Recall[k]
		s.Samples = c.Total
		s.Recall[fmt.Sprintf("R@%v_%v", k, suffix)] = c.Rate()
	}
	return s
}
