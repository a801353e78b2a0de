package memory

import (
	"math"
	"sort"
	"time"
)

// RankWeights are the tunable relevance coefficients. The defaults order
// correctly for the retrieval contract; they are not claimed optimal.
type RankWeights struct {
	TagOverlap float64
	Recency    float64
	Importance float64
	HalfLife   time.Duration
}

func DefaultRankWeights() RankWeights {
	return RankWeights{
		TagOverlap: 1.0,
		Recency:    0.5,
		Importance: 0.3,
		HalfLife:   72 * time.Hour,
	}
}

// Score computes the relevance of a record for a set of query tags:
// tag-overlap count, exponential recency decay on lastAccessedAt, and
// stored importance, each weighted.
func (w RankWeights) Score(r Record, queryTags map[string]struct{}, now time.Time) float64 {
	overlap := 0
	for _, tag := range r.Tags {
		if _, ok := queryTags[tag]; ok {
			overlap++
		}
	}
	return w.TagOverlap*float64(overlap) +
		w.Recency*recencyWeight(r.LastAccessedAt, now, w.HalfLife) +
		w.Importance*float64(r.Importance)
}

// recencyWeight decays from 1.0 toward 0 as the record ages past its
// last access, halving every halfLife.
func recencyWeight(lastAccessed, now time.Time, halfLife time.Duration) float64 {
	if lastAccessed.IsZero() || halfLife <= 0 {
		return 0
	}
	age := now.Sub(lastAccessed)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

// rankRecords orders records by descending score. Ties break by
// more-recent createdAt, then by insertion sequence, so identical store
// state and query always produce identical ordering.
func rankRecords(records []Record, queryTags []string, now time.Time, w RankWeights) []Record {
	tagSet := make(map[string]struct{}, len(queryTags))
	for _, t := range queryTags {
		tagSet[t] = struct{}{}
	}

	scores := make(map[string]float64, len(records))
	for _, r := range records {
		scores[r.ID] = w.Score(r, tagSet, now)
	}

	sort.SliceStable(records, func(i, j int) bool {
		si, sj := scores[records[i].ID], scores[records[j].ID]
		if si != sj {
			return si > sj
		}
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].seq < records[j].seq
	})
	return records
}
