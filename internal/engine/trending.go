package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/pkg/models"
)

type trendingBucket struct {
	start     time.Time
	weightSum float64
}

// TrendingIndex aggregates kind-weighted interaction mass into hourly
// buckets per product. Scores are decayed against the generation's build
// time, not the wall clock, so identical queries against one generation
// always score identically.
type TrendingIndex struct {
	builtAt  time.Time
	halfLife time.Duration
	buckets  map[uuid.UUID][]trendingBucket
}

// BuildTrendingIndex buckets every event inside the maximum window.
// Narrower query windows are answered by skipping older buckets, so a
// single structure serves any window up to the configured maximum.
func BuildTrendingIndex(
	events []models.InteractionEvent,
	cfg config.TrendingConfig,
	weights *config.WeightConfig,
	builtAt time.Time,
) *TrendingIndex {
	idx := &TrendingIndex{
		builtAt:  builtAt,
		halfLife: cfg.HalfLife,
		buckets:  make(map[uuid.UUID][]trendingBucket),
	}
	cutoff := builtAt.Add(-cfg.MaxWindow)

	for _, ev := range events {
		if ev.Timestamp.Before(cutoff) || ev.Timestamp.After(builtAt) {
			continue
		}
		start := ev.Timestamp.Truncate(time.Hour)
		w := weights.Of(ev.Kind)

		list := idx.buckets[ev.ProductID]
		if n := len(list); n > 0 && list[n-1].start.Equal(start) {
			list[n-1].weightSum += w
		} else {
			list = append(list, trendingBucket{start: start, weightSum: w})
		}
		idx.buckets[ev.ProductID] = list
	}

	return idx
}

func (ti *TrendingIndex) decay(age time.Duration) float64 {
	if ti.halfLife <= 0 {
		return 1
	}
	return math.Exp2(-age.Hours() / ti.halfLife.Hours())
}

func (ti *TrendingIndex) scoreSince(cutoff time.Time) map[uuid.UUID]float64 {
	scores := make(map[uuid.UUID]float64)
	for product, buckets := range ti.buckets {
		var score float64
		for _, b := range buckets {
			if b.start.Before(cutoff) {
				continue
			}
			score += b.weightSum * ti.decay(ti.builtAt.Sub(b.start))
		}
		if score > 0 {
			scores[product] = score
		}
	}
	return scores
}

// TopK returns the k highest-scoring products over the trailing window,
// ties broken by ascending product id. When the window holds fewer than
// k scored products the index degrades to scoring everything it
// retains, so a quiet window still yields the historically most-viewed
// products rather than an empty list.
func (ti *TrendingIndex) TopK(window time.Duration, k int) []models.ScoredProduct {
	scores := ti.scoreSince(ti.builtAt.Add(-window))
	if len(scores) < k {
		// Quiet window: fall back to everything retained.
		scores = ti.scoreSince(time.Time{})
	}

	out := make([]models.ScoredProduct, 0, len(scores))
	for product, score := range scores {
		out = append(out, models.ScoredProduct{ProductID: product, Score: score, Source: "trending"})
	}
	sortScoredDesc(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
