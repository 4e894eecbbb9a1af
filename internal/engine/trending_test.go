package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/pkg/models"
)

func trendingConfig() config.TrendingConfig {
	return config.TrendingConfig{
		HalfLife:      24 * time.Hour,
		DefaultWindow: 7 * 24 * time.Hour,
		MaxWindow:     30 * 24 * time.Hour,
	}
}

func TestTrendingIndex_KindWeighting(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	viewed, purchased := uuid.UUID{1}, uuid.UUID{2}
	at := builtAt.Add(-time.Hour)

	events := []models.InteractionEvent{
		event(uuid.New(), viewed, models.InteractionView, at),
		event(uuid.New(), purchased, models.InteractionPurchase, at),
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	results := idx.TopK(24*time.Hour, 2)
	require.Len(t, results, 2)
	assert.Equal(t, purchased, results[0].ProductID, "one purchase outweighs one view at equal age")
	assert.Equal(t, "trending", results[0].Source)
	assert.InDelta(t, 5.0, results[0].Score/results[1].Score, 1e-9)
}

func TestTrendingIndex_DecayFavorsRecent(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old, fresh := uuid.UUID{1}, uuid.UUID{2}

	events := []models.InteractionEvent{
		event(uuid.New(), old, models.InteractionView, builtAt.Add(-72*time.Hour)),
		event(uuid.New(), fresh, models.InteractionView, builtAt.Add(-time.Hour)),
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	results := idx.TopK(7*24*time.Hour, 2)
	require.Len(t, results, 2)
	assert.Equal(t, fresh, results[0].ProductID)
	// Three days at a 24h half-life costs three doublings.
	assert.InDelta(t, 8.0, results[0].Score/results[1].Score, 0.5)
}

func TestTrendingIndex_WindowFilter(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inside, outside := uuid.UUID{1}, uuid.UUID{2}

	events := []models.InteractionEvent{
		event(uuid.New(), inside, models.InteractionView, builtAt.Add(-time.Hour)),
		event(uuid.New(), outside, models.InteractionView, builtAt.Add(-48*time.Hour)),
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	// k=1 keeps the fallback from triggering; the 24h window must only
	// see the recent product.
	results := idx.TopK(24*time.Hour, 1)
	require.Len(t, results, 1)
	assert.Equal(t, inside, results[0].ProductID)
}

func TestTrendingIndex_QuietWindowFallback(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p1, p2 := uuid.UUID{1}, uuid.UUID{2}

	// All activity is older than the queried window.
	events := []models.InteractionEvent{
		event(uuid.New(), p1, models.InteractionPurchase, builtAt.Add(-5*24*time.Hour)),
		event(uuid.New(), p2, models.InteractionView, builtAt.Add(-6*24*time.Hour)),
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	results := idx.TopK(24*time.Hour, 2)
	require.Len(t, results, 2, "a quiet window falls back to all retained activity")
	assert.Equal(t, p1, results[0].ProductID)
}

func TestTrendingIndex_MaxWindowCutoff(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ancient := uuid.UUID{1}

	events := []models.InteractionEvent{
		event(uuid.New(), ancient, models.InteractionPurchase, builtAt.Add(-31*24*time.Hour)),
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	assert.Empty(t, idx.TopK(7*24*time.Hour, 10), "events beyond the maximum window are never retained")
}

func TestTrendingIndex_TieBreak(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ids := orderedIDs(3)
	at := builtAt.Add(-time.Hour)

	events := []models.InteractionEvent{
		event(uuid.New(), ids[2], models.InteractionView, at),
		event(uuid.New(), ids[0], models.InteractionView, at),
		event(uuid.New(), ids[1], models.InteractionView, at),
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	results := idx.TopK(24*time.Hour, 3)
	require.Len(t, results, 3)
	assert.Equal(t, ids[0], results[0].ProductID)
	assert.Equal(t, ids[1], results[1].ProductID)
	assert.Equal(t, ids[2], results[2].ProductID)
}

func TestTrendingIndex_Determinism(t *testing.T) {
	builtAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ids := orderedIDs(5)

	var events []models.InteractionEvent
	for i, id := range ids {
		events = append(events, event(uuid.New(), id, models.InteractionPurchase, builtAt.Add(-time.Duration(i+1)*time.Hour)))
	}

	idx := BuildTrendingIndex(events, trendingConfig(), defaultWeights(), builtAt)

	first := idx.TopK(24*time.Hour, 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, idx.TopK(24*time.Hour, 5))
	}
}
