package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/internal/metrics"
	"github.com/merchforge/lattice/pkg/models"
)

type fakeFeed struct {
	mu      sync.Mutex
	events  []models.InteractionEvent
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeFeed) FetchEvents(ctx context.Context, since time.Time) ([]models.InteractionEvent, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.InteractionEvent, 0, len(f.events))
	for _, ev := range f.events {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeFeed) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeCatalog struct {
	mu       sync.Mutex
	products []models.Product
	err      error
}

func (f *fakeCatalog) FetchActiveProducts(ctx context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

func (f *fakeCatalog) setProducts(products []models.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products = products
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]models.ScoredProduct
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]models.ScoredProduct)}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]models.ScoredProduct, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	products, ok := f.entries[key]
	return products, ok
}

func (f *fakeCache) Set(ctx context.Context, key string, products []models.ScoredProduct) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = products
}

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		Weights:    config.WeightConfig{View: 1, Search: 1, Wishlist: 2, Cart: 3, Purchase: 5},
		Vectorizer: config.VectorizerConfig{VocabularySize: 1000, MinTermLength: 2},
		Content:    config.ContentConfig{TopK: 20},
		Collaborative: config.CollaborativeConfig{
			Lookback:        90 * 24 * time.Hour,
			MinInteractions: 2,
			MaxNeighbors:    50,
			ProfileKinds:    []string{"purchase", "cart", "wishlist"},
		},
		Trending: config.TrendingConfig{
			HalfLife:      24 * time.Hour,
			DefaultWindow: 7 * 24 * time.Hour,
			MaxWindow:     30 * 24 * time.Hour,
		},
		Hybrid: config.HybridConfig{RecentItems: 5, NeighborsPerRecent: 5},
		Cache:  config.CacheConfig{Enabled: false, ResultTTL: 15 * time.Minute, KeyPrefix: "rec"},
		Rebuild: config.RebuildConfig{
			Interval:        time.Hour,
			CatalogInterval: 5 * time.Minute,
			FailureAlert:    3,
		},
	}
}

func product(id uuid.UUID, name, description, category string) models.Product {
	return models.Product{
		ID:          id,
		Name:        name,
		Description: description,
		Category:    category,
		Brand:       "acme",
		IsActive:    true,
	}
}

// testFixture is a small catalog with two product clusters and enough
// interaction history to exercise every signal.
type testFixture struct {
	engine  *Engine
	feed    *fakeFeed
	catalog *fakeCatalog
	cache   *fakeCache
	cfg     *config.EngineConfig

	camera1, camera2, camera3 uuid.UUID
	couch1, couch2            uuid.UUID
	alice, bob, carol         uuid.UUID
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	ids := orderedIDs(5)
	f := &testFixture{
		camera1: ids[0], camera2: ids[1], camera3: ids[2],
		couch1: ids[3], couch2: ids[4],
		alice: uuid.UUID{0xA1}, bob: uuid.UUID{0xB1}, carol: uuid.UUID{0xC1},
	}

	f.catalog = &fakeCatalog{products: []models.Product{
		product(f.camera1, "Mirrorless Camera Mark I", "compact mirrorless camera body", "cameras"),
		product(f.camera2, "Mirrorless Camera Mark II", "compact mirrorless camera body improved", "cameras"),
		product(f.camera3, "Camera Tripod", "aluminium tripod for camera", "cameras"),
		product(f.couch1, "Velvet Couch", "three seat velvet couch", "furniture"),
		product(f.couch2, "Velvet Armchair", "single seat velvet armchair", "furniture"),
	}}

	now := time.Now().UTC()
	f.feed = &fakeFeed{events: []models.InteractionEvent{
		event(f.alice, f.camera1, models.InteractionPurchase, now.Add(-30*time.Hour)),
		event(f.alice, f.camera2, models.InteractionPurchase, now.Add(-29*time.Hour)),
		event(f.bob, f.camera1, models.InteractionPurchase, now.Add(-28*time.Hour)),
		event(f.bob, f.camera2, models.InteractionPurchase, now.Add(-27*time.Hour)),
		event(f.bob, f.camera3, models.InteractionPurchase, now.Add(-26*time.Hour)),
		event(f.carol, f.couch1, models.InteractionView, now.Add(-4*time.Hour)),
		event(f.carol, f.couch2, models.InteractionView, now.Add(-3*time.Hour)),
		event(f.carol, f.couch1, models.InteractionView, now.Add(-2*time.Hour)),
	}}

	f.cache = newFakeCache()
	f.cfg = testEngineConfig()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	f.engine = New(f.feed, f.catalog, f.cache, f.cfg, metrics.New(prometheus.NewRegistry()), logger)
	return f
}

func (f *testFixture) rebuild(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Rebuild(context.Background()))
}

func TestEngine_NoGeneration(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, _, err := f.engine.SimilarProducts(ctx, f.camera1, 5, nil)
	assert.ErrorIs(t, err, ErrNoGeneration)
	_, _, err = f.engine.Personalized(ctx, f.alice, 5, nil)
	assert.ErrorIs(t, err, ErrNoGeneration)
	_, _, err = f.engine.Trending(ctx, 0, 5, nil)
	assert.ErrorIs(t, err, ErrNoGeneration)
	assert.Nil(t, f.engine.Current())
}

func TestEngine_SimilarProducts(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)
	ctx := context.Background()

	results, cacheHit, err := f.engine.SimilarProducts(ctx, f.camera1, 3, nil)
	require.NoError(t, err)
	assert.False(t, cacheHit)
	require.NotEmpty(t, results)

	assert.Equal(t, f.camera2, results[0].ProductID, "the near-duplicate camera ranks first")
	for _, r := range results {
		assert.NotEqual(t, f.camera1, r.ProductID, "the queried product never recommends itself")
	}
}

func TestEngine_SimilarProducts_NotFound(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	_, _, err := f.engine.SimilarProducts(context.Background(), uuid.New(), 5, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_SimilarProducts_Exclusion(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	results, _, err := f.engine.SimilarProducts(context.Background(), f.camera1, 5, []uuid.UUID{f.camera2})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, f.camera2, r.ProductID)
	}
}

func TestEngine_Personalized_Collaborative(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	// Alice and bob share two camera purchases; bob additionally bought
	// the tripod, which is the collaborative pick for alice.
	results, _, err := f.engine.Personalized(context.Background(), f.alice, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, f.camera3, results[0].ProductID)
	assert.Equal(t, "collaborative", results[0].Source)

	for _, r := range results {
		assert.NotEqual(t, f.camera1, r.ProductID, "owned products are excluded")
		assert.NotEqual(t, f.camera2, r.ProductID, "owned products are excluded")
	}
}

func TestEngine_Personalized_ColdStartFallsBackToTrending(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	results, _, err := f.engine.Personalized(context.Background(), uuid.New(), 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results, "a customer with no history still gets recommendations")
	for _, r := range results {
		assert.Equal(t, "trending", r.Source)
	}
}

func TestEngine_Personalized_Determinism(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)
	ctx := context.Background()

	first, _, err := f.engine.Personalized(ctx, f.carol, 5, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := f.engine.Personalized(ctx, f.carol, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again, "identical queries against one generation are identical")
	}
}

func TestEngine_Trending(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	results, _, err := f.engine.Trending(context.Background(), 0, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// The camera purchases carry five times the view weight, which the
	// extra day of decay does not burn through.
	assert.Equal(t, f.camera2, results[0].ProductID)

	for i := 1; i < len(results); i++ {
		if results[i-1].Score == results[i].Score {
			assert.True(t, lessID(results[i-1].ProductID, results[i].ProductID))
		} else {
			assert.Greater(t, results[i-1].Score, results[i].Score)
		}
	}
}

func TestEngine_Trending_WindowClamped(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)
	ctx := context.Background()

	capped, _, err := f.engine.Trending(ctx, 365*24*time.Hour, 5, nil)
	require.NoError(t, err)
	atMax, _, err := f.engine.Trending(ctx, f.cfg.Trending.MaxWindow, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, atMax, capped, "windows beyond the maximum are clamped")
}

func TestEngine_FrequentlyBoughtTogether(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)
	ctx := context.Background()

	results, _, err := f.engine.FrequentlyBoughtTogether(ctx, f.camera1, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, f.camera2, results[0].ProductID, "both camera1 buyers also bought camera2")

	// Known product nobody purchased: empty result, not an error.
	results, _, err = f.engine.FrequentlyBoughtTogether(ctx, f.couch1, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, _, err = f.engine.FrequentlyBoughtTogether(ctx, uuid.New(), 5, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_RecentlyViewed(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	results, _, err := f.engine.RecentlyViewed(context.Background(), f.carol, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, f.couch1, results[0].ProductID, "repeat views keep the most recent position")
	assert.Equal(t, f.couch2, results[1].ProductID)
	assert.Equal(t, "recent", results[0].Source)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestEngine_InactiveProductsFiltered(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)
	ctx := context.Background()

	// camera2 is pulled from the catalog between rebuilds; the refreshed
	// active set must filter it from results computed on the old indexes.
	var remaining []models.Product
	for _, p := range f.catalog.products {
		if p.ID != f.camera2 {
			remaining = append(remaining, p)
		}
	}
	f.catalog.setProducts(remaining)
	require.NoError(t, f.engine.RefreshCatalog(ctx))

	results, _, err := f.engine.SimilarProducts(ctx, f.camera1, 5, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, f.camera2, r.ProductID)
	}
}

func TestEngine_CacheRoundTrip(t *testing.T) {
	f := newTestFixture(t)
	f.cfg.Cache.Enabled = true
	f.rebuild(t)
	ctx := context.Background()

	first, cacheHit, err := f.engine.Trending(ctx, 0, 5, nil)
	require.NoError(t, err)
	assert.False(t, cacheHit)

	second, cacheHit, err := f.engine.Trending(ctx, 0, 5, nil)
	require.NoError(t, err)
	assert.True(t, cacheHit)
	assert.Equal(t, first, second)

	// A different exclude set is a different signature.
	_, cacheHit, err = f.engine.Trending(ctx, 0, 5, []uuid.UUID{f.couch1})
	require.NoError(t, err)
	assert.False(t, cacheHit)
}

func TestEngine_RebuildFailureKeepsGeneration(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	previous := f.engine.Current()
	require.NotNil(t, previous)

	f.feed.setError(errors.New("connection refused"))
	err := f.engine.Rebuild(context.Background())
	require.Error(t, err)

	assert.Same(t, previous, f.engine.Current(), "a failed rebuild leaves the last good generation published")
	assert.Equal(t, 1, f.engine.ConsecutiveFailures())

	// Queries keep working off the old generation.
	results, _, qerr := f.engine.Trending(context.Background(), 0, 5, nil)
	require.NoError(t, qerr)
	assert.NotEmpty(t, results)

	// Recovery resets the failure counter.
	f.feed.setError(nil)
	f.rebuild(t)
	assert.Equal(t, 0, f.engine.ConsecutiveFailures())
	assert.Equal(t, previous.Seq+1, f.engine.Current().Seq)
}

func TestEngine_RebuildSingleFlight(t *testing.T) {
	f := newTestFixture(t)
	f.feed.block = make(chan struct{})
	f.feed.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- f.engine.Rebuild(context.Background())
	}()

	// Wait for the first rebuild to reach the blocked feed, then every
	// concurrent trigger must collapse into it.
	<-f.feed.entered
	assert.ErrorIs(t, f.engine.Rebuild(context.Background()), ErrRebuildInProgress)
	assert.ErrorIs(t, f.engine.Rebuild(context.Background()), ErrRebuildInProgress)

	close(f.feed.block)
	require.NoError(t, <-done)
	assert.NotNil(t, f.engine.Current())
}

func TestBuildGeneration_Idempotent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	builtAt := time.Now().UTC()

	g1, err := BuildGeneration(ctx, f.feed, f.catalog, f.cfg, 1, builtAt)
	require.NoError(t, err)
	g2, err := BuildGeneration(ctx, f.feed, f.catalog, f.cfg, 1, builtAt)
	require.NoError(t, err)

	// Unchanged sources and the same reference time yield identical
	// vectors and identical query outputs.
	require.Equal(t, len(g1.Vectors), len(g2.Vectors))
	for id, v1 := range g1.Vectors {
		v2, ok := g2.Vectors[id]
		require.True(t, ok)
		assert.True(t, v1.Equal(v2))
	}

	s1, err := g1.Content.Similar(f.camera1, 10)
	require.NoError(t, err)
	s2, err := g2.Content.Similar(f.camera1, 10)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	assert.Equal(t, g1.Trending.TopK(24*time.Hour, 10), g2.Trending.TopK(24*time.Hour, 10))
	assert.Equal(t, g1.Collaborative.RecommendFor(f.alice, 10), g2.Collaborative.RecommendFor(f.alice, 10))
}

func TestEngine_GenerationSwapIsAtomic(t *testing.T) {
	f := newTestFixture(t)
	f.rebuild(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, _, err := f.engine.Trending(context.Background(), 0, 5, nil)
				assert.NoError(t, err)
				assert.NotEmpty(t, results)
			}
		}()
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Rebuild(context.Background()))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, uint64(4), f.engine.Current().Seq)
}
