package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/internal/metrics"
	"github.com/merchforge/lattice/pkg/models"
)

// ServingLog records served rankings for offline analysis. Implemented
// by the Postgres store; always written best-effort off the hot path.
type ServingLog interface {
	RecordServing(ctx context.Context, entry models.ServingLogEntry) error
}

type catalogSet map[uuid.UUID]struct{}

// Engine is the query-facing façade over the currently published
// generation. All shared mutable state is the published-generation
// pointer, the live active-product set, the rebuild-in-progress flag
// and the external result cache; the generations themselves are
// immutable once published.
type Engine struct {
	feed    InteractionFeed
	catalog CatalogSource
	cache   ResultCache
	cfg     *config.EngineConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger

	servingLog ServingLog

	current    atomic.Pointer[Generation]
	active     atomic.Pointer[catalogSet]
	rebuilding atomic.Bool
	seq        atomic.Uint64
	failures   atomic.Int64
}

func New(
	feed InteractionFeed,
	catalog CatalogSource,
	cache ResultCache,
	cfg *config.EngineConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		feed:    feed,
		catalog: catalog,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// SetServingLog wires the optional serving log sink.
func (e *Engine) SetServingLog(log ServingLog) { e.servingLog = log }

// Current returns the published generation, nil before the first
// successful rebuild.
func (e *Engine) Current() *Generation {
	return e.current.Load()
}

// ConsecutiveFailures returns the number of rebuild cycles that have
// failed since the last successful publish.
func (e *Engine) ConsecutiveFailures() int {
	return int(e.failures.Load())
}

// Rebuild constructs a fresh generation and atomically publishes it.
// Concurrent triggers collapse: while one rebuild is in flight any
// other call returns ErrRebuildInProgress without doing work. A failed
// rebuild leaves the previous generation published.
func (e *Engine) Rebuild(ctx context.Context) error {
	if !e.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}
	defer e.rebuilding.Store(false)

	start := time.Now()
	gen, err := BuildGeneration(ctx, e.feed, e.catalog, e.cfg, e.seq.Load()+1, start)
	if err != nil {
		e.failures.Add(1)
		e.metrics.RebuildTotal.WithLabelValues("failure").Inc()
		e.logger.WithError(err).WithField("consecutive_failures", e.failures.Load()).
			Error("Rebuild failed, keeping previous generation")
		return err
	}

	e.seq.Store(gen.Seq)
	e.current.Store(gen)
	e.publishActiveSet(gen.Catalog)
	e.failures.Store(0)

	elapsed := time.Since(start)
	e.metrics.RebuildTotal.WithLabelValues("success").Inc()
	e.metrics.RebuildDuration.Observe(elapsed.Seconds())
	e.metrics.GenerationSeq.Set(float64(gen.Seq))
	e.metrics.GenerationAge.Set(0)

	e.logger.WithFields(logrus.Fields{
		"generation": gen.Seq,
		"products":   len(gen.Catalog),
		"vectors":    len(gen.Vectors),
		"elapsed":    elapsed,
	}).Info("Published new generation")

	return nil
}

// RefreshCatalog swaps only the live active-product set, bounding the
// staleness of the inactive-product filter between full rebuilds.
func (e *Engine) RefreshCatalog(ctx context.Context) error {
	products, err := e.catalog.FetchActiveProducts(ctx)
	if err != nil {
		return err
	}
	set := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		if p.IsActive {
			set[p.ID] = p
		}
	}
	e.publishActiveSet(set)
	return nil
}

func (e *Engine) publishActiveSet(catalog map[uuid.UUID]models.Product) {
	set := make(catalogSet, len(catalog))
	for id := range catalog {
		set[id] = struct{}{}
	}
	e.active.Store(&set)
}

func (e *Engine) isActive(productID uuid.UUID) bool {
	set := e.active.Load()
	if set == nil {
		return false
	}
	_, ok := (*set)[productID]
	return ok
}

// SimilarProducts answers with the precomputed content neighbors of a
// product. Products excluded from the content index for degenerate text
// fall back to co-purchase and trending signals. Unknown product ids
// yield ErrNotFound.
func (e *Engine) SimilarProducts(ctx context.Context, productID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error) {
	gen := e.current.Load()
	if gen == nil {
		return nil, false, ErrNoGeneration
	}
	if !gen.IsActive(productID) {
		return nil, false, ErrNotFound
	}

	key := cacheKey(e.cfg.Cache.KeyPrefix, "similar", productID.String(), k, 0, exclude)
	if cached, ok := e.cacheGet(ctx, key); ok {
		return cached, true, nil
	}
	defer e.observe("similar_products", time.Now())

	results, err := gen.Content.Similar(productID, k+len(exclude))
	if err != nil {
		// In the catalog but not vectorizable: degrade to co-purchase,
		// padded with trending.
		results = gen.Collaborative.FrequentlyBoughtTogether(productID, k+len(exclude))
		results = padWith(results, gen.Trending.TopK(e.cfg.Trending.DefaultWindow, 2*k+len(exclude)), k+len(exclude))
	}

	results = e.finalize(results, k, excludeSet(exclude, productID))
	e.cacheSet(ctx, key, results)
	e.logServing(ctx, "similar_products", &productID, results)
	return results, false, nil
}

// Personalized runs the hybrid fallback chain: collaborative first,
// then content neighbors of the customer's recent products, then
// trending padding. Relative order is collaborative > content >
// trending; the final list is deduplicated, capped at k and filtered
// against the live catalog. A customer with no history gets pure
// trending output, never an error.
func (e *Engine) Personalized(ctx context.Context, customerID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error) {
	gen := e.current.Load()
	if gen == nil {
		return nil, false, ErrNoGeneration
	}

	key := cacheKey(e.cfg.Cache.KeyPrefix, "personalized", customerID.String(), k, 0, exclude)
	if cached, ok := e.cacheGet(ctx, key); ok {
		return cached, true, nil
	}
	defer e.observe("personalized", time.Now())

	owned := make(map[uuid.UUID]struct{})
	for product := range gen.Collaborative.Profile(customerID) {
		owned[product] = struct{}{}
	}
	for _, product := range gen.Collaborative.RecentProducts(customerID, 0) {
		owned[product] = struct{}{}
	}

	skip := excludeSet(exclude)
	for product := range owned {
		skip[product] = struct{}{}
	}

	results := e.finalize(gen.Collaborative.RecommendFor(customerID, 0), k, skip)

	if len(results) < k {
		present := make(map[uuid.UUID]struct{}, len(results))
		for _, r := range results {
			present[r.ProductID] = struct{}{}
		}

		// Content neighbors of the most recent products, deduplicated
		// keeping the highest score per product.
		best := make(map[uuid.UUID]float64)
		for _, recent := range gen.Collaborative.RecentProducts(customerID, e.cfg.Hybrid.RecentItems) {
			neighbors, err := gen.Content.Similar(recent, e.cfg.Hybrid.NeighborsPerRecent)
			if err != nil {
				continue
			}
			for _, n := range neighbors {
				if _, ok := present[n.ProductID]; ok {
					continue
				}
				if n.Score > best[n.ProductID] {
					best[n.ProductID] = n.Score
				}
			}
		}
		content := make([]models.ScoredProduct, 0, len(best))
		for product, score := range best {
			content = append(content, models.ScoredProduct{ProductID: product, Score: score, Source: "content"})
		}
		sortScoredDesc(content)
		for _, r := range e.finalize(content, k-len(results), skip) {
			results = append(results, r)
			present[r.ProductID] = struct{}{}
		}

		if len(results) < k {
			trending := gen.Trending.TopK(e.cfg.Trending.DefaultWindow, 2*k+len(skip))
			var pad []models.ScoredProduct
			for _, t := range trending {
				if _, ok := present[t.ProductID]; ok {
					continue
				}
				pad = append(pad, t)
			}
			results = append(results, e.finalize(pad, k-len(results), skip)...)
		}
	}

	e.cacheSet(ctx, key, results)
	e.logServing(ctx, "personalized", &customerID, results)
	return results, false, nil
}

// Trending returns the top-k time-decayed products over the trailing
// window. This operation has no cold-start failure mode.
func (e *Engine) Trending(ctx context.Context, window time.Duration, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error) {
	gen := e.current.Load()
	if gen == nil {
		return nil, false, ErrNoGeneration
	}
	if window <= 0 {
		window = e.cfg.Trending.DefaultWindow
	}
	if window > e.cfg.Trending.MaxWindow {
		window = e.cfg.Trending.MaxWindow
	}

	key := cacheKey(e.cfg.Cache.KeyPrefix, "trending", "", k, window, exclude)
	if cached, ok := e.cacheGet(ctx, key); ok {
		return cached, true, nil
	}
	defer e.observe("trending", time.Now())

	results := e.finalize(gen.Trending.TopK(window, 2*k+len(exclude)), k, excludeSet(exclude))
	e.cacheSet(ctx, key, results)
	e.logServing(ctx, "trending", nil, results)
	return results, false, nil
}

// FrequentlyBoughtTogether ranks co-purchases among the product's
// purchasers. Unknown product ids yield ErrNotFound; a known product
// nobody purchased yields an empty list.
func (e *Engine) FrequentlyBoughtTogether(ctx context.Context, productID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error) {
	gen := e.current.Load()
	if gen == nil {
		return nil, false, ErrNoGeneration
	}
	if !gen.IsActive(productID) {
		return nil, false, ErrNotFound
	}

	key := cacheKey(e.cfg.Cache.KeyPrefix, "fbt", productID.String(), k, 0, exclude)
	if cached, ok := e.cacheGet(ctx, key); ok {
		return cached, true, nil
	}
	defer e.observe("frequently_bought_together", time.Now())

	results := gen.Collaborative.FrequentlyBoughtTogether(productID, k+len(exclude))
	results = e.finalize(results, k, excludeSet(exclude, productID))
	e.cacheSet(ctx, key, results)
	e.logServing(ctx, "frequently_bought_together", &productID, results)
	return results, false, nil
}

// RecentlyViewed returns the customer's most recent distinct views,
// newest first, scored by recency rank.
func (e *Engine) RecentlyViewed(ctx context.Context, customerID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error) {
	gen := e.current.Load()
	if gen == nil {
		return nil, false, ErrNoGeneration
	}

	key := cacheKey(e.cfg.Cache.KeyPrefix, "recent", customerID.String(), k, 0, exclude)
	if cached, ok := e.cacheGet(ctx, key); ok {
		return cached, true, nil
	}
	defer e.observe("recently_viewed", time.Now())

	views := gen.Collaborative.RecentViews(customerID, k+len(exclude))
	scored := make([]models.ScoredProduct, 0, len(views))
	for i, product := range views {
		scored = append(scored, models.ScoredProduct{
			ProductID: product,
			Score:     1 / float64(i+1),
			Source:    "recent",
		})
	}
	results := e.finalize(scored, k, excludeSet(exclude))
	e.cacheSet(ctx, key, results)
	return results, false, nil
}

// finalize filters against the live catalog and the skip set, then
// caps at k. Input order is preserved.
func (e *Engine) finalize(in []models.ScoredProduct, k int, skip map[uuid.UUID]struct{}) []models.ScoredProduct {
	out := make([]models.ScoredProduct, 0, min(k, len(in)))
	for _, item := range in {
		if len(out) == k {
			break
		}
		if _, ok := skip[item.ProductID]; ok {
			continue
		}
		if !e.isActive(item.ProductID) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func excludeSet(ids []uuid.UUID, extra ...uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids)+len(extra))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, id := range extra {
		set[id] = struct{}{}
	}
	return set
}

// padWith appends items from pad that are not already present, up to
// limit, keeping both relative orders.
func padWith(base, pad []models.ScoredProduct, limit int) []models.ScoredProduct {
	present := make(map[uuid.UUID]struct{}, len(base))
	for _, b := range base {
		present[b.ProductID] = struct{}{}
	}
	for _, p := range pad {
		if len(base) >= limit {
			break
		}
		if _, ok := present[p.ProductID]; ok {
			continue
		}
		base = append(base, p)
		present[p.ProductID] = struct{}{}
	}
	return base
}

func (e *Engine) cacheGet(ctx context.Context, key string) ([]models.ScoredProduct, bool) {
	if e.cache == nil || !e.cfg.Cache.Enabled {
		return nil, false
	}
	products, ok := e.cache.Get(ctx, key)
	if ok {
		e.metrics.CacheRequests.WithLabelValues("hit").Inc()
		return products, true
	}
	e.metrics.CacheRequests.WithLabelValues("miss").Inc()
	return nil, false
}

func (e *Engine) cacheSet(ctx context.Context, key string, products []models.ScoredProduct) {
	if e.cache == nil || !e.cfg.Cache.Enabled {
		return
	}
	e.cache.Set(ctx, key, products)
}

func (e *Engine) observe(op string, start time.Time) {
	e.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) logServing(ctx context.Context, op string, subject *uuid.UUID, results []models.ScoredProduct) {
	if e.servingLog == nil || len(results) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.ProductID
	}
	entry := models.ServingLogEntry{
		ID:         uuid.New(),
		Operation:  op,
		SubjectID:  subject,
		ProductIDs: ids,
		ServedAt:   time.Now(),
	}
	go func() {
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.servingLog.RecordServing(logCtx, entry); err != nil {
			e.logger.WithError(err).Debug("Serving log write failed")
		}
	}()
}
