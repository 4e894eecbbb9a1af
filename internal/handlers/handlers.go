package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/merchforge/lattice/pkg/models"
)

// Recommender is the query surface the HTTP layer needs from the
// engine. Each call reports whether the result came from the cache.
type Recommender interface {
	SimilarProducts(ctx context.Context, productID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error)
	Personalized(ctx context.Context, customerID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error)
	Trending(ctx context.Context, window time.Duration, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error)
	FrequentlyBoughtTogether(ctx context.Context, productID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error)
	RecentlyViewed(ctx context.Context, customerID uuid.UUID, k int, exclude []uuid.UUID) ([]models.ScoredProduct, bool, error)
}

// Handlers bundles the HTTP handlers for router wiring.
type Handlers struct {
	Recommendation *RecommendationHandler
	Interaction    *InteractionHandler
	Health         *HealthHandler
}
