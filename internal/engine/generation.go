package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/pkg/models"
)

// InteractionFeed is the engine's read view of the append-only
// interaction log. The feed itself is owned by the surrounding platform.
type InteractionFeed interface {
	FetchEvents(ctx context.Context, since time.Time) ([]models.InteractionEvent, error)
}

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	FetchActiveProducts(ctx context.Context) ([]models.Product, error)
}

// Generation is one immutable, internally consistent set of snapshot
// structures produced by a single rebuild cycle. Readers obtain a
// generation through a single atomic pointer dereference and never see
// a mix of old and new structures.
type Generation struct {
	Seq     uint64
	BuiltAt time.Time

	Vectors       map[uuid.UUID]*TermVector
	Content       *ContentIndex
	Collaborative *CollaborativeIndex
	Trending      *TrendingIndex

	// Active products as of this generation's catalog snapshot.
	Catalog map[uuid.UUID]models.Product
}

// BuildGeneration pulls the catalog snapshot and the bounded interaction
// window and rebuilds all four snapshot structures from scratch. builtAt
// is the generation's reference clock: two builds from identical sources
// with the same builtAt produce identical generations.
func BuildGeneration(
	ctx context.Context,
	feed InteractionFeed,
	catalog CatalogSource,
	cfg *config.EngineConfig,
	seq uint64,
	builtAt time.Time,
) (*Generation, error) {
	products, err := catalog.FetchActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot unavailable: %w", err)
	}

	lookback := cfg.Collaborative.Lookback
	if cfg.Trending.MaxWindow > lookback {
		lookback = cfg.Trending.MaxWindow
	}
	events, err := feed.FetchEvents(ctx, builtAt.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("interaction feed unavailable: %w", err)
	}

	gen := &Generation{
		Seq:     seq,
		BuiltAt: builtAt,
		Catalog: make(map[uuid.UUID]models.Product, len(products)),
	}

	docs := make(map[uuid.UUID][]string, len(products))
	allDocs := make([][]string, 0, len(products))
	for _, p := range products {
		if !p.IsActive {
			continue
		}
		gen.Catalog[p.ID] = p
		tokens := TokenizeFields(cfg.Vectorizer, p.TextFields())
		docs[p.ID] = tokens
		allDocs = append(allDocs, tokens)
	}
	vz := NewVectorizer(cfg.Vectorizer, allDocs)

	// Products whose text yields no terms are excluded from the content
	// index; they fall back to trending and collaborative signals.
	gen.Vectors = make(map[uuid.UUID]*TermVector, len(gen.Catalog))
	for id, tokens := range docs {
		if vec := vz.Vectorize(tokens); vec != nil {
			gen.Vectors[id] = vec
		}
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		gen.Content = BuildContentIndex(gen.Vectors, cfg.Content.TopK)
		return nil
	})
	g.Go(func() error {
		gen.Collaborative = BuildCollaborativeIndex(events, cfg.Collaborative, &cfg.Weights, builtAt)
		return nil
	})
	g.Go(func() error {
		gen.Trending = BuildTrendingIndex(events, cfg.Trending, &cfg.Weights, builtAt)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return gen, nil
}

// IsActive reports whether the product is in this generation's catalog.
func (g *Generation) IsActive(productID uuid.UUID) bool {
	_, ok := g.Catalog[productID]
	return ok
}
