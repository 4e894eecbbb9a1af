package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/pkg/models"
)

// CustomerNeighbor is one precomputed similar customer.
type CustomerNeighbor struct {
	CustomerID uuid.UUID
	Score      float64
}

// CollaborativeIndex holds the customer profiles, their precomputed
// neighbor lists and the purchase co-occurrence data for one generation.
// Immutable once built.
type CollaborativeIndex struct {
	// actor -> product -> accumulated interaction weight, restricted to
	// the configured profile kinds and lookback window
	profiles map[uuid.UUID]map[uuid.UUID]float64

	// actor -> similar actors, descending score, truncated to max_neighbors
	neighbors map[uuid.UUID][]CustomerNeighbor

	// product -> actors with a purchase event for it
	purchasers map[uuid.UUID]map[uuid.UUID]struct{}

	// actor -> purchased products
	purchased map[uuid.UUID]map[uuid.UUID]struct{}

	// actor -> distinct products, most recent interaction first
	recent map[uuid.UUID][]uuid.UUID

	// actor -> distinct viewed products, most recent view first
	recentViews map[uuid.UUID][]uuid.UUID
}

// BuildCollaborativeIndex derives customer profiles from the interaction
// window and precomputes neighbor lists. Similarity is the weighted
// Jaccard index over each pair's product weight maps, computed only for
// pairs sharing at least one product (found through an inverted
// product -> actors index, never the full cross product). Actors below
// the minimum interaction count are excluded entirely: they get no
// profile and never appear as anyone's neighbor.
func BuildCollaborativeIndex(
	events []models.InteractionEvent,
	cfg config.CollaborativeConfig,
	weights *config.WeightConfig,
	builtAt time.Time,
) *CollaborativeIndex {
	cutoff := builtAt.Add(-cfg.Lookback)
	profileKinds := make(map[string]struct{}, len(cfg.ProfileKinds))
	for _, k := range cfg.ProfileKinds {
		profileKinds[k] = struct{}{}
	}

	idx := &CollaborativeIndex{
		profiles:    make(map[uuid.UUID]map[uuid.UUID]float64),
		neighbors:   make(map[uuid.UUID][]CustomerNeighbor),
		purchasers:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		purchased:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		recent:      make(map[uuid.UUID][]uuid.UUID),
		recentViews: make(map[uuid.UUID][]uuid.UUID),
	}

	interactionCounts := make(map[uuid.UUID]int)

	// Events arrive oldest first from the feed; walk them newest first
	// for the recency lists.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		idx.recent[ev.ActorID] = appendDistinct(idx.recent[ev.ActorID], ev.ProductID)
		if ev.Kind == models.InteractionView {
			idx.recentViews[ev.ActorID] = appendDistinct(idx.recentViews[ev.ActorID], ev.ProductID)
		}
		if ev.Kind == models.InteractionPurchase {
			if idx.purchasers[ev.ProductID] == nil {
				idx.purchasers[ev.ProductID] = make(map[uuid.UUID]struct{})
			}
			idx.purchasers[ev.ProductID][ev.ActorID] = struct{}{}
			if idx.purchased[ev.ActorID] == nil {
				idx.purchased[ev.ActorID] = make(map[uuid.UUID]struct{})
			}
			idx.purchased[ev.ActorID][ev.ProductID] = struct{}{}
		}
		if _, ok := profileKinds[ev.Kind]; !ok {
			continue
		}
		interactionCounts[ev.ActorID]++
		if idx.profiles[ev.ActorID] == nil {
			idx.profiles[ev.ActorID] = make(map[uuid.UUID]float64)
		}
		idx.profiles[ev.ActorID][ev.ProductID] += weights.Of(ev.Kind)
	}

	// Cold customers are dropped before neighbor computation.
	for actor, count := range interactionCounts {
		if count < cfg.MinInteractions {
			delete(idx.profiles, actor)
		}
	}

	// Inverted index over surviving profiles.
	byProduct := make(map[uuid.UUID][]uuid.UUID)
	for actor, profile := range idx.profiles {
		for product := range profile {
			byProduct[product] = append(byProduct[product], actor)
		}
	}

	for actor, profile := range idx.profiles {
		candidates := make(map[uuid.UUID]struct{})
		for product := range profile {
			for _, other := range byProduct[product] {
				if other != actor {
					candidates[other] = struct{}{}
				}
			}
		}
		if len(candidates) == 0 {
			continue
		}
		neighbors := make([]CustomerNeighbor, 0, len(candidates))
		for other := range candidates {
			sim := weightedJaccard(profile, idx.profiles[other])
			if sim > 0 {
				neighbors = append(neighbors, CustomerNeighbor{CustomerID: other, Score: sim})
			}
		}
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].Score != neighbors[j].Score {
				return neighbors[i].Score > neighbors[j].Score
			}
			return lessID(neighbors[i].CustomerID, neighbors[j].CustomerID)
		})
		if cfg.MaxNeighbors > 0 && len(neighbors) > cfg.MaxNeighbors {
			neighbors = neighbors[:cfg.MaxNeighbors]
		}
		idx.neighbors[actor] = neighbors
	}

	return idx
}

func appendDistinct(list []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// weightedJaccard is sum(min)/sum(max) over the union of both weight
// maps; it reduces to the plain Jaccard index for 0/1 weights.
func weightedJaccard(a, b map[uuid.UUID]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var minSum, maxSum float64
	for product, wa := range a {
		if wb, ok := b[product]; ok {
			if wa < wb {
				minSum += wa
				maxSum += wb
			} else {
				minSum += wb
				maxSum += wa
			}
		} else {
			maxSum += wa
		}
	}
	for product, wb := range b {
		if _, ok := a[product]; !ok {
			maxSum += wb
		}
	}
	if maxSum == 0 {
		return 0
	}
	return minSum / maxSum
}

// HasProfile reports whether the customer survived the cold threshold.
func (ci *CollaborativeIndex) HasProfile(customerID uuid.UUID) bool {
	_, ok := ci.profiles[customerID]
	return ok
}

// Profile returns the customer's product weight map, nil for cold
// customers.
func (ci *CollaborativeIndex) Profile(customerID uuid.UUID) map[uuid.UUID]float64 {
	return ci.profiles[customerID]
}

// NeighborsOf returns the precomputed neighbor list.
func (ci *CollaborativeIndex) NeighborsOf(customerID uuid.UUID) []CustomerNeighbor {
	return ci.neighbors[customerID]
}

// RecommendFor aggregates the products the customer's neighbors
// interacted with, weighted by neighbor similarity times profile weight,
// excluding everything already in the customer's own profile. Cold-start
// customers yield an empty result; the hybrid layer owns the fallback.
func (ci *CollaborativeIndex) RecommendFor(customerID uuid.UUID, k int) []models.ScoredProduct {
	neighbors := ci.neighbors[customerID]
	if len(neighbors) == 0 {
		return nil
	}
	own := ci.profiles[customerID]

	scores := make(map[uuid.UUID]float64)
	for _, n := range neighbors {
		for product, weight := range ci.profiles[n.CustomerID] {
			if _, owned := own[product]; owned {
				continue
			}
			scores[product] += n.Score * weight
		}
	}

	out := make([]models.ScoredProduct, 0, len(scores))
	for product, score := range scores {
		out = append(out, models.ScoredProduct{ProductID: product, Score: score, Source: "collaborative"})
	}
	sortScoredDesc(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// FrequentlyBoughtTogether ranks products by how many of the given
// product's purchasers also purchased them. A product nobody purchased
// yields an empty list.
func (ci *CollaborativeIndex) FrequentlyBoughtTogether(productID uuid.UUID, k int) []models.ScoredProduct {
	buyers := ci.purchasers[productID]
	if len(buyers) == 0 {
		return nil
	}

	counts := make(map[uuid.UUID]float64)
	for buyer := range buyers {
		for product := range ci.purchased[buyer] {
			if product == productID {
				continue
			}
			counts[product]++
		}
	}

	out := make([]models.ScoredProduct, 0, len(counts))
	for product, count := range counts {
		out = append(out, models.ScoredProduct{ProductID: product, Score: count, Source: "co_purchase"})
	}
	sortScoredDesc(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// RecentProducts returns the customer's distinct products, most recent
// interaction first, capped at n.
func (ci *CollaborativeIndex) RecentProducts(customerID uuid.UUID, n int) []uuid.UUID {
	recent := ci.recent[customerID]
	if n > 0 && len(recent) > n {
		recent = recent[:n]
	}
	return recent
}

// RecentViews returns the customer's distinct viewed products, most
// recent first, capped at n.
func (ci *CollaborativeIndex) RecentViews(customerID uuid.UUID, n int) []uuid.UUID {
	views := ci.recentViews[customerID]
	if n > 0 && len(views) > n {
		views = views[:n]
	}
	return views
}
