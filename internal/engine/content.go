package engine

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/merchforge/lattice/pkg/models"
)

// Neighbor is one precomputed nearest neighbor.
type Neighbor struct {
	ProductID uuid.UUID
	Score     float64
}

// ContentIndex maps every vectorizable product to its top-K cosine
// neighbors. Immutable once built; a rebuild produces a fresh index.
type ContentIndex struct {
	neighbors map[uuid.UUID][]Neighbor
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// sortScoredDesc orders by descending score, ties broken by ascending
// product id so identical inputs always rank identically.
func sortScoredDesc(items []models.ScoredProduct) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return lessID(items[i].ProductID, items[j].ProductID)
	})
}

// BuildContentIndex computes pairwise cosine similarities between all
// product vectors and retains the top-K neighbors per product. O(N²·d)
// over the active catalog, which is fine up to the tens of thousands of
// products this platform carries.
func BuildContentIndex(vectors map[uuid.UUID]*TermVector, topK int) *ContentIndex {
	ids := make([]uuid.UUID, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	index := &ContentIndex{neighbors: make(map[uuid.UUID][]Neighbor, len(ids))}

	for _, id := range ids {
		vec := vectors[id]
		candidates := make([]Neighbor, 0, len(ids)-1)
		for _, other := range ids {
			if other == id {
				continue
			}
			sim := vec.Cosine(vectors[other])
			if sim > 0 {
				candidates = append(candidates, Neighbor{ProductID: other, Score: sim})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Score != candidates[j].Score {
				return candidates[i].Score > candidates[j].Score
			}
			return lessID(candidates[i].ProductID, candidates[j].ProductID)
		})
		if topK > 0 && len(candidates) > topK {
			candidates = candidates[:topK]
		}
		index.neighbors[id] = candidates
	}

	return index
}

// Has reports whether the index knows the product.
func (ci *ContentIndex) Has(productID uuid.UUID) bool {
	_, ok := ci.neighbors[productID]
	return ok
}

// Similar returns up to k precomputed neighbors of a product, excluding
// the product itself. Unknown product ids yield ErrNotFound.
func (ci *ContentIndex) Similar(productID uuid.UUID, k int) ([]models.ScoredProduct, error) {
	neighbors, ok := ci.neighbors[productID]
	if !ok {
		return nil, ErrNotFound
	}
	if k > len(neighbors) {
		k = len(neighbors)
	}
	out := make([]models.ScoredProduct, 0, k)
	for _, n := range neighbors[:k] {
		out = append(out, models.ScoredProduct{
			ProductID: n.ProductID,
			Score:     n.Score,
			Source:    "content",
		})
	}
	return out, nil
}
