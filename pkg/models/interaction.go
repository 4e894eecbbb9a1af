package models

import (
	"time"

	"github.com/google/uuid"
)

// Interaction kinds, ordered by intent strength. The per-kind weights live
// in config; changing them requires a full rebuild.
const (
	InteractionView     = "view"
	InteractionCart     = "cart"
	InteractionWishlist = "wishlist"
	InteractionPurchase = "purchase"
	InteractionSearch   = "search"
)

// InteractionEvent is one append-only record from the interaction feed.
// ActorID is a customer id for authenticated traffic or a session id for
// anonymous traffic; the engine treats both uniformly.
type InteractionEvent struct {
	ID        uuid.UUID           `json:"id"`
	ActorID   uuid.UUID           `json:"actor_id"`
	ProductID uuid.UUID           `json:"product_id"`
	Kind      string              `json:"kind"`
	Timestamp time.Time           `json:"timestamp"`
	Context   *InteractionContext `json:"context,omitempty"`
}

// InteractionContext carries the optional tracking metadata recorded with
// an event. None of it affects ranking; it is kept for offline analysis.
type InteractionContext struct {
	Source      string `json:"source,omitempty"`
	SearchQuery string `json:"search_query,omitempty"`
	ReferrerURL string `json:"referrer_url,omitempty"`
	Duration    *int   `json:"duration_seconds,omitempty"`
	Position    *int   `json:"position,omitempty"`
}

// TrackInteractionRequest is the write-through ingest payload.
type TrackInteractionRequest struct {
	ActorID   uuid.UUID `json:"actor_id" validate:"required"`
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Kind      string    `json:"kind" validate:"required,oneof=view cart wishlist purchase search"`
	Source    string    `json:"source,omitempty"`
	Query     string    `json:"search_query,omitempty"`
	Referrer  string    `json:"referrer_url,omitempty"`
	Duration  *int      `json:"duration_seconds,omitempty" validate:"omitempty,min=0"`
	Position  *int      `json:"position,omitempty" validate:"omitempty,min=0"`
}
