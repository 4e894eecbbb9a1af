package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoredProduct is one entry of a ranked result list.
type ScoredProduct struct {
	ProductID uuid.UUID `json:"product_id"`
	Score     float64   `json:"score"`
	Source    string    `json:"source"`
}

// RecommendationResponse is the envelope every ranking operation returns.
type RecommendationResponse struct {
	Operation   string          `json:"operation"`
	SubjectID   *uuid.UUID      `json:"subject_id,omitempty"`
	Products    []ScoredProduct `json:"products"`
	GeneratedAt time.Time       `json:"generated_at"`
	CacheHit    bool            `json:"cache_hit"`
}

// ServingLogEntry records one served ranking operation for offline
// click-through analysis. Written best-effort, off the query hot path.
type ServingLogEntry struct {
	ID         uuid.UUID   `json:"id"`
	Operation  string      `json:"operation"`
	SubjectID  *uuid.UUID  `json:"subject_id,omitempty"`
	ProductIDs []uuid.UUID `json:"product_ids"`
	ServedAt   time.Time   `json:"served_at"`
}
