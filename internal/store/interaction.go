package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/pkg/models"
)

// Querier is the subset of pgxpool.Pool the stores need; pgxmock
// implements it for tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// InteractionStore reads the append-only interaction feed and appends
// write-through events to it. The feed's schema is owned by the
// surrounding platform; the engine never updates or deletes rows.
type InteractionStore struct {
	db     Querier
	logger *logrus.Logger
}

func NewInteractionStore(db Querier, logger *logrus.Logger) *InteractionStore {
	return &InteractionStore{db: db, logger: logger}
}

// FetchEvents returns all events at or after the given timestamp,
// oldest first.
func (s *InteractionStore) FetchEvents(ctx context.Context, since time.Time) ([]models.InteractionEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, actor_id, product_id, kind, occurred_at,
		       source, search_query, referrer_url, duration_seconds, position
		FROM interaction_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC, id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	var events []models.InteractionEvent
	for rows.Next() {
		var ev models.InteractionEvent
		var source, query, referrer *string
		var duration, position *int

		if err := rows.Scan(&ev.ID, &ev.ActorID, &ev.ProductID, &ev.Kind, &ev.Timestamp,
			&source, &query, &referrer, &duration, &position); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if source != nil || query != nil || referrer != nil || duration != nil || position != nil {
			ev.Context = &models.InteractionContext{
				Duration: duration,
				Position: position,
			}
			if source != nil {
				ev.Context.Source = *source
			}
			if query != nil {
				ev.Context.SearchQuery = *query
			}
			if referrer != nil {
				ev.Context.ReferrerURL = *referrer
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return events, nil
}

// AppendEvent appends one tracked interaction to the feed.
func (s *InteractionStore) AppendEvent(ctx context.Context, ev models.InteractionEvent) error {
	var source, query, referrer *string
	var duration, position *int
	if ev.Context != nil {
		if ev.Context.Source != "" {
			source = &ev.Context.Source
		}
		if ev.Context.SearchQuery != "" {
			query = &ev.Context.SearchQuery
		}
		if ev.Context.ReferrerURL != "" {
			referrer = &ev.Context.ReferrerURL
		}
		duration = ev.Context.Duration
		position = ev.Context.Position
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO interaction_events
			(id, actor_id, product_id, kind, occurred_at,
			 source, search_query, referrer_url, duration_seconds, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.ActorID, ev.ProductID, ev.Kind, ev.Timestamp,
		source, query, referrer, duration, position)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// RecordServing writes one served ranking to the recommendation serving
// log for offline click-through analysis.
func (s *InteractionStore) RecordServing(ctx context.Context, entry models.ServingLogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO recommendation_servings (id, operation, subject_id, product_ids, served_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Operation, entry.SubjectID, entry.ProductIDs, entry.ServedAt)
	if err != nil {
		return fmt.Errorf("record serving: %w", err)
	}
	return nil
}
