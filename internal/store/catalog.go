package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/pkg/models"
)

// CatalogStore reads the current catalog snapshot. Category and brand
// arrive denormalized as display names; that is all the vectorizer
// needs.
type CatalogStore struct {
	db     Querier
	logger *logrus.Logger
}

func NewCatalogStore(db Querier, logger *logrus.Logger) *CatalogStore {
	return &CatalogStore{db: db, logger: logger}
}

func (s *CatalogStore) FetchActiveProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.name, COALESCE(p.description, ''),
		       COALESCE(c.name, ''), COALESCE(b.name, ''), p.is_active
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		LEFT JOIN brands b ON b.id = p.brand_id
		WHERE p.is_active = true
		ORDER BY p.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("fetch active products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch active products: %w", err)
	}
	return products, nil
}
