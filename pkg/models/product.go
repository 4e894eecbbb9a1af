package models

import (
	"github.com/google/uuid"
)

// Product is one row of the catalog snapshot. The engine only reads the
// fields it vectorizes plus the active flag; everything else about a
// product lives in the surrounding platform.
type Product struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Brand       string    `json:"brand"`
	IsActive    bool      `json:"is_active"`
}

// TextFields returns the designated text fields concatenated for
// vectorization, in a fixed order so rebuilds are reproducible.
func (p *Product) TextFields() []string {
	return []string{p.Name, p.Description, p.Category, p.Brand}
}
