// Package models defines the core domain entities for tapmarket.
// These models represent the drinks on the board, the sales ledger, the
// global market status, and the price history produced by the pricing engine.
// All models include built-in validation so bad rows are rejected before they
// reach the store.
//
// Terminology:
//   - Drink: a priced catalog entry whose price floats inside its band.
//   - Category: the partition that scopes demand shares and price conservation.
//   - Sale: an immutable purchase record; the ledger is append-only.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Category partitions the catalog. Shares and conservation are computed per
// category, never across the whole board.
type Category string

const (
	CategoryAlcoholic    Category = "alcoholic"
	CategoryNonAlcoholic Category = "non_alcoholic"
)

// Categories lists every category in the order passes visit them.
var Categories = []Category{CategoryAlcoholic, CategoryNonAlcoholic}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps a config or query string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Drink is a priced catalog entry together with its pricing parameters.
type Drink struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Category           Category  `json:"category"`
	Color              string    `json:"color,omitempty"`
	Price              Cents     `json:"price_cents"`
	BasePrice          Cents     `json:"base_price_cents"`
	MinPrice           Cents     `json:"min_price_cents"`
	MaxPrice           Cents     `json:"max_price_cents"`
	ExpectedPopularity float64   `json:"expected_popularity"`
	Gamma              float64   `json:"gamma"`
	DeltaMax           float64   `json:"delta_max"`
	Locked             bool      `json:"locked"`
	LockChangedAt      time.Time `json:"lock_changed_at,omitempty"` // zero if never toggled
}

// Validate checks that all drink fields are valid.
func (d *Drink) Validate() error {
	if d.Name == "" {
		return errors.New("drink name must not be empty")
	}
	if !d.Category.Valid() {
		return errors.New("drink category must be alcoholic or non_alcoholic")
	}
	if d.MinPrice <= 0 {
		return errors.New("min price must be positive")
	}
	if d.MinPrice > d.MaxPrice {
		return errors.New("min price must be <= max price")
	}
	if !d.InBand(d.Price) {
		return errors.New("price must be within [min price, max price]")
	}
	if !d.InBand(d.BasePrice) {
		return errors.New("base price must be within [min price, max price]")
	}
	if d.ExpectedPopularity < 0 {
		return errors.New("expected popularity must not be negative")
	}
	if d.Gamma <= 0 {
		return errors.New("gamma must be positive")
	}
	if d.DeltaMax <= 0 || d.DeltaMax >= 1 {
		return errors.New("delta max must be between 0.0 and 1.0 (exclusive)")
	}
	if d.LockChangedAt.After(time.Now()) {
		return errors.New("lock changed at must not be in the future")
	}
	return nil
}

// InBand reports whether p lies inside the drink's [MinPrice, MaxPrice] band.
func (d *Drink) InBand(p Cents) bool {
	return p >= d.MinPrice && p <= d.MaxPrice
}

// MarketStatus holds the process-wide flags set by the control surface.
type MarketStatus struct {
	Crash     bool      `json:"crash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Board is the committed state of the whole market at one moment, as shown
// on the price screens.
type Board struct {
	Drinks []Drink   `json:"drinks"`
	Crash  bool      `json:"crash"`
	At     time.Time `json:"at"`
}
