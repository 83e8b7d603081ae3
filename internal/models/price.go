package models

import (
	"errors"
	"time"
)

// Price history sources.
const (
	SourceTick      = "tick"
	SourceRebalance = "rebalance"
	SourceManual    = "manual"
)

// PriceUpdate is one row of a batched price write.
type PriceUpdate struct {
	DrinkID  int64 `json:"drink_id"`
	OldPrice Cents `json:"old_price_cents"`
	NewPrice Cents `json:"new_price_cents"`
}

// PriceDelta is a signed correction applied by the rebalancer.
type PriceDelta struct {
	DrinkID int64 `json:"drink_id"`
	Delta   Cents `json:"delta_cents"`
}

// PricePoint is a point in a drink's price history.
type PricePoint struct {
	ID      string    `json:"id"`
	DrinkID int64     `json:"drink_id"`
	Price   Cents     `json:"price_cents"`
	At      time.Time `json:"ts"`
	Source  string    `json:"source"` // "tick", "rebalance" or "manual"
}

// Validate checks that all price point fields are valid
func (p *PricePoint) Validate() error {
	if p.ID == "" {
		return errors.New("price point ID must not be empty")
	}
	if p.DrinkID <= 0 {
		return errors.New("drink ID must be positive")
	}
	if p.Price <= 0 {
		return errors.New("price must be positive")
	}
	if p.At.After(time.Now().Add(time.Minute)) {
		return errors.New("timestamp must not be in the future")
	}
	switch p.Source {
	case SourceTick, SourceRebalance, SourceManual:
	default:
		return errors.New("source must be 'tick', 'rebalance' or 'manual'")
	}
	return nil
}
