package models

import (
	"errors"
	"time"
)

// Sale is one purchase in the append-only sales ledger.
type Sale struct {
	ID      int64     `json:"id"`
	DrinkID int64     `json:"drink_id"`
	Qty     int       `json:"qty"`
	At      time.Time `json:"ts"`
}

// Validate checks that all sale fields are valid
func (s *Sale) Validate() error {
	if s.DrinkID <= 0 {
		return errors.New("drink ID must be positive")
	}
	if s.Qty <= 0 {
		return errors.New("quantity must be positive")
	}
	if s.At.IsZero() {
		return errors.New("sale timestamp must be set")
	}
	return nil
}
