package models

import "time"

// DrinkView is how drinks go over the wire to the board displays: decimal
// prices next to the exact cents.
type DrinkView struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Category           Category   `json:"category"`
	Color              string     `json:"color,omitempty"`
	Price              float64    `json:"price"`
	PriceCents         int64      `json:"price_cents"`
	BasePrice          float64    `json:"base_price"`
	MinPrice           float64    `json:"min_price"`
	MaxPrice           float64    `json:"max_price"`
	ExpectedPopularity float64    `json:"expected_popularity"`
	Locked             bool       `json:"locked"`
	LockTS             *time.Time `json:"lock_ts"`
}

// View renders d for display.
func (d Drink) View() DrinkView {
	v := DrinkView{
		ID:                 d.ID,
		Name:               d.Name,
		Category:           d.Category,
		Color:              d.Color,
		Price:              d.Price.Float(),
		PriceCents:         int64(d.Price),
		BasePrice:          d.BasePrice.Float(),
		MinPrice:           d.MinPrice.Float(),
		MaxPrice:           d.MaxPrice.Float(),
		ExpectedPopularity: d.ExpectedPopularity,
		Locked:             d.Locked,
	}
	if !d.LockChangedAt.IsZero() {
		ts := d.LockChangedAt
		v.LockTS = &ts
	}
	return v
}

// BoardView is the display form of a Board.
type BoardView struct {
	Drinks []DrinkView `json:"drinks"`
	Crash  bool        `json:"crash"`
	At     int64       `json:"ts"` // unix milliseconds
}

// View renders b for display.
func (b Board) View() BoardView {
	v := BoardView{Drinks: make([]DrinkView, 0, len(b.Drinks)), Crash: b.Crash, At: b.At.UnixMilli()}
	for _, d := range b.Drinks {
		v.Drinks = append(v.Drinks, d.View())
	}
	return v
}

// Drink converts a view received over the wire back into a Drink. Pricing
// parameters that views omit are left zero.
func (v DrinkView) Drink() Drink {
	d := Drink{
		ID:                 v.ID,
		Name:               v.Name,
		Category:           v.Category,
		Color:              v.Color,
		Price:              Cents(v.PriceCents),
		BasePrice:          CentsFromFloat(v.BasePrice),
		MinPrice:           CentsFromFloat(v.MinPrice),
		MaxPrice:           CentsFromFloat(v.MaxPrice),
		ExpectedPopularity: v.ExpectedPopularity,
		Locked:             v.Locked,
	}
	if v.LockTS != nil {
		d.LockChangedAt = *v.LockTS
	}
	return d
}
