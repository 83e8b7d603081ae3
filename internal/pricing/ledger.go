// Package pricing holds the pure arithmetic of the drinks exchange: sales
// attribution, demand shares, bounded price adjustment, and the integer
// apportionment used to conserve price mass within a category.
//
// A tick moves each unlocked drink in a category by
//
//	raw        = price × (1 + γ × (realizedShare − expectedShare))
//	stepCapped = clamp(raw, price×(1−Δmax), price×(1+Δmax))
//	final      = clamp(stepCapped, minPrice, maxPrice)
//
// The step cap bounds how fast a price moves in one tick, the band bounds
// where it may go. Both shares are computed over the unlocked drinks of one
// category only.
//
// Nothing in this package touches the store or the clock; the engine feeds it
// rows read inside a transaction and persists what it returns.
package pricing

import (
	"time"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// Window is the trailing sales window [Start, End], inclusive at both ends.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window of the given length ending at now.
func NewWindow(now time.Time, length time.Duration) Window {
	return Window{Start: now.Add(-length), End: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// LockState is the lock information attribution needs for one drink.
type LockState struct {
	Locked    bool
	ChangedAt time.Time
}

// LockStateOf extracts the lock state of d.
func LockStateOf(d models.Drink) LockState {
	return LockState{Locked: d.Locked, ChangedAt: d.LockChangedAt}
}

// UnlockedAt reports whether the drink was unlocked at the moment of a sale.
// Only the most recent transition is known: if it happened inside w, sales
// before it saw the opposite of the current state.
func (s LockState) UnlockedAt(saleAt time.Time, w Window) bool {
	unlocked := !s.Locked
	if !s.ChangedAt.IsZero() && w.Contains(s.ChangedAt) && saleAt.Before(s.ChangedAt) {
		return !unlocked
	}
	return unlocked
}

// Attribution is the result of reading one drink's ledger for a window.
type Attribution struct {
	DrinkID  int64
	Unlocked int // units sold while the drink was unlocked; counts toward demand
	Locked   int // units sold while locked; kept in the ledger, ignored by pricing
}

// Attribute splits the units in sales by the lock state in effect at each
// sale. Sales outside w are ignored.
func Attribute(drinkID int64, sales []models.Sale, state LockState, w Window) Attribution {
	a := Attribution{DrinkID: drinkID}
	for _, sale := range sales {
		if !w.Contains(sale.At) {
			continue
		}
		if state.UnlockedAt(sale.At, w) {
			a.Unlocked += sale.Qty
		} else {
			a.Locked += sale.Qty
		}
	}
	return a
}
