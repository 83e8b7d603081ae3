package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// ErrBandViolation means a clamped price still fell outside its band, which
// only happens when the band itself is inverted.
var ErrBandViolation = errors.New("price outside band after clamping")

// capEpsilon absorbs float noise in price×(1±Δmax) before truncating to cents.
const capEpsilon = 1e-9

// Params are the per-drink knobs of the adjustment formula.
type Params struct {
	Gamma    float64
	DeltaMax float64
	Min      models.Cents
	Max      models.Cents
}

// ParamsOf extracts the pricing parameters of d.
func ParamsOf(d models.Drink) Params {
	return Params{Gamma: d.Gamma, DeltaMax: d.DeltaMax, Min: d.MinPrice, Max: d.MaxPrice}
}

// StepBounds returns the lowest and highest price reachable from current in
// one tick. Bounds are rounded toward current so that rounding never lets a
// price move further than Δmax.
func StepBounds(current models.Cents, deltaMax float64) (lo, hi models.Cents) {
	lo = models.Cents(math.Ceil(float64(current)*(1-deltaMax) - capEpsilon))
	hi = models.Cents(math.Floor(float64(current)*(1+deltaMax) + capEpsilon))
	return lo, hi
}

// Adjust returns the new price for a drink currently at current.
// multiplier is the global modifier (crash mode); values <= 0 mean none.
// On ErrBandViolation the returned price is current.
func Adjust(current models.Cents, p Params, s Share, multiplier float64) (models.Cents, error) {
	if multiplier <= 0 {
		multiplier = 1
	}
	raw := float64(current) * (1 + p.Gamma*(s.Realized-s.Expected)) * multiplier

	next := models.Cents(math.Round(raw))
	lo, hi := StepBounds(current, p.DeltaMax)
	next = clamp(next, lo, hi)
	next = clamp(next, p.Min, p.Max)

	if next < p.Min || next > p.Max {
		return current, fmt.Errorf("%w: %s not in [%s, %s]", ErrBandViolation, next, p.Min, p.Max)
	}
	return next, nil
}

// Violation records a drink that was held at its price because the adjusted
// value broke the band invariant.
type Violation struct {
	DrinkID int64
	Err     error
}

func (v Violation) Error() string {
	return fmt.Sprintf("drink %d: %v", v.DrinkID, v.Err)
}

// PlanTick computes the price updates for the unlocked drinks of one category.
// Drinks whose rounded price does not change are left out. A distribution
// without signal yields no updates.
func PlanTick(unlocked []models.Drink, dist Distribution, multiplier float64) ([]models.PriceUpdate, []Violation) {
	if !dist.HasSignal() {
		return nil, nil
	}

	var updates []models.PriceUpdate
	var violations []Violation
	for _, d := range unlocked {
		if d.Locked {
			continue
		}
		next, err := Adjust(d.Price, ParamsOf(d), dist.Shares[d.ID], multiplier)
		if err != nil {
			violations = append(violations, Violation{DrinkID: d.ID, Err: err})
			continue
		}
		if next == d.Price {
			continue
		}
		updates = append(updates, models.PriceUpdate{DrinkID: d.ID, OldPrice: d.Price, NewPrice: next})
	}
	return updates, violations
}

// Drop is how far a drink trades below its base price.
type Drop struct {
	Drink  models.Drink
	Amount models.Cents
}

// StrongestDrops returns the drinks of category trading below base price,
// largest drop first, at most limit entries (limit <= 0 means all).
func StrongestDrops(drinks []models.Drink, category models.Category, limit int) []Drop {
	var drops []Drop
	for _, d := range drinks {
		if d.Category != category {
			continue
		}
		if amount := d.BasePrice - d.Price; amount > 0 {
			drops = append(drops, Drop{Drink: d, Amount: amount})
		}
	}
	sort.SliceStable(drops, func(i, j int) bool {
		return drops[i].Amount > drops[j].Amount
	})
	if limit > 0 && len(drops) > limit {
		drops = drops[:limit]
	}
	return drops
}

func clamp(v, lo, hi models.Cents) models.Cents {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
